package etl

import (
	"context"
	"fmt"

	"github.com/openmetro/tripwarehouse/internal/aggregates"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// factCheck is one invariant over the finished fact table. A nonzero
// count is a violation.
type factCheck struct {
	name  string
	query string
}

var factChecks = []factCheck{
	{
		name: "orphan_vendor",
		query: `SELECT COUNT(*) FROM fact_trip f
			LEFT JOIN dim_vendor d ON f.vendor_id = d.vendor_id
			WHERE d.vendor_id IS NULL`,
	},
	{
		name: "orphan_pu_location",
		query: `SELECT COUNT(*) FROM fact_trip f
			LEFT JOIN dim_location d ON f.pu_location_id = d.location_id
			WHERE d.location_id IS NULL`,
	},
	{
		name: "orphan_do_location",
		query: `SELECT COUNT(*) FROM fact_trip f
			LEFT JOIN dim_location d ON f.do_location_id = d.location_id
			WHERE d.location_id IS NULL`,
	},
	{
		name: "orphan_payment_type",
		query: `SELECT COUNT(*) FROM fact_trip f
			LEFT JOIN dim_payment_type d ON f.payment_type_id = d.payment_type_id
			WHERE d.payment_type_id IS NULL`,
	},
	{
		name: "orphan_rate_code",
		query: `SELECT COUNT(*) FROM fact_trip f
			LEFT JOIN dim_rate_code d ON f.rate_code_id = d.rate_code_id
			WHERE d.rate_code_id IS NULL`,
	},
	{
		name:  "negative_fare",
		query: `SELECT COUNT(*) FROM fact_trip WHERE fare_amount < 0`,
	},
	{
		name:  "negative_distance",
		query: `SELECT COUNT(*) FROM fact_trip WHERE trip_distance < 0`,
	},
	{
		name:  "negative_duration",
		query: `SELECT COUNT(*) FROM fact_trip WHERE trip_duration_seconds < 0`,
	},
	{
		name:  "duplicate_trip_id",
		query: `SELECT COUNT(*) FROM (SELECT trip_id FROM fact_trip GROUP BY trip_id HAVING COUNT(*) > 1)`,
	},
}

// verifyFacts runs the fact-table invariants and the scope check. Any
// violation fails the build: a generation that breaks an invariant is
// never published.
func verifyFacts(ctx context.Context, db *store.DB, borough string, expectedRows int64) error {
	total, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM fact_trip")
	if err != nil {
		return err
	}
	if total != expectedRows {
		return fmt.Errorf("fact row count mismatch: store has %d, build produced %d", total, expectedRows)
	}

	for _, check := range factChecks {
		n, err := db.QueryInt64(ctx, check.query)
		if err != nil {
			return fmt.Errorf("verify %s: %w", check.name, err)
		}
		if n != 0 {
			return fmt.Errorf("verify %s: %d violating rows", check.name, n)
		}
	}

	// Both trip endpoints must be inside the scoped borough.
	outOfScope, err := db.QueryInt64(ctx, `SELECT COUNT(*) FROM fact_trip f
		JOIN dim_location pu ON f.pu_location_id = pu.location_id
		JOIN dim_location do_ ON f.do_location_id = do_.location_id
		WHERE pu.borough <> ? OR do_.borough <> ?`, borough, borough)
	if err != nil {
		return fmt.Errorf("verify scope: %w", err)
	}
	if outOfScope != 0 {
		return fmt.Errorf("verify scope: %d rows outside %s", outOfScope, borough)
	}

	return nil
}

// aggregateSumChecks returns the count-consistency rules for one
// aggregate: each pairs a summed-count query with the query it must
// equal.
func aggregateSumChecks(name string) []aggregateCheck {
	const factCount = "SELECT COUNT(*) FROM fact_trip"

	switch name {
	case "zone_activity":
		return []aggregateCheck{
			{sum: "SELECT COALESCE(SUM(pickup_count), 0) FROM mv_zone_pickup", expect: factCount},
			{sum: "SELECT COALESCE(SUM(dropoff_count), 0) FROM mv_zone_dropoff", expect: factCount},
		}
	case "hourly_demand":
		return []aggregateCheck{
			{sum: "SELECT COALESCE(SUM(trip_count), 0) FROM mv_hourly_demand", expect: factCount},
		}
	case "od_flows":
		// The threshold drops low-volume pairs, so the sum must match
		// the fact rows belonging to the pairs that qualified.
		return []aggregateCheck{
			{
				sum: "SELECT COALESCE(SUM(trip_count), 0) FROM mv_od_flows",
				expect: `SELECT COUNT(*) FROM fact_trip f
					JOIN mv_od_flows o
					ON f.pu_location_id = o.pu_location_id AND f.do_location_id = o.do_location_id`,
			},
		}
	case "vendor_performance":
		return []aggregateCheck{
			{sum: "SELECT COALESCE(SUM(trip_count), 0) FROM mv_vendor_performance", expect: factCount},
		}
	case "payment_patterns":
		return []aggregateCheck{
			{sum: "SELECT COALESCE(SUM(trip_count), 0) FROM mv_payment_patterns", expect: factCount},
		}
	}
	return nil
}

type aggregateCheck struct {
	sum    string
	expect string
}

// verifyAggregate checks that an aggregate's counts reconcile with the
// fact table. A mismatch demotes the aggregate to failed; its tables
// are dropped so no reader ever sees an inconsistent rollup.
func verifyAggregate(ctx context.Context, db *store.DB, def *aggregates.Definition) error {
	for _, check := range aggregateSumChecks(def.Name) {
		got, err := db.QueryInt64(ctx, check.sum)
		if err != nil {
			return fmt.Errorf("verify aggregate %s: %w", def.Name, err)
		}
		want, err := db.QueryInt64(ctx, check.expect)
		if err != nil {
			return fmt.Errorf("verify aggregate %s: %w", def.Name, err)
		}
		if got != want {
			return fmt.Errorf("aggregate %s count mismatch: sum %d, fact rows %d", def.Name, got, want)
		}
	}
	return nil
}
