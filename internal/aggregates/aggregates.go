// Package aggregates builds the materialized aggregate tables over a
// finished fact table. Aggregates are derived state: each one is built
// independently and a failure drops its tables rather than failing the
// generation.
package aggregates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmetro/tripwarehouse/internal/logging"
	"github.com/openmetro/tripwarehouse/internal/metrics"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// Definition is one aggregate: a name, the tables it owns, and the
// statements that populate them. Multi-table aggregates succeed or fail
// as a unit.
type Definition struct {
	Name       string
	Tables     []string
	Statements []string
}

// Result reports one aggregate build.
type Result struct {
	Name     string
	Rows     int64
	Duration time.Duration
	Err      error
}

// Definitions returns the aggregate set. odMinTrips is the volume
// threshold below which an origin-destination pair is omitted from
// mv_od_flows.
func Definitions(odMinTrips int) []Definition {
	return []Definition{
		{
			Name:   "zone_activity",
			Tables: []string{"mv_zone_pickup", "mv_zone_dropoff"},
			Statements: []string{
				`CREATE TABLE mv_zone_pickup AS
				SELECT
					pu_location_id AS location_id,
					COUNT(*) AS pickup_count,
					AVG(fare_amount) AS avg_fare,
					AVG(trip_distance) AS avg_distance,
					AVG(trip_duration_seconds) AS avg_duration,
					PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY fare_amount) AS median_fare
				FROM fact_trip
				GROUP BY pu_location_id`,
				`CREATE TABLE mv_zone_dropoff AS
				SELECT
					do_location_id AS location_id,
					COUNT(*) AS dropoff_count,
					AVG(fare_amount) AS avg_fare,
					AVG(trip_distance) AS avg_distance
				FROM fact_trip
				GROUP BY do_location_id`,
			},
		},
		{
			Name:   "hourly_demand",
			Tables: []string{"mv_hourly_demand"},
			Statements: []string{
				`CREATE TABLE mv_hourly_demand AS
				SELECT
					pickup_date,
					pickup_hour,
					pickup_day_of_week,
					is_weekend,
					COUNT(*) AS trip_count,
					AVG(fare_amount) AS avg_fare,
					SUM(total_amount) AS total_revenue,
					AVG(trip_distance) AS avg_distance,
					AVG(passenger_count) AS avg_passengers
				FROM fact_trip
				GROUP BY pickup_date, pickup_hour, pickup_day_of_week, is_weekend`,
			},
		},
		{
			Name:   "od_flows",
			Tables: []string{"mv_od_flows"},
			Statements: []string{
				fmt.Sprintf(`CREATE TABLE mv_od_flows AS
				SELECT
					pu_location_id,
					do_location_id,
					COUNT(*) AS trip_count,
					AVG(fare_amount) AS avg_fare,
					AVG(trip_distance) AS avg_distance,
					AVG(trip_duration_seconds) AS avg_duration_sec,
					PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY fare_amount) AS median_fare,
					PERCENTILE_CONT(0.9) WITHIN GROUP (ORDER BY fare_amount) AS p90_fare
				FROM fact_trip
				GROUP BY pu_location_id, do_location_id
				HAVING COUNT(*) >= %d`, odMinTrips),
			},
		},
		{
			Name:   "vendor_performance",
			Tables: []string{"mv_vendor_performance"},
			Statements: []string{
				`CREATE TABLE mv_vendor_performance AS
				SELECT
					vendor_id,
					COUNT(*) AS trip_count,
					AVG(fare_amount) AS avg_fare,
					AVG(tip_amount) AS avg_tip,
					AVG(trip_distance) AS avg_distance,
					AVG(trip_duration_seconds) AS avg_duration_sec,
					SUM(CASE WHEN store_and_fwd_flag = 'Y' THEN 1 ELSE 0 END) AS store_fwd_count,
					AVG(passenger_count) AS avg_passengers
				FROM fact_trip
				GROUP BY vendor_id`,
			},
		},
		{
			Name:   "payment_patterns",
			Tables: []string{"mv_payment_patterns"},
			Statements: []string{
				`CREATE TABLE mv_payment_patterns AS
				SELECT
					payment_type_id,
					pickup_hour,
					is_weekend,
					COUNT(*) AS trip_count,
					AVG(tip_amount) AS avg_tip,
					AVG(fare_amount) AS avg_fare,
					AVG(CASE WHEN fare_amount > 0 THEN (tip_amount / fare_amount) * 100 ELSE NULL END) AS avg_tip_pct,
					SUM(CASE WHEN tip_amount > 0 THEN 1 ELSE 0 END) AS trips_with_tip,
					COUNT(*) - SUM(CASE WHEN tip_amount > 0 THEN 1 ELSE 0 END) AS trips_no_tip
				FROM fact_trip
				GROUP BY payment_type_id, pickup_hour, is_weekend`,
			},
		},
	}
}

// BuildAll builds every aggregate concurrently. The fact table must be
// complete and indexed before this runs. A failed aggregate has its
// tables dropped and its error recorded; the other aggregates proceed.
func BuildAll(ctx context.Context, db *store.DB, defs []Definition) []Result {
	log := logging.Component("aggregates")
	m := metrics.Get()

	results := make([]Result, len(defs))
	var wg sync.WaitGroup
	for i := range defs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = buildOne(ctx, db, &defs[i], log)
		}(i)
	}
	wg.Wait()

	for i := range results {
		r := &results[i]
		if m != nil {
			m.SetAggregateStatus(r.Name, r.Err == nil)
			m.ObserveAggregateDuration(r.Name, r.Duration.Seconds())
		}
		if r.Err != nil {
			log.Error("aggregate build failed", "aggregate", r.Name, "error", r.Err)
			continue
		}
		log.Info("aggregate built",
			"aggregate", r.Name,
			"rows", r.Rows,
			"duration_ms", r.Duration.Milliseconds(),
		)
	}
	return results
}

func buildOne(ctx context.Context, db *store.DB, def *Definition, log *slog.Logger) Result {
	start := time.Now()
	res := Result{Name: def.Name}

	for _, stmt := range def.Statements {
		if err := db.Exec(ctx, stmt); err != nil {
			res.Err = fmt.Errorf("build aggregate %s: %w", def.Name, err)
			dropTables(ctx, db, def, log)
			res.Duration = time.Since(start)
			return res
		}
	}

	for _, table := range def.Tables {
		rows, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			res.Err = fmt.Errorf("count aggregate table %s: %w", table, err)
			dropTables(ctx, db, def, log)
			res.Duration = time.Since(start)
			return res
		}
		res.Rows += rows
	}

	res.Duration = time.Since(start)
	return res
}

// dropTables removes every table of a failed aggregate so a generation
// never carries a partial aggregate.
func dropTables(ctx context.Context, db *store.DB, def *Definition, log *slog.Logger) {
	for _, table := range def.Tables {
		if err := db.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			log.Warn("failed to drop partial aggregate table", "table", table, "error", err)
		}
	}
}

// BuildSummary writes the one-row summary_statistics table. It is not
// part of the aggregate set: a failure here fails the build, since the
// table is cheap and the manifest depends on it.
func BuildSummary(ctx context.Context, db *store.DB) error {
	const stmt = `CREATE TABLE summary_statistics AS
	SELECT
		'overall' AS metric_type,
		COUNT(*) AS total_trips,
		SUM(fare_amount) AS total_fare_amount,
		SUM(tip_amount) AS total_tips,
		SUM(total_amount) AS total_revenue,
		AVG(fare_amount) AS avg_fare,
		AVG(trip_distance) AS avg_distance,
		AVG(trip_duration_seconds) AS avg_duration,
		AVG(passenger_count) AS avg_passengers,
		MIN(pickup_datetime) AS first_trip_date,
		MAX(pickup_datetime) AS last_trip_date
	FROM fact_trip`

	if err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("build summary statistics: %w", err)
	}
	return nil
}
