package store

import (
	"context"
	"fmt"
	"time"

	"github.com/openmetro/tripwarehouse/internal/logging"
)

// Index is one entry of the access-pattern-driven index set.
type Index struct {
	Name    string
	Columns string
}

// PlannedIndexes is the closed index set: every entry serves at least
// one known consumer query's filter or join, and nothing else is built.
// is_weekend is deliberately absent; it derives from
// pickup_day_of_week, which is indexed.
var PlannedIndexes = []Index{
	{Name: "idx_pickup_datetime", Columns: "fact_trip(pickup_datetime)"},
	{Name: "idx_pickup_date", Columns: "fact_trip(pickup_date)"},
	{Name: "idx_pickup_hour", Columns: "fact_trip(pickup_hour)"},
	{Name: "idx_pu_location", Columns: "fact_trip(pu_location_id)"},
	{Name: "idx_do_location", Columns: "fact_trip(do_location_id)"},
	{Name: "idx_vendor", Columns: "fact_trip(vendor_id)"},
	{Name: "idx_payment_type", Columns: "fact_trip(payment_type_id)"},
	{Name: "idx_rate_code", Columns: "fact_trip(rate_code_id)"},
	{Name: "idx_od_pair", Columns: "fact_trip(pu_location_id, do_location_id)"},
	{Name: "idx_zone_date", Columns: "fact_trip(pu_location_id, pickup_date)"},
}

// CreateIndexes builds the planned index set over the finished fact
// table.
func (db *DB) CreateIndexes(ctx context.Context) error {
	log := logging.Component("store")

	for _, idx := range PlannedIndexes {
		start := time.Now()
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s", idx.Name, idx.Columns)
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
		log.Debug("created index", "index", idx.Name, "duration_ms", time.Since(start).Milliseconds())
	}
	return nil
}
