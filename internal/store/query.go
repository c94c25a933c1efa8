package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TripFilter selects fact rows by the indexed access paths. Zero values
// mean "no constraint"; pointer fields distinguish unset from zero.
type TripFilter struct {
	PickupFrom  time.Time
	PickupUntil time.Time
	PickupDate  time.Time
	PickupHour  *int

	PULocationID *int64
	DOLocationID *int64

	VendorID      *int64
	PaymentTypeID *int64
	RateCodeID    *int64

	Limit int
}

// Trip is one fact row joined against its dimensions.
type Trip struct {
	TripID int64

	PickupDatetime  time.Time
	DropoffDatetime time.Time

	PUZone string
	DOZone string

	VendorName      string
	PaymentTypeName string
	RateCodeName    string

	PassengerCount      sql.NullInt64
	TripDistance        float64
	TripDurationSeconds int64
	FareAmount          float64
	TipAmount           float64
	TotalAmount         float64

	FarePerMile   sql.NullFloat64
	AvgSpeedMPH   sql.NullFloat64
	TipPercentage sql.NullFloat64
}

// Trips queries fact rows matching the filter, joined against the
// dimension tables, ordered by trip id.
func (db *DB) Trips(ctx context.Context, filter TripFilter) ([]Trip, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}

	if !filter.PickupFrom.IsZero() {
		add("f.pickup_datetime >= ?", filter.PickupFrom)
	}
	if !filter.PickupUntil.IsZero() {
		add("f.pickup_datetime < ?", filter.PickupUntil)
	}
	if !filter.PickupDate.IsZero() {
		add("f.pickup_date = ?", filter.PickupDate)
	}
	if filter.PickupHour != nil {
		add("f.pickup_hour = ?", *filter.PickupHour)
	}
	if filter.PULocationID != nil {
		add("f.pu_location_id = ?", *filter.PULocationID)
	}
	if filter.DOLocationID != nil {
		add("f.do_location_id = ?", *filter.DOLocationID)
	}
	if filter.VendorID != nil {
		add("f.vendor_id = ?", *filter.VendorID)
	}
	if filter.PaymentTypeID != nil {
		add("f.payment_type_id = ?", *filter.PaymentTypeID)
	}
	if filter.RateCodeID != nil {
		add("f.rate_code_id = ?", *filter.RateCodeID)
	}

	query := `SELECT
		f.trip_id, f.pickup_datetime, f.dropoff_datetime,
		pu.zone, do_.zone,
		v.vendor_name, p.payment_type_name, r.rate_code_name,
		f.passenger_count, f.trip_distance, f.trip_duration_seconds,
		f.fare_amount, f.tip_amount, f.total_amount,
		f.fare_per_mile, f.avg_speed_mph, f.tip_percentage
	FROM fact_trip f
	JOIN dim_location pu ON f.pu_location_id = pu.location_id
	JOIN dim_location do_ ON f.do_location_id = do_.location_id
	JOIN dim_vendor v ON f.vendor_id = v.vendor_id
	JOIN dim_payment_type p ON f.payment_type_id = p.payment_type_id
	JOIN dim_rate_code r ON f.rate_code_id = r.rate_code_id`

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.trip_id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		var t Trip
		err := rows.Scan(
			&t.TripID, &t.PickupDatetime, &t.DropoffDatetime,
			&t.PUZone, &t.DOZone,
			&t.VendorName, &t.PaymentTypeName, &t.RateCodeName,
			&t.PassengerCount, &t.TripDistance, &t.TripDurationSeconds,
			&t.FareAmount, &t.TipAmount, &t.TotalAmount,
			&t.FarePerMile, &t.AvgSpeedMPH, &t.TipPercentage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return trips, nil
}

// ZoneActivity is one zone's pickup and dropoff statistics, joined from
// mv_zone_pickup and mv_zone_dropoff.
type ZoneActivity struct {
	LocationID   int64
	Zone         string
	PickupCount  int64
	DropoffCount int64
	AvgFare      sql.NullFloat64
	AvgDistance  sql.NullFloat64
	MedianFare   sql.NullFloat64
}

// ZoneActivityRanking returns per-zone activity ordered by pickup
// volume.
func (db *DB) ZoneActivityRanking(ctx context.Context, limit int) ([]ZoneActivity, error) {
	query := `SELECT
		p.location_id, l.zone,
		p.pickup_count, COALESCE(d.dropoff_count, 0),
		p.avg_fare, p.avg_distance, p.median_fare
	FROM mv_zone_pickup p
	JOIN dim_location l ON p.location_id = l.location_id
	LEFT JOIN mv_zone_dropoff d ON p.location_id = d.location_id
	ORDER BY p.pickup_count DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query zone activity: %w", err)
	}
	defer rows.Close()

	var zones []ZoneActivity
	for rows.Next() {
		var z ZoneActivity
		if err := rows.Scan(&z.LocationID, &z.Zone, &z.PickupCount, &z.DropoffCount,
			&z.AvgFare, &z.AvgDistance, &z.MedianFare); err != nil {
			return nil, fmt.Errorf("scan zone activity: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// HourlyDemand is one date-hour bucket from mv_hourly_demand.
type HourlyDemand struct {
	PickupDate      time.Time
	PickupHour      int
	PickupDayOfWeek int
	IsWeekend       bool
	TripCount       int64
	AvgFare         sql.NullFloat64
	TotalRevenue    sql.NullFloat64
	AvgDistance     sql.NullFloat64
	AvgPassengers   sql.NullFloat64
}

// HourlyDemandRange returns demand buckets for a date range, ordered by
// date and hour.
func (db *DB) HourlyDemandRange(ctx context.Context, from, until time.Time) ([]HourlyDemand, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
		pickup_date, pickup_hour, pickup_day_of_week, is_weekend,
		trip_count, avg_fare, total_revenue, avg_distance, avg_passengers
	FROM mv_hourly_demand
	WHERE pickup_date >= ? AND pickup_date < ?
	ORDER BY pickup_date, pickup_hour`, from, until)
	if err != nil {
		return nil, fmt.Errorf("query hourly demand: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyDemand
	for rows.Next() {
		var h HourlyDemand
		if err := rows.Scan(&h.PickupDate, &h.PickupHour, &h.PickupDayOfWeek, &h.IsWeekend,
			&h.TripCount, &h.AvgFare, &h.TotalRevenue, &h.AvgDistance, &h.AvgPassengers); err != nil {
			return nil, fmt.Errorf("scan hourly demand: %w", err)
		}
		buckets = append(buckets, h)
	}
	return buckets, rows.Err()
}

// ODFlow is one high-volume origin-destination pair from mv_od_flows.
type ODFlow struct {
	PULocationID   int64
	DOLocationID   int64
	TripCount      int64
	AvgFare        sql.NullFloat64
	AvgDistance    sql.NullFloat64
	AvgDurationSec sql.NullFloat64
	MedianFare     sql.NullFloat64
	P90Fare        sql.NullFloat64
}

// TopODFlows returns the busiest origin-destination pairs.
func (db *DB) TopODFlows(ctx context.Context, limit int) ([]ODFlow, error) {
	query := `SELECT
		pu_location_id, do_location_id, trip_count,
		avg_fare, avg_distance, avg_duration_sec, median_fare, p90_fare
	FROM mv_od_flows
	ORDER BY trip_count DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query od flows: %w", err)
	}
	defer rows.Close()

	var flows []ODFlow
	for rows.Next() {
		var f ODFlow
		if err := rows.Scan(&f.PULocationID, &f.DOLocationID, &f.TripCount,
			&f.AvgFare, &f.AvgDistance, &f.AvgDurationSec, &f.MedianFare, &f.P90Fare); err != nil {
			return nil, fmt.Errorf("scan od flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// VendorPerformance is one vendor's service metrics from
// mv_vendor_performance.
type VendorPerformance struct {
	VendorID       int64
	VendorName     string
	TripCount      int64
	AvgFare        sql.NullFloat64
	AvgTip         sql.NullFloat64
	AvgDistance    sql.NullFloat64
	AvgDurationSec sql.NullFloat64
	StoreFwdCount  int64
	AvgPassengers  sql.NullFloat64
}

// VendorPerformanceAll returns per-vendor metrics joined with vendor
// names.
func (db *DB) VendorPerformanceAll(ctx context.Context) ([]VendorPerformance, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
		m.vendor_id, v.vendor_name, m.trip_count,
		m.avg_fare, m.avg_tip, m.avg_distance, m.avg_duration_sec,
		m.store_fwd_count, m.avg_passengers
	FROM mv_vendor_performance m
	JOIN dim_vendor v ON m.vendor_id = v.vendor_id
	ORDER BY m.trip_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("query vendor performance: %w", err)
	}
	defer rows.Close()

	var vendors []VendorPerformance
	for rows.Next() {
		var v VendorPerformance
		if err := rows.Scan(&v.VendorID, &v.VendorName, &v.TripCount,
			&v.AvgFare, &v.AvgTip, &v.AvgDistance, &v.AvgDurationSec,
			&v.StoreFwdCount, &v.AvgPassengers); err != nil {
			return nil, fmt.Errorf("scan vendor performance: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// PaymentPattern is one payment-type/hour/weekend bucket from
// mv_payment_patterns.
type PaymentPattern struct {
	PaymentTypeID   int64
	PaymentTypeName string
	PickupHour      int
	IsWeekend       bool
	TripCount       int64
	AvgTip          sql.NullFloat64
	AvgFare         sql.NullFloat64
	AvgTipPct       sql.NullFloat64
	TripsWithTip    int64
	TripsNoTip      int64
}

// PaymentPatterns returns tipping behavior buckets, optionally filtered
// to one payment type (pass a negative id for all).
func (db *DB) PaymentPatterns(ctx context.Context, paymentTypeID int64) ([]PaymentPattern, error) {
	query := `SELECT
		m.payment_type_id, p.payment_type_name, m.pickup_hour, m.is_weekend,
		m.trip_count, m.avg_tip, m.avg_fare, m.avg_tip_pct,
		m.trips_with_tip, m.trips_no_tip
	FROM mv_payment_patterns m
	JOIN dim_payment_type p ON m.payment_type_id = p.payment_type_id`
	var args []any
	if paymentTypeID >= 0 {
		query += " WHERE m.payment_type_id = ?"
		args = append(args, paymentTypeID)
	}
	query += " ORDER BY m.payment_type_id, m.pickup_hour, m.is_weekend"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment patterns: %w", err)
	}
	defer rows.Close()

	var patterns []PaymentPattern
	for rows.Next() {
		var p PaymentPattern
		if err := rows.Scan(&p.PaymentTypeID, &p.PaymentTypeName, &p.PickupHour, &p.IsWeekend,
			&p.TripCount, &p.AvgTip, &p.AvgFare, &p.AvgTipPct,
			&p.TripsWithTip, &p.TripsNoTip); err != nil {
			return nil, fmt.Errorf("scan payment pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
