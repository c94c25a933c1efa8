package store

import (
	"context"
	"testing"
	"time"

	"github.com/openmetro/tripwarehouse/internal/dimensions"
	"github.com/openmetro/tripwarehouse/internal/facts"
	"github.com/openmetro/tripwarehouse/internal/source"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.CreateSchema(context.Background()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func testDims() *dimensions.Set {
	return dimensions.Build(&source.ZoneLookup{
		Zones: []source.Zone{
			{LocationID: 4, Borough: "Manhattan", Zone: "Alphabet City", ServiceZone: "Yellow Zone"},
			{LocationID: 13, Borough: "Manhattan", Zone: "Battery Park", ServiceZone: "Yellow Zone"},
		},
	})
}

func f64(v float64) *float64 { return &v }

func testFactRow(tripID int64, pickup time.Time) facts.Row {
	passengers := int64(1)
	return facts.Row{
		TripID:          tripID,
		VendorID:        2,
		PULocationID:    4,
		DOLocationID:    13,
		PaymentTypeID:   1,
		RateCodeID:      1,
		PickupDatetime:  pickup,
		DropoffDatetime: pickup.Add(10 * time.Minute),
		PickupDate:      pickup.Truncate(24 * time.Hour),
		PickupHour:      pickup.Hour(),
		PickupDayOfWeek: int(pickup.Weekday()),
		IsWeekend:       pickup.Weekday() == time.Saturday || pickup.Weekday() == time.Sunday,

		PassengerCount:      &passengers,
		TripDistance:        2.0,
		TripDurationSeconds: 600,
		FareAmount:          10.0,
		TipAmount:           2.0,
		TotalAmount:         12.0,
		StoreAndFwdFlag:     "N",

		FarePerMile:   f64(5.0),
		AvgSpeedMPH:   f64(12.0),
		TipPercentage: f64(20.0),
	}
}

func TestInsertDimensions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertDimensions(ctx, testDims()); err != nil {
		t.Fatalf("InsertDimensions: %v", err)
	}

	counts := map[string]int64{
		"dim_location":     2,
		"dim_vendor":       5,
		"dim_payment_type": 6,
		"dim_rate_code":    8,
	}
	for table, want := range counts {
		got, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}

	// Unknown rows must be present as resolution targets.
	for _, table := range []string{"dim_vendor", "dim_payment_type", "dim_rate_code"} {
		col := map[string]string{
			"dim_vendor":       "vendor_id",
			"dim_payment_type": "payment_type_id",
			"dim_rate_code":    "rate_code_id",
		}[table]
		got, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM "+table+" WHERE "+col+" = 0")
		if err != nil {
			t.Fatal(err)
		}
		if got != 1 {
			t.Errorf("%s has %d rows with id 0, want 1", table, got)
		}
	}
}

func TestInsertFactsAndNullMetrics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertDimensions(ctx, testDims()); err != nil {
		t.Fatal(err)
	}

	pickup := time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC)
	rows := []facts.Row{
		testFactRow(1, pickup),
		testFactRow(2, pickup.Add(time.Hour)),
	}
	// Second row has undefined metrics: they must persist as NULL.
	rows[1].TripDistance = 0
	rows[1].FarePerMile = nil
	rows[1].AvgSpeedMPH = nil
	rows[1].TipPercentage = nil
	rows[1].PassengerCount = nil

	if err := db.InsertFacts(ctx, rows, 1); err != nil {
		t.Fatalf("InsertFacts: %v", err)
	}

	total, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM fact_trip")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("fact rows = %d, want 2", total)
	}

	nulls, err := db.QueryInt64(ctx, `SELECT COUNT(*) FROM fact_trip
		WHERE fare_per_mile IS NULL AND avg_speed_mph IS NULL
		  AND tip_percentage IS NULL AND passenger_count IS NULL`)
	if err != nil {
		t.Fatal(err)
	}
	if nulls != 1 {
		t.Errorf("rows with all-null metrics = %d, want 1", nulls)
	}
}

func TestCreateIndexes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertDimensions(ctx, testDims()); err != nil {
		t.Fatal(err)
	}
	pickup := time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC)
	if err := db.InsertFacts(ctx, []facts.Row{testFactRow(1, pickup)}, 100); err != nil {
		t.Fatal(err)
	}

	if err := db.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes: %v", err)
	}

	got, err := db.QueryInt64(ctx, "SELECT COUNT(*) FROM duckdb_indexes()")
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(len(PlannedIndexes)) {
		t.Errorf("indexes = %d, want %d", got, len(PlannedIndexes))
	}
}

func TestTripsQuery(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertDimensions(ctx, testDims()); err != nil {
		t.Fatal(err)
	}

	pickup := time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC)
	rows := []facts.Row{
		testFactRow(1, pickup),
		testFactRow(2, pickup.Add(time.Hour)),
		testFactRow(3, pickup.Add(2*time.Hour)),
	}
	rows[2].PULocationID = 13
	rows[2].DOLocationID = 4
	if err := db.InsertFacts(ctx, rows, 100); err != nil {
		t.Fatal(err)
	}

	all, err := db.Trips(ctx, TripFilter{})
	if err != nil {
		t.Fatalf("Trips: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("trips = %d, want 3", len(all))
	}
	// Ordered by trip id, dimensions joined in.
	if all[0].TripID != 1 || all[0].PUZone != "Alphabet City" || all[0].VendorName != "VeriFone Inc." {
		t.Errorf("trip[0] = %+v", all[0])
	}

	pu := int64(13)
	filtered, err := db.Trips(ctx, TripFilter{PULocationID: &pu})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].TripID != 3 {
		t.Errorf("filtered trips = %+v", filtered)
	}

	hour := 15
	byHour, err := db.Trips(ctx, TripFilter{PickupHour: &hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(byHour) != 1 || byHour[0].TripID != 2 {
		t.Errorf("hour-filtered trips = %+v", byHour)
	}

	limited, err := db.Trips(ctx, TripFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited trips = %d, want 2", len(limited))
	}
}
