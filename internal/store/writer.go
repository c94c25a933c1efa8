package store

import (
	"context"
	"fmt"

	"github.com/openmetro/tripwarehouse/internal/dimensions"
	"github.com/openmetro/tripwarehouse/internal/facts"
)

// InsertDimensions writes the four dimension tables.
func (db *DB) InsertDimensions(ctx context.Context, dims *dimensions.Set) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dimension insert: %w", err)
	}
	defer tx.Rollback()

	locStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dim_location VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dim_location insert: %w", err)
	}
	for _, l := range dims.Locations {
		if _, err := locStmt.ExecContext(ctx, l.ID, l.Borough, l.Zone, l.ServiceZone); err != nil {
			return fmt.Errorf("insert location %d: %w", l.ID, err)
		}
	}

	venStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dim_vendor VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dim_vendor insert: %w", err)
	}
	for _, v := range dims.Vendors {
		if _, err := venStmt.ExecContext(ctx, v.ID, v.Name, v.ShortName); err != nil {
			return fmt.Errorf("insert vendor %d: %w", v.ID, err)
		}
	}

	payStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dim_payment_type VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dim_payment_type insert: %w", err)
	}
	for _, p := range dims.PaymentTypes {
		if _, err := payStmt.ExecContext(ctx, p.ID, p.Name, p.IsCardPayment, p.AllowsTip); err != nil {
			return fmt.Errorf("insert payment type %d: %w", p.ID, err)
		}
	}

	rateStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dim_rate_code VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare dim_rate_code insert: %w", err)
	}
	for _, r := range dims.RateCodes {
		if _, err := rateStmt.ExecContext(ctx, r.ID, r.Name, r.IsAirport, r.IsStandard); err != nil {
			return fmt.Errorf("insert rate code %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dimension insert: %w", err)
	}
	return nil
}

const insertFactSQL = `INSERT INTO fact_trip VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertFacts writes fact rows in chunks of batchSize, one transaction
// per chunk. Rows must already carry their assigned trip ids.
func (db *DB) InsertFacts(ctx context.Context, rows []facts.Row, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 5000
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := db.insertFactChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) insertFactChunk(ctx context.Context, rows []facts.Row) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fact insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertFactSQL)
	if err != nil {
		return fmt.Errorf("prepare fact insert: %w", err)
	}

	for i := range rows {
		r := &rows[i]
		var passengers any
		if r.PassengerCount != nil {
			passengers = *r.PassengerCount
		}
		_, err := stmt.ExecContext(ctx,
			r.TripID,
			r.VendorID,
			r.PULocationID,
			r.DOLocationID,
			r.PaymentTypeID,
			r.RateCodeID,
			r.PickupDatetime,
			r.DropoffDatetime,
			r.PickupDate,
			r.PickupHour,
			r.PickupDayOfWeek,
			r.IsWeekend,
			passengers,
			r.TripDistance,
			r.TripDurationSeconds,
			r.FareAmount,
			r.Extra,
			r.MTATax,
			r.TipAmount,
			r.TollsAmount,
			r.ImprovementSurcharge,
			r.TotalAmount,
			r.CongestionSurcharge,
			r.AirportFee,
			r.CBDCongestionFee,
			r.StoreAndFwdFlag,
			nullable(r.FarePerMile),
			nullable(r.AvgSpeedMPH),
			nullable(r.TipPercentage),
		)
		if err != nil {
			return fmt.Errorf("insert trip %d: %w", r.TripID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fact insert: %w", err)
	}
	return nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
