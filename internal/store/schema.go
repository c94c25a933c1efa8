package store

import (
	"context"
	"fmt"
)

// Schema DDL for one generation. Mirrors the star layout: four
// dimension tables and the fact table with its denormalized temporal
// attributes and store-once computed metrics.
var schemaStatements = []string{
	`CREATE TABLE dim_location (
		location_id  INTEGER PRIMARY KEY,
		borough      VARCHAR(50),
		zone         VARCHAR(100),
		service_zone VARCHAR(50)
	)`,
	`CREATE TABLE dim_vendor (
		vendor_id         INTEGER PRIMARY KEY,
		vendor_name       VARCHAR(100),
		vendor_short_name VARCHAR(10)
	)`,
	`CREATE TABLE dim_payment_type (
		payment_type_id   INTEGER PRIMARY KEY,
		payment_type_name VARCHAR(50),
		is_card_payment   BOOLEAN,
		allows_tip        BOOLEAN
	)`,
	`CREATE TABLE dim_rate_code (
		rate_code_id   INTEGER PRIMARY KEY,
		rate_code_name VARCHAR(100),
		is_airport     BOOLEAN,
		is_standard    BOOLEAN
	)`,
	`CREATE TABLE fact_trip (
		trip_id               BIGINT PRIMARY KEY,
		vendor_id             INTEGER,
		pu_location_id        INTEGER,
		do_location_id        INTEGER,
		payment_type_id       INTEGER,
		rate_code_id          INTEGER,
		pickup_datetime       TIMESTAMP,
		dropoff_datetime      TIMESTAMP,
		pickup_date           DATE,
		pickup_hour           TINYINT,
		pickup_day_of_week    TINYINT,
		is_weekend            BOOLEAN,
		passenger_count       TINYINT,
		trip_distance         DOUBLE,
		trip_duration_seconds INTEGER,
		fare_amount           DOUBLE,
		extra                 DOUBLE,
		mta_tax               DOUBLE,
		tip_amount            DOUBLE,
		tolls_amount          DOUBLE,
		improvement_surcharge DOUBLE,
		total_amount          DOUBLE,
		congestion_surcharge  DOUBLE,
		airport_fee           DOUBLE,
		cbd_congestion_fee    DOUBLE,
		store_and_fwd_flag    VARCHAR(1),
		fare_per_mile         DOUBLE,
		avg_speed_mph         DOUBLE,
		tip_percentage        DOUBLE
	)`,
}

// CreateSchema creates the dimension and fact tables in a fresh
// generation file.
func (db *DB) CreateSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
