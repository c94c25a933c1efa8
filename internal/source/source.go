// Package source reads monthly trip batches and the zone lookup, and
// normalizes heterogeneous source vintages into one canonical record
// shape. All vintage-specific knowledge lives here; downstream stages
// only ever see TripRecord.
package source

import (
	"time"
)

// TripRecord is the canonical shape every source vintage normalizes to.
// Financial columns absent in older vintages default to zero; nullable
// numerics keep explicit null (pointer) semantics.
type TripRecord struct {
	VendorID        int64
	PickupDatetime  time.Time
	DropoffDatetime time.Time
	PassengerCount  *int64
	TripDistance    float64
	RateCodeID      int64 // 0 when null/absent in source
	StoreAndFwd     string
	PULocationID    int64
	DOLocationID    int64
	PaymentTypeID   int64 // 0 when null/absent in source

	FareAmount           float64
	Extra                float64
	MTATax               float64
	TipAmount            float64
	TollsAmount          float64
	ImprovementSurcharge float64
	TotalAmount          float64
	CongestionSurcharge  float64
	AirportFee           float64
	CBDCongestionFee     float64
}

// NormalizedBatch is the result of normalizing one monthly batch.
type NormalizedBatch struct {
	Name        string
	Vintage     Vintage
	Records     []TripRecord
	ShapeErrors int64 // records skipped because they could not be coerced
}
