// Package facts turns canonical trip records into fact rows: foreign
// keys resolved against the dimension snapshot, the borough scope and
// quality filters applied, and every derived column computed once.
package facts

import (
	"time"

	"github.com/openmetro/tripwarehouse/internal/dimensions"
	"github.com/openmetro/tripwarehouse/internal/source"
)

// Row is one fact-table row. TripID is zero until the sequencer assigns
// it at insert time, in input order.
type Row struct {
	TripID int64

	VendorID      int64
	PULocationID  int64
	DOLocationID  int64
	PaymentTypeID int64
	RateCodeID    int64

	PickupDatetime  time.Time
	DropoffDatetime time.Time
	PickupDate      time.Time
	PickupHour      int
	PickupDayOfWeek int // 0 = Sunday
	IsWeekend       bool

	PassengerCount      *int64
	TripDistance        float64
	TripDurationSeconds int64

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

	StoreAndFwdFlag string

	// Store-once computed metrics; nil means undefined (division by
	// zero), which persists as SQL NULL.
	FarePerMile   *float64
	AvgSpeedMPH   *float64
	TipPercentage *float64
}

// Counters tracks per-reason exclusions and resolutions for one stretch
// of the build. Each worker owns its own Counters; Merge combines them.
type Counters struct {
	Normalized  int64
	ShapeErrors int64

	ScopeExcluded    int64
	NegativeFare     int64
	NegativeDistance int64
	NegativeDuration int64

	UnknownVendor   int64
	UnknownPayment  int64
	UnknownRateCode int64

	FactRows int64
}

// Merge adds another set of counters into c.
func (c *Counters) Merge(o Counters) {
	c.Normalized += o.Normalized
	c.ShapeErrors += o.ShapeErrors
	c.ScopeExcluded += o.ScopeExcluded
	c.NegativeFare += o.NegativeFare
	c.NegativeDistance += o.NegativeDistance
	c.NegativeDuration += o.NegativeDuration
	c.UnknownVendor += o.UnknownVendor
	c.UnknownPayment += o.UnknownPayment
	c.UnknownRateCode += o.UnknownRateCode
	c.FactRows += o.FactRows
}

// Dropped returns the total number of records excluded from the fact
// table for any reason.
func (c Counters) Dropped() int64 {
	return c.ShapeErrors + c.ScopeExcluded + c.NegativeFare + c.NegativeDistance + c.NegativeDuration
}

// Builder transforms normalized records against a dimension snapshot.
type Builder struct {
	dims       *dimensions.Set
	scopeZones map[int64]struct{}
	borough    string
}

// NewBuilder creates a fact builder scoped to one borough.
func NewBuilder(dims *dimensions.Set, borough string) *Builder {
	return &Builder{
		dims:       dims,
		scopeZones: dims.BoroughZones(borough),
		borough:    borough,
	}
}

// Borough returns the scoped borough name.
func (b *Builder) Borough() string {
	return b.borough
}

// TransformBatch converts one normalized batch into fact rows, applying
// the scope and quality filters. Row order follows record order, so the
// sequencer's trip-id assignment is reproducible from the input.
func (b *Builder) TransformBatch(batch *source.NormalizedBatch) ([]Row, Counters) {
	rows := make([]Row, 0, len(batch.Records))
	counters := Counters{
		Normalized:  int64(len(batch.Records)),
		ShapeErrors: batch.ShapeErrors,
	}

	for i := range batch.Records {
		row, ok := b.transform(&batch.Records[i], &counters)
		if !ok {
			continue
		}
		rows = append(rows, row)
		counters.FactRows++
	}

	return rows, counters
}

// transform maps one record to a fact row, or reports the exclusion.
func (b *Builder) transform(rec *source.TripRecord, counters *Counters) (Row, bool) {
	// Scope filter: both endpoints must be in the borough. Out-of-scope
	// records are excluded, never routed to Unknown.
	if _, ok := b.scopeZones[rec.PULocationID]; !ok {
		counters.ScopeExcluded++
		return Row{}, false
	}
	if _, ok := b.scopeZones[rec.DOLocationID]; !ok {
		counters.ScopeExcluded++
		return Row{}, false
	}

	duration := int64(rec.DropoffDatetime.Sub(rec.PickupDatetime) / time.Second)

	// Quality filters, counted per reason.
	switch {
	case rec.FareAmount < 0:
		counters.NegativeFare++
		return Row{}, false
	case rec.TripDistance < 0:
		counters.NegativeDistance++
		return Row{}, false
	case duration < 0:
		counters.NegativeDuration++
		return Row{}, false
	}

	vendorID, ok := b.dims.ResolveVendor(rec.VendorID)
	if !ok {
		counters.UnknownVendor++
	}
	paymentID, ok := b.dims.ResolvePaymentType(rec.PaymentTypeID)
	if !ok {
		counters.UnknownPayment++
	}
	rateID, ok := b.dims.ResolveRateCode(rec.RateCodeID)
	if !ok {
		counters.UnknownRateCode++
	}

	pickup := rec.PickupDatetime
	dow := int(pickup.Weekday())

	row := Row{
		VendorID:      vendorID,
		PULocationID:  rec.PULocationID,
		DOLocationID:  rec.DOLocationID,
		PaymentTypeID: paymentID,
		RateCodeID:    rateID,

		PickupDatetime:  pickup,
		DropoffDatetime: rec.DropoffDatetime,
		PickupDate:      pickup.Truncate(24 * time.Hour),
		PickupHour:      pickup.Hour(),
		PickupDayOfWeek: dow,
		IsWeekend:       dow == 0 || dow == 6,

		PassengerCount:      rec.PassengerCount,
		TripDistance:        rec.TripDistance,
		TripDurationSeconds: duration,

		FareAmount:           rec.FareAmount,
		Extra:                rec.Extra,
		MTATax:               rec.MTATax,
		TipAmount:            rec.TipAmount,
		TollsAmount:          rec.TollsAmount,
		ImprovementSurcharge: rec.ImprovementSurcharge,
		TotalAmount:          rec.TotalAmount,
		CongestionSurcharge:  rec.CongestionSurcharge,
		AirportFee:           rec.AirportFee,
		CBDCongestionFee:     rec.CBDCongestionFee,

		StoreAndFwdFlag: rec.StoreAndFwd,

		FarePerMile:   ratio(rec.FareAmount, rec.TripDistance),
		AvgSpeedMPH:   speedMPH(rec.TripDistance, duration),
		TipPercentage: tipPercent(rec.TipAmount, rec.FareAmount),
	}

	return row, true
}

// ratio returns numerator/denominator, or nil when the denominator is
// zero (the undefined marker, never a silently wrong zero).
func ratio(numerator, denominator float64) *float64 {
	if denominator == 0 {
		return nil
	}
	v := numerator / denominator
	return &v
}

func speedMPH(distance float64, durationSeconds int64) *float64 {
	if durationSeconds == 0 {
		return nil
	}
	v := distance / (float64(durationSeconds) / 3600.0)
	return &v
}

func tipPercent(tip, fare float64) *float64 {
	if fare == 0 {
		return nil
	}
	v := tip / fare * 100.0
	return &v
}
