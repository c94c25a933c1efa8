package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"
)

const readChunkSize = 4096

// NormalizeBatch decodes one monthly parquet batch into canonical
// records. Shape correction only: no row is filtered for quality or
// scope here. Records that cannot be coerced at all are skipped and
// counted, never fatal; a schema missing structural columns is.
func NormalizeBatch(name string, data []byte, log *slog.Logger) (*NormalizedBatch, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet batch %s: %w", name, err)
	}

	cols := newColumnSet(f.Schema())
	vintage, err := detectVintage(cols)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", name, err)
	}

	batch := &NormalizedBatch{
		Name:    name,
		Vintage: vintage,
		Records: make([]TripRecord, 0, f.NumRows()),
	}

	buf := make([]parquet.Row, readChunkSize)
	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec, ok := extractRecord(row, cols)
				if !ok {
					batch.ShapeErrors++
					continue
				}
				batch.Records = append(batch.Records, rec)
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				rows.Close()
				return nil, fmt.Errorf("read batch %s: %w", name, err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("close row reader for %s: %w", name, err)
		}
	}

	log.Debug("normalized batch",
		"vintage", vintage.String(),
		"records", len(batch.Records),
		"shape_errors", batch.ShapeErrors,
	)
	return batch, nil
}

// extractRecord coerces one raw row to the canonical shape. A record
// without usable pickup and dropoff timestamps cannot feed the fact
// builder and is reported as a shape error.
func extractRecord(row parquet.Row, cols columnSet) (TripRecord, bool) {
	g := rowGetter{row: row, cols: cols}

	rec := TripRecord{
		VendorID:             g.int64("vendorid"),
		PickupDatetime:       g.timestamp("tpep_pickup_datetime"),
		DropoffDatetime:      g.timestamp("tpep_dropoff_datetime"),
		PassengerCount:       g.int64Ptr("passenger_count"),
		TripDistance:         g.float64("trip_distance"),
		RateCodeID:           g.int64("ratecodeid"),
		StoreAndFwd:          g.str("store_and_fwd_flag"),
		PULocationID:         g.int64("pulocationid"),
		DOLocationID:         g.int64("dolocationid"),
		PaymentTypeID:        g.int64("payment_type"),
		FareAmount:           g.float64("fare_amount"),
		Extra:                g.float64("extra"),
		MTATax:               g.float64("mta_tax"),
		TipAmount:            g.float64("tip_amount"),
		TollsAmount:          g.float64("tolls_amount"),
		ImprovementSurcharge: g.float64("improvement_surcharge"),
		TotalAmount:          g.float64("total_amount"),
		CongestionSurcharge:  g.float64("congestion_surcharge"),
		AirportFee:           g.float64("airport_fee"),
		CBDCongestionFee:     g.float64("cbd_congestion_fee"),
	}

	if rec.PickupDatetime.IsZero() || rec.DropoffDatetime.IsZero() {
		return TripRecord{}, false
	}
	return rec, true
}

// rowGetter coerces leaf values by column name, defaulting absent or
// null values to zero rather than surfacing type errors.
type rowGetter struct {
	row  parquet.Row
	cols columnSet
}

func (g rowGetter) value(name string) (parquet.Value, bool) {
	idx, ok := g.cols.index[name]
	if !ok {
		return parquet.Value{}, false
	}
	for _, v := range g.row {
		if v.Column() == idx {
			if v.IsNull() {
				return parquet.Value{}, false
			}
			return v, true
		}
	}
	return parquet.Value{}, false
}

func (g rowGetter) int64(name string) int64 {
	v, ok := g.value(name)
	if !ok {
		return 0
	}
	return coerceInt64(v)
}

func (g rowGetter) int64Ptr(name string) *int64 {
	v, ok := g.value(name)
	if !ok {
		return nil
	}
	n := coerceInt64(v)
	return &n
}

func (g rowGetter) float64(name string) float64 {
	v, ok := g.value(name)
	if !ok {
		return 0
	}
	return coerceFloat64(v)
}

func (g rowGetter) str(name string) string {
	v, ok := g.value(name)
	if !ok {
		return ""
	}
	if v.Kind() == parquet.ByteArray {
		return v.String()
	}
	return ""
}

func (g rowGetter) timestamp(name string) time.Time {
	v, ok := g.value(name)
	if !ok {
		return time.Time{}
	}
	unit, hasUnit := g.cols.units[name]
	if !hasUnit {
		unit = unitMicros
	}
	raw := coerceInt64(v)
	if raw == 0 {
		return time.Time{}
	}
	return time.Unix(0, raw*int64(unit)).UTC()
}

func coerceInt64(v parquet.Value) int64 {
	switch v.Kind() {
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return int64(v.Float())
	case parquet.Double:
		return int64(v.Double())
	default:
		return 0
	}
}

func coerceFloat64(v parquet.Value) float64 {
	switch v.Kind() {
	case parquet.Double:
		return v.Double()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Int32:
		return float64(v.Int32())
	case parquet.Int64:
		return float64(v.Int64())
	default:
		return 0
	}
}
