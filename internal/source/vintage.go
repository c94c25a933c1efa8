package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
)

// Vintage identifies which generation of the TLC publication schema a
// batch was written with. The schema gained columns over the years;
// vintage detection keys off the newest column present.
type Vintage int

const (
	// VintageLegacy predates the congestion surcharge (before 2019).
	VintageLegacy Vintage = iota
	// VintageCongestion carries congestion_surcharge (2019+).
	VintageCongestion
	// VintageAirportFee carries airport_fee (2021+).
	VintageAirportFee
	// VintageCBDFee carries cbd_congestion_fee (2025+).
	VintageCBDFee
)

func (v Vintage) String() string {
	switch v {
	case VintageCBDFee:
		return "cbd_fee"
	case VintageAirportFee:
		return "airport_fee"
	case VintageCongestion:
		return "congestion"
	default:
		return "legacy"
	}
}

// requiredColumns are structurally necessary for the rest of the
// pipeline; a batch missing any of them is rejected outright.
var requiredColumns = []string{
	"vendorid",
	"tpep_pickup_datetime",
	"tpep_dropoff_datetime",
	"pulocationid",
	"dolocationid",
}

// timeUnit is the multiplier converting a stored timestamp integer to
// nanoseconds.
type timeUnit int64

const (
	unitMillis timeUnit = 1_000_000
	unitMicros timeUnit = 1_000
	unitNanos  timeUnit = 1
)

// columnSet maps lowercased leaf column names to their leaf index and,
// for timestamp columns, their unit. Source files disagree on casing
// (e.g. Airport_fee vs airport_fee), so all lookups are lowercased.
type columnSet struct {
	index map[string]int
	units map[string]timeUnit
}

func newColumnSet(schema *parquet.Schema) columnSet {
	cs := columnSet{
		index: make(map[string]int),
		units: make(map[string]timeUnit),
	}
	for i, path := range schema.Columns() {
		name := strings.ToLower(path[len(path)-1])
		cs.index[name] = i
	}
	for _, field := range schema.Fields() {
		name := strings.ToLower(field.Name())
		if lt := field.Type().LogicalType(); lt != nil && lt.Timestamp != nil {
			cs.units[name] = timestampUnit(lt.Timestamp.Unit)
		}
	}
	return cs
}

func timestampUnit(u format.TimeUnit) timeUnit {
	switch {
	case u.Millis != nil:
		return unitMillis
	case u.Nanos != nil:
		return unitNanos
	default:
		return unitMicros
	}
}

func (cs columnSet) has(name string) bool {
	_, ok := cs.index[name]
	return ok
}

// DetectVintage inspects a batch schema and returns its vintage, or a
// descriptive error naming every missing structural column.
func detectVintage(cs columnSet) (Vintage, error) {
	var missing []string
	for _, col := range requiredColumns {
		if !cs.has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return 0, fmt.Errorf("batch schema missing required columns: %s", strings.Join(missing, ", "))
	}

	switch {
	case cs.has("cbd_congestion_fee"):
		return VintageCBDFee, nil
	case cs.has("airport_fee"):
		return VintageAirportFee, nil
	case cs.has("congestion_surcharge"):
		return VintageCongestion, nil
	default:
		return VintageLegacy, nil
	}
}
