package etl

import (
	"path/filepath"
	"time"

	"github.com/openmetro/tripwarehouse/internal/aggregates"
	"github.com/openmetro/tripwarehouse/internal/facts"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// buildManifest assembles the generation manifest from the build's
// counters and aggregate results.
func buildManifest(generationID, dbPath, borough string, batches []string, c facts.Counters, results []aggregates.Result) *store.Manifest {
	dropped := map[string]int64{}
	addCount(dropped, "shape_error", c.ShapeErrors)
	addCount(dropped, "out_of_scope", c.ScopeExcluded)
	addCount(dropped, "negative_fare", c.NegativeFare)
	addCount(dropped, "negative_distance", c.NegativeDistance)
	addCount(dropped, "negative_duration", c.NegativeDuration)

	unknown := map[string]int64{}
	addCount(unknown, "vendor", c.UnknownVendor)
	addCount(unknown, "payment_type", c.UnknownPayment)
	addCount(unknown, "rate_code", c.UnknownRateCode)

	aggStatus := make(map[string]store.AggregateStatus, len(results))
	for _, r := range results {
		status := store.AggregateStatus{
			OK:       r.Err == nil,
			Rows:     r.Rows,
			Duration: r.Duration.Round(time.Millisecond).String(),
		}
		if r.Err != nil {
			status.Error = r.Err.Error()
			status.Rows = 0
		}
		aggStatus[r.Name] = status
	}

	return &store.Manifest{
		GenerationID:  generationID,
		DBFile:        filepath.Base(dbPath),
		Borough:       borough,
		BuiltAt:       time.Now().UTC(),
		SourceBatches: batches,
		RecordsRead:   c.Normalized,
		FactRows:      c.FactRows,
		DroppedRows:   dropped,
		UnknownRows:   unknown,
		Aggregates:    aggStatus,
	}
}

func addCount(m map[string]int64, key string, n int64) {
	if n > 0 {
		m[key] = n
	}
}
