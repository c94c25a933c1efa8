// Package etl orchestrates a warehouse rebuild: zone lookup, dimension
// seeding, the parallel fact-build pipeline, index creation, aggregate
// computation, verification, and the atomic generation swap.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmetro/tripwarehouse/internal/aggregates"
	"github.com/openmetro/tripwarehouse/internal/config"
	"github.com/openmetro/tripwarehouse/internal/dimensions"
	"github.com/openmetro/tripwarehouse/internal/facts"
	"github.com/openmetro/tripwarehouse/internal/logging"
	"github.com/openmetro/tripwarehouse/internal/metrics"
	"github.com/openmetro/tripwarehouse/internal/source"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// Runner executes one full rebuild.
type Runner struct {
	cfg config.Config
	log *slog.Logger
}

// NewRunner creates a rebuild runner.
func NewRunner(cfg config.Config) *Runner {
	return &Runner{
		cfg: cfg,
		log: logging.Component("etl"),
	}
}

// Run rebuilds the warehouse from scratch and publishes the new
// generation. On any fatal error the half-built generation file is
// abandoned unpublished and the previous generation stays live.
// Aggregate failures are not fatal; they are recorded in the returned
// manifest.
func (r *Runner) Run(ctx context.Context) (*store.Manifest, error) {
	buildStart := time.Now()

	lookup, err := timed("zone_lookup", func() (*source.ZoneLookup, error) {
		return source.LoadZoneLookup(r.cfg.Source.ZoneLookup)
	})
	if err != nil {
		return nil, fmt.Errorf("load zone lookup: %w", err)
	}
	r.log.Info("loaded zone lookup", "zones", len(lookup.Zones), "skipped", lookup.Skipped)

	dims := dimensions.Build(lookup)
	builder := facts.NewBuilder(dims, r.cfg.Build.Borough)

	manager, err := store.NewManager(r.cfg.Store.DataDir, r.cfg.Store.KeepGenerations)
	if err != nil {
		return nil, err
	}

	generationID, dbPath := manager.NewGenerationPath()
	r.log.Info("starting rebuild",
		"generation_id", generationID,
		"borough", r.cfg.Build.Borough,
		"workers", r.cfg.Build.Workers,
	)

	db, err := store.Open(r.cfg.Store, dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		return nil, err
	}
	if _, err := timed("dimensions", func() (struct{}, error) {
		return struct{}{}, db.InsertDimensions(ctx, dims)
	}); err != nil {
		return nil, err
	}

	batchStore, err := source.OpenBatchStore(ctx, r.cfg.Source)
	if err != nil {
		return nil, err
	}
	defer batchStore.Close()

	batchList, err := batchStore.List(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := NewPipeline(batchStore, builder, db,
		r.cfg.Build.Workers, r.cfg.Build.QueueSize, r.cfg.Build.InsertBatchSize)
	counters, err := timed("fact_build", func() (facts.Counters, error) {
		return pipeline.Run(ctx, batchList)
	})
	if err != nil {
		return nil, fmt.Errorf("fact build: %w", err)
	}
	r.recordDropMetrics(counters)

	if _, err := timed("indexes", func() (struct{}, error) {
		return struct{}{}, db.CreateIndexes(ctx)
	}); err != nil {
		return nil, err
	}

	if _, err := timed("verify_facts", func() (struct{}, error) {
		return struct{}{}, verifyFacts(ctx, db, r.cfg.Build.Borough, counters.FactRows)
	}); err != nil {
		return nil, err
	}

	// All fact rows are in place; the aggregates can now build
	// concurrently against a stable table.
	defs := aggregates.Definitions(r.cfg.Build.ODFlowMinTrips)
	results, err := timed("aggregates", func() ([]aggregates.Result, error) {
		results := aggregates.BuildAll(ctx, db, defs)
		for i := range results {
			if results[i].Err != nil {
				continue
			}
			if verr := verifyAggregate(ctx, db, &defs[i]); verr != nil {
				r.log.Error("aggregate verification failed", "aggregate", defs[i].Name, "error", verr)
				dropAggregate(ctx, db, &defs[i])
				results[i].Err = verr
			}
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}

	if err := aggregates.BuildSummary(ctx, db); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(batchList))
	for _, b := range batchList {
		names = append(names, b.Name)
	}
	manifest := buildManifest(generationID, dbPath, r.cfg.Build.Borough, names, counters, results)
	manifest.BuildDuration = time.Since(buildStart).Round(time.Millisecond).String()

	// Close before publishing so readers open a fully flushed file.
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close generation store: %w", err)
	}

	if err := manager.Publish(manifest); err != nil {
		return nil, err
	}
	if err := manager.CollectGarbage(); err != nil {
		r.log.Warn("generation garbage collection failed", "error", err)
	}

	r.log.Info("rebuild complete",
		"generation_id", generationID,
		"fact_rows", counters.FactRows,
		"dropped", counters.Dropped(),
		"duration", manifest.BuildDuration,
	)
	return manifest, nil
}

func (r *Runner) recordDropMetrics(c facts.Counters) {
	m := metrics.Get()
	if m == nil {
		return
	}
	borough := r.cfg.Build.Borough
	m.AddRecordsDropped(borough, "shape_error", float64(c.ShapeErrors))
	m.AddRecordsDropped(borough, "out_of_scope", float64(c.ScopeExcluded))
	m.AddRecordsDropped(borough, "negative_fare", float64(c.NegativeFare))
	m.AddRecordsDropped(borough, "negative_distance", float64(c.NegativeDistance))
	m.AddRecordsDropped(borough, "negative_duration", float64(c.NegativeDuration))
}

func dropAggregate(ctx context.Context, db *store.DB, def *aggregates.Definition) {
	for _, table := range def.Tables {
		db.Exec(ctx, "DROP TABLE IF EXISTS "+table)
	}
}

// timed runs one stage and records its duration metric.
func timed[T any](stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	if m := metrics.Get(); m != nil {
		m.ObserveStageDuration(stage, time.Since(start).Seconds())
	}
	return v, err
}
