package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmetro/tripwarehouse/internal/facts"
	"github.com/openmetro/tripwarehouse/internal/logging"
	"github.com/openmetro/tripwarehouse/internal/metrics"
	"github.com/openmetro/tripwarehouse/internal/source"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// Pipeline implements the dispatcher → workers → sequencer flow.
// Workers normalize and transform monthly batches in parallel, but the
// sequencer inserts them in batch order, so trip ids are assigned
// deterministically regardless of worker scheduling.
type Pipeline struct {
	batches         *source.BatchStore
	builder         *facts.Builder
	db              *store.DB
	workers         int
	queueSize       int
	insertBatchSize int
	total           int
	log             *slog.Logger

	workQueue  chan batchTask
	resultChan chan batchResult
	wg         sync.WaitGroup
}

type batchTask struct {
	Index int
	Name  string
}

type batchResult struct {
	Index    int
	Name     string
	Rows     []facts.Row
	Counters facts.Counters
	Err      error
}

// NewPipeline creates a fact-build pipeline over an open generation
// store.
func NewPipeline(batches *source.BatchStore, builder *facts.Builder, db *store.DB, workers, queueSize, insertBatchSize int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 2
	}

	return &Pipeline{
		batches:         batches,
		builder:         builder,
		db:              db,
		workers:         workers,
		queueSize:       queueSize,
		insertBatchSize: insertBatchSize,
		log:             logging.Component("pipeline"),
		workQueue:       make(chan batchTask, queueSize),
		resultChan:      make(chan batchResult, queueSize),
	}
}

// Run processes every discovered batch and returns the merged counters.
// Any batch failure aborts the run; the half-built generation file is
// never published.
func (p *Pipeline) Run(ctx context.Context, batchList []source.Batch) (facts.Counters, error) {
	var counters facts.Counters
	if len(batchList) == 0 {
		return counters, fmt.Errorf("no source batches found")
	}
	p.total = len(batchList)

	// A sequencer abort must release workers blocked on the bounded
	// result channel, so the pipeline owns its own cancellation.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.log.Info("starting fact build", "batches", len(batchList), "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- p.dispatcherLoop(ctx, batchList)
	}()

	go func() {
		p.wg.Wait()
		close(p.resultChan)
	}()

	counters, err := p.sequencerLoop(ctx, len(batchList))
	if err != nil {
		return counters, err
	}

	select {
	case err := <-errChan:
		return counters, err
	default:
		return counters, nil
	}
}

// dispatcherLoop sends batch tasks to workers in discovery order.
func (p *Pipeline) dispatcherLoop(ctx context.Context, batchList []source.Batch) error {
	defer close(p.workQueue)

	for i, b := range batchList {
		task := batchTask{Index: i, Name: b.Name}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.workQueue <- task:
		}
	}
	return nil
}

// workerLoop normalizes and transforms batches.
func (p *Pipeline) workerLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for task := range p.workQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := p.processTask(ctx, workerID, task)
		select {
		case p.resultChan <- result:
		case <-ctx.Done():
			return
		}
	}
}

// processTask fetches, decodes, and transforms one batch. It does NOT
// insert; that is the sequencer's job.
func (p *Pipeline) processTask(ctx context.Context, workerID int, task batchTask) batchResult {
	log := logging.BatchLogger(task.Name, task.Index+1, p.total).With("worker_id", workerID)
	log.Info("processing batch")

	startTime := time.Now()
	borough := p.builder.Borough()

	data, err := p.batches.ReadAll(ctx, task.Name)
	if err != nil {
		return batchResult{Index: task.Index, Name: task.Name, Err: err}
	}

	normalized, err := source.NormalizeBatch(task.Name, data, log)
	if err != nil {
		return batchResult{Index: task.Index, Name: task.Name, Err: err}
	}

	rows, counters := p.builder.TransformBatch(normalized)

	elapsed := time.Since(startTime)
	log.Info("batch transformed",
		"vintage", normalized.Vintage.String(),
		"records", counters.Normalized,
		"fact_rows", counters.FactRows,
		"duration_ms", elapsed.Milliseconds(),
	)

	if m := metrics.Get(); m != nil {
		m.ObserveBatchDuration(borough, elapsed.Seconds())
		m.AddRecordsNormalized(borough, float64(counters.Normalized))
	}

	return batchResult{
		Index:    task.Index,
		Name:     task.Name,
		Rows:     rows,
		Counters: counters,
	}
}

// sequencerLoop inserts batches in input order, assigning contiguous
// trip ids starting at 1.
func (p *Pipeline) sequencerLoop(ctx context.Context, total int) (facts.Counters, error) {
	var counters facts.Counters
	borough := p.builder.Borough()

	pending := make(map[int]*batchResult)
	nextIndex := 0
	nextTripID := int64(1)
	startTime := time.Now()

	for nextIndex < total {
		select {
		case <-ctx.Done():
			return counters, ctx.Err()

		case result, ok := <-p.resultChan:
			if !ok {
				return counters, fmt.Errorf("results closed before all batches committed, next=%d", nextIndex)
			}
			if result.Err != nil {
				if m := metrics.Get(); m != nil {
					m.IncBatchesFailed(borough)
				}
				return counters, fmt.Errorf("batch %s: %w", result.Name, result.Err)
			}

			pending[result.Index] = &result

			// Flush in-order as far as possible.
			for {
				r, ok := pending[nextIndex]
				if !ok {
					break
				}

				for i := range r.Rows {
					r.Rows[i].TripID = nextTripID
					nextTripID++
				}
				if err := p.db.InsertFacts(ctx, r.Rows, p.insertBatchSize); err != nil {
					return counters, fmt.Errorf("insert batch %s: %w", r.Name, err)
				}

				counters.Merge(r.Counters)
				if m := metrics.Get(); m != nil {
					m.IncBatchesProcessed(borough)
					m.AddFactRowsInserted(borough, float64(r.Counters.FactRows))
				}

				delete(pending, nextIndex)
				nextIndex++

				elapsed := time.Since(startTime)
				p.log.Info("sequencer progress",
					"committed", nextIndex,
					"total", total,
					"fact_rows", counters.FactRows,
					"elapsed_s", fmt.Sprintf("%.1f", elapsed.Seconds()),
				)
			}
		}
	}

	return counters, nil
}
