package etl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/openmetro/tripwarehouse/internal/config"
	"github.com/openmetro/tripwarehouse/internal/dimensions"
	"github.com/openmetro/tripwarehouse/internal/facts"
	"github.com/openmetro/tripwarehouse/internal/source"
	"github.com/openmetro/tripwarehouse/internal/store"
)

// A failing batch aborts the sequencer early; the workers still holding
// results for the bounded channel must be released, not left blocked.
func TestPipelineReleasesWorkersOnBatchError(t *testing.T) {
	rawDir := t.TempDir()
	// More undecodable batches than queue slots, so without
	// cancellation the surviving workers would block on the result
	// send forever.
	for i := 1; i <= 6; i++ {
		name := fmt.Sprintf("yellow_tripdata_2025-%02d.parquet", i)
		if err := os.WriteFile(filepath.Join(rawDir, name), []byte("not parquet"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	batchStore, err := source.OpenBatchStore(ctx, config.SourceConfig{
		Backend:  "local",
		LocalDir: rawDir,
		Pattern:  "yellow_tripdata_*.parquet",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer batchStore.Close()

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.CreateSchema(ctx); err != nil {
		t.Fatal(err)
	}

	dims := dimensions.Build(&source.ZoneLookup{
		Zones: []source.Zone{{LocationID: 4, Borough: "Manhattan", Zone: "Alphabet City", ServiceZone: "Yellow Zone"}},
	})
	builder := facts.NewBuilder(dims, "Manhattan")

	batches, err := batchStore.List(ctx)
	if err != nil {
		t.Fatal(err)
	}

	before := runtime.NumGoroutine()

	p := NewPipeline(batchStore, builder, db, 2, 1, 10)
	if _, err := p.Run(ctx, batches); err == nil {
		t.Fatal("expected batch decode error")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("pipeline goroutines leaked: %d before run, %d after",
				before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
