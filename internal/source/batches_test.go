package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmetro/tripwarehouse/internal/config"
)

func TestBatchStoreListAndRead(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"yellow_tripdata_2025-02.parquet": "feb",
		"yellow_tripdata_2025-01.parquet": "jan",
		"green_tripdata_2025-01.parquet":  "wrong series",
		"taxi_zone_lookup.csv":            "not a batch",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	store, err := OpenBatchStore(ctx, config.SourceConfig{
		Backend:  "local",
		LocalDir: dir,
		Pattern:  "yellow_tripdata_*.parquet",
	})
	if err != nil {
		t.Fatalf("OpenBatchStore: %v", err)
	}
	defer store.Close()

	batches, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	// Name order is the processing order: January before February.
	if batches[0].Name != "yellow_tripdata_2025-01.parquet" {
		t.Errorf("first batch = %s", batches[0].Name)
	}
	if batches[1].Name != "yellow_tripdata_2025-02.parquet" {
		t.Errorf("second batch = %s", batches[1].Name)
	}

	data, err := store.ReadAll(ctx, batches[0].Name)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "jan" {
		t.Errorf("batch content = %q", data)
	}
}

func TestBatchStoreUnknownBackend(t *testing.T) {
	_, err := OpenBatchStore(context.Background(), config.SourceConfig{Backend: "ftp"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestSourceURL(t *testing.T) {
	url, err := sourceURL(config.SourceConfig{
		Backend:    "s3",
		Bucket:     "trips",
		S3Region:   "us-east-1",
		S3Endpoint: "http://localhost:9000",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "s3://trips?endpoint=http%3A%2F%2Flocalhost%3A9000&region=us-east-1&s3ForcePathStyle=true"
	if url != want {
		t.Errorf("sourceURL = %s, want %s", url, want)
	}

	url, err = sourceURL(config.SourceConfig{Backend: "gcs", Bucket: "trips"})
	if err != nil {
		t.Fatal(err)
	}
	if url != "gs://trips" {
		t.Errorf("sourceURL = %s", url)
	}
}
