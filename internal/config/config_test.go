package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Source.Backend != "local" {
		t.Errorf("backend = %q, want local", cfg.Source.Backend)
	}
	if cfg.Source.Pattern != "yellow_tripdata_*.parquet" {
		t.Errorf("pattern = %q", cfg.Source.Pattern)
	}
	if cfg.Build.Borough != "Manhattan" {
		t.Errorf("borough = %q, want Manhattan", cfg.Build.Borough)
	}
	if cfg.Build.Workers < 1 {
		t.Errorf("workers = %d", cfg.Build.Workers)
	}
	if cfg.Build.ODFlowMinTrips != 100 {
		t.Errorf("od flow min trips = %d, want 100", cfg.Build.ODFlowMinTrips)
	}
	if cfg.Store.MemoryLimit != "8GB" {
		t.Errorf("memory limit = %q", cfg.Store.MemoryLimit)
	}
	if cfg.Store.KeepGenerations != 2 {
		t.Errorf("keep generations = %d, want 2", cfg.Store.KeepGenerations)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
source:
  backend: local
  local_dir: /srv/trips
  zone_lookup: /srv/trips/zones.csv
build:
  borough: Brooklyn
  workers: 3
  od_flow_min_trips: 50
store:
  data_dir: /srv/warehouse
  keep_generations: 4
logging:
  format: json
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.LocalDir != "/srv/trips" {
		t.Errorf("local dir = %q", cfg.Source.LocalDir)
	}
	if cfg.Build.Borough != "Brooklyn" || cfg.Build.Workers != 3 || cfg.Build.ODFlowMinTrips != 50 {
		t.Errorf("build = %+v", cfg.Build)
	}
	if cfg.Store.DataDir != "/srv/warehouse" || cfg.Store.KeepGenerations != 4 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOROUGH", "Queens")
	t.Setenv("BUILD_WORKERS", "7")
	t.Setenv("OD_FLOW_MIN_TRIPS", "25")
	t.Setenv("METRICS_ADDRESS", ":9104")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Build.Borough != "Queens" {
		t.Errorf("borough = %q, want Queens", cfg.Build.Borough)
	}
	if cfg.Build.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Build.Workers)
	}
	if cfg.Build.ODFlowMinTrips != 25 {
		t.Errorf("od flow min trips = %d, want 25", cfg.Build.ODFlowMinTrips)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != ":9104" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoadInvalidBackend(t *testing.T) {
	t.Setenv("SOURCE_BACKEND", "carrier-pigeon")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadBucketBackendRequiresBucket(t *testing.T) {
	t.Setenv("SOURCE_BACKEND", "s3")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for s3 backend without bucket")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
