package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManagerNewGenerationPath(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	id, path := m.NewGenerationPath()
	if id == "" {
		t.Fatal("empty generation id")
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "trips_") || !strings.HasSuffix(base, ".duckdb") {
		t.Errorf("generation file = %s", base)
	}
	if !strings.Contains(base, id) {
		t.Errorf("generation file %s does not carry id %s", base, id)
	}

	id2, path2 := m.NewGenerationPath()
	if id2 == id || path2 == path {
		t.Error("generation ids must be unique")
	}
}

func TestManagerCurrentBeforePublish(t *testing.T) {
	m, err := NewManager(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Current(); !errors.Is(err, ErrNoGeneration) {
		t.Fatalf("Current = %v, want ErrNoGeneration", err)
	}
}

func TestManagerPublishAndCurrent(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	if err != nil {
		t.Fatal(err)
	}

	id, path := m.NewGenerationPath()
	if err := os.WriteFile(path, []byte("db"), 0o644); err != nil {
		t.Fatal(err)
	}

	mf := &Manifest{
		GenerationID: id,
		DBFile:       filepath.Base(path),
		Borough:      "Manhattan",
		BuiltAt:      time.Now().UTC(),
		FactRows:     1234,
		DroppedRows:  map[string]int64{"negative_fare": 7},
		Aggregates: map[string]AggregateStatus{
			"od_flows": {OK: true, Rows: 42},
		},
	}
	if err := m.Publish(mf); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := m.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got.GenerationID != id || got.FactRows != 1234 {
		t.Errorf("manifest = %+v", got)
	}
	if got.DroppedRows["negative_fare"] != 7 {
		t.Errorf("dropped rows = %+v", got.DroppedRows)
	}
	if status := got.Aggregates["od_flows"]; !status.OK || status.Rows != 42 {
		t.Errorf("aggregate status = %+v", status)
	}

	dbPath, err := m.CurrentDBPath()
	if err != nil {
		t.Fatalf("CurrentDBPath: %v", err)
	}
	if dbPath != path {
		t.Errorf("db path = %s, want %s", dbPath, path)
	}

	// No temp pointer left behind after the rename.
	if _, err := os.Stat(filepath.Join(dir, "CURRENT.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp pointer file survived publish")
	}
}

func TestManagerCollectGarbage(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Three generations published in order; keep=2 must retain the
	// live one plus its predecessor.
	var paths []string
	for i := 0; i < 3; i++ {
		id, path := m.NewGenerationPath()
		if err := os.WriteFile(path, []byte("db"), 0o644); err != nil {
			t.Fatal(err)
		}
		// Distinct mtimes so retention ordering is unambiguous.
		mtime := time.Now().Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
		if err := m.Publish(&Manifest{GenerationID: id, DBFile: filepath.Base(path)}); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}

	if err := m.CollectGarbage(); err != nil {
		t.Fatalf("CollectGarbage: %v", err)
	}

	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("oldest generation survived garbage collection")
	}
	for _, p := range paths[1:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("retained generation missing: %s", p)
		}
	}
}

func TestManagerCollectGarbageNoCurrent(t *testing.T) {
	m, err := NewManager(t.TempDir(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CollectGarbage(); err != nil {
		t.Fatalf("CollectGarbage without a published generation: %v", err)
	}
}
