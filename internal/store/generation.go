package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openmetro/tripwarehouse/internal/logging"
)

// ErrNoGeneration is returned when no generation has been published yet.
var ErrNoGeneration = errors.New("no published generation")

const currentFile = "CURRENT.json"

// Manifest describes one published generation. It doubles as the build
// report: readers discover the live file through it, and operators read
// the row accounting out of it.
type Manifest struct {
	GenerationID string    `json:"generation_id"`
	DBFile       string    `json:"db_file"`
	Borough      string    `json:"borough"`
	BuiltAt      time.Time `json:"built_at"`

	SourceBatches []string `json:"source_batches"`

	RecordsRead int64            `json:"records_read"`
	FactRows    int64            `json:"fact_rows"`
	DroppedRows map[string]int64 `json:"dropped_rows,omitempty"`
	UnknownRows map[string]int64 `json:"unknown_resolutions,omitempty"`

	Aggregates map[string]AggregateStatus `json:"aggregates"`

	BuildDuration string `json:"build_duration"`
}

// AggregateStatus records the outcome of one aggregate build.
type AggregateStatus struct {
	OK       bool   `json:"ok"`
	Rows     int64  `json:"rows,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Manager owns the generation directory: it names fresh generation
// files, flips the CURRENT pointer atomically, and garbage-collects
// generations older than the retention window.
type Manager struct {
	dir  string
	keep int
}

// NewManager creates a generation manager rooted at dir.
func NewManager(dir string, keep int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create generation directory %s: %w", dir, err)
	}
	if keep < 1 {
		keep = 1
	}
	return &Manager{dir: dir, keep: keep}, nil
}

// NewGenerationPath reserves a fresh generation id and returns the path
// the build should write to. The file is invisible to readers until
// Publish flips the pointer.
func (m *Manager) NewGenerationPath() (id string, path string) {
	id = uuid.NewString()
	return id, filepath.Join(m.dir, "trips_"+id+".duckdb")
}

// Current reads the published manifest.
func (m *Manager) Current() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, currentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoGeneration
		}
		return nil, fmt.Errorf("read current manifest: %w", err)
	}

	var mf Manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse current manifest: %w", err)
	}
	return &mf, nil
}

// CurrentDBPath returns the absolute path of the live generation file.
func (m *Manager) CurrentDBPath() (string, error) {
	mf, err := m.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dir, mf.DBFile), nil
}

// Publish writes the manifest to a temp file and renames it over
// CURRENT.json. The rename is the commit point: readers either see the
// old generation or the new one, never a half-written pointer.
func (m *Manager) Publish(mf *Manifest) error {
	path := filepath.Join(m.dir, currentFile)

	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename manifest: %w", err)
	}

	logging.Component("store").Info("published generation",
		"generation_id", mf.GenerationID,
		"db_file", mf.DBFile,
		"fact_rows", mf.FactRows,
	)
	return nil
}

// CollectGarbage removes generation files beyond the retention window.
// The live generation always survives; with keep=2 the previous one
// does too, so in-flight readers are never pulled out from under.
func (m *Manager) CollectGarbage() error {
	mf, err := m.Current()
	if err != nil {
		if errors.Is(err, ErrNoGeneration) {
			return nil
		}
		return err
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("read generation directory: %w", err)
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "trips_") || !strings.HasSuffix(name, ".duckdb") {
			continue
		}
		if name == mf.DBFile {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: name, modTime: info.ModTime()})
	}

	// Newest first; the live file is excluded above, so the retention
	// window covers it plus keep-1 predecessors.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	log := logging.Component("store")
	for i, c := range candidates {
		if i < m.keep-1 {
			continue
		}
		path := filepath.Join(m.dir, c.name)
		if err := os.Remove(path); err != nil {
			log.Warn("failed to remove stale generation", "file", c.name, "error", err)
			continue
		}
		// DuckDB leaves a write-ahead log next to the database file.
		os.Remove(path + ".wal")
		log.Info("removed stale generation", "file", c.name)
	}
	return nil
}
