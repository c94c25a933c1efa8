package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/openmetro/tripwarehouse/internal/logging"
)

// Zone is one row of the static zone lookup.
type Zone struct {
	LocationID  int64
	Borough     string
	Zone        string
	ServiceZone string
}

// ZoneLookup is the parsed static reference table.
type ZoneLookup struct {
	Zones   []Zone
	Skipped int64 // rows dropped for missing id/borough/zone
}

// LoadZoneLookup reads the zone lookup CSV. Plain, gzip (.gz) and
// zstd (.zst) encodings are accepted. A missing or empty lookup is an
// error: the whole rebuild depends on it.
func LoadZoneLookup(path string) (*ZoneLookup, error) {
	log := logging.Component("source")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone lookup %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip zone lookup %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd zone lookup %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read zone lookup header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range []string{"locationid", "borough", "zone"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("zone lookup %s missing required column %q", path, col)
		}
	}
	svcIdx, hasSvc := idx["service_zone"]

	lookup := &ZoneLookup{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read zone lookup row: %w", err)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(row[idx["locationid"]]), 10, 64)
		borough := strings.TrimSpace(row[idx["borough"]])
		zone := strings.TrimSpace(row[idx["zone"]])
		if err != nil || borough == "" || zone == "" {
			lookup.Skipped++
			continue
		}

		serviceZone := ""
		if hasSvc && svcIdx < len(row) {
			serviceZone = strings.TrimSpace(row[svcIdx])
		}
		if serviceZone == "" {
			serviceZone = "Unknown"
		}

		lookup.Zones = append(lookup.Zones, Zone{
			LocationID:  id,
			Borough:     borough,
			Zone:        zone,
			ServiceZone: serviceZone,
		})
	}

	if len(lookup.Zones) == 0 {
		return nil, fmt.Errorf("zone lookup %s contains no usable zones", path)
	}

	log.Info("loaded zone lookup", "zones", len(lookup.Zones), "skipped", lookup.Skipped)
	return lookup, nil
}
