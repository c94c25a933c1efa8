package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"sort"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local filesystem driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver

	"github.com/openmetro/tripwarehouse/internal/config"
	"github.com/openmetro/tripwarehouse/internal/logging"
)

// Batch identifies one discoverable monthly source file.
type Batch struct {
	Name string
	Size int64
}

// BatchStore lists and reads monthly trip batches from a blob bucket
// (local directory, S3-compatible store, or GCS).
type BatchStore struct {
	bucket  *blob.Bucket
	prefix  string
	pattern string
}

// OpenBatchStore opens the configured batch location.
func OpenBatchStore(ctx context.Context, cfg config.SourceConfig) (*BatchStore, error) {
	bucketURL, err := sourceURL(cfg)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open batch store %s: %w", bucketURL, err)
	}

	return &BatchStore{
		bucket:  bucket,
		prefix:  cfg.Prefix,
		pattern: cfg.Pattern,
	}, nil
}

func sourceURL(cfg config.SourceConfig) (string, error) {
	switch cfg.Backend {
	case "local":
		abs, err := filepath.Abs(cfg.LocalDir)
		if err != nil {
			return "", fmt.Errorf("resolve source directory %s: %w", cfg.LocalDir, err)
		}
		return "file://" + abs, nil
	case "s3":
		// For AWS: s3://bucket?region=us-east-1
		// For custom endpoint: s3://bucket?endpoint=...&s3ForcePathStyle=true
		bucketURL := fmt.Sprintf("s3://%s", cfg.Bucket)
		params := url.Values{}
		if cfg.S3Region != "" {
			params.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			params.Set("endpoint", cfg.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		if len(params) > 0 {
			bucketURL = bucketURL + "?" + params.Encode()
		}
		return bucketURL, nil
	case "gcs":
		return fmt.Sprintf("gs://%s", cfg.Bucket), nil
	default:
		return "", fmt.Errorf("unknown source backend %q", cfg.Backend)
	}
}

// List returns the batches matching the configured pattern, sorted by
// name. Monthly files sort chronologically by name, which fixes the
// deterministic processing order.
func (s *BatchStore) List(ctx context.Context) ([]Batch, error) {
	log := logging.Component("source")

	var batches []Batch
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		if obj.IsDir {
			continue
		}
		matched, err := path.Match(s.pattern, path.Base(obj.Key))
		if err != nil {
			return nil, fmt.Errorf("invalid batch pattern %q: %w", s.pattern, err)
		}
		if !matched {
			continue
		}
		batches = append(batches, Batch{Name: obj.Key, Size: obj.Size})
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].Name < batches[j].Name })

	log.Info("discovered batches", "count", len(batches), "pattern", s.pattern)
	return batches, nil
}

// ReadAll fetches one batch into memory.
func (s *BatchStore) ReadAll(ctx context.Context, name string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", name, err)
	}
	return data, nil
}

// Close releases the underlying bucket.
func (s *BatchStore) Close() error {
	return s.bucket.Close()
}
