// Package objectstore uploads and downloads blobs by key, backed by
// Google Cloud Storage or a local directory.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sentra/backend/pkg/logger"
)

// ErrNotFound is returned when no object exists under a key
var ErrNotFound = errors.New("object not found")

// Store is the object storage collaborator
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Open returns a GCS store for "gs://bucket/prefix" sources and a local store otherwise
func Open(ctx context.Context, source, credentialsFile string, log *logger.Logger) (Store, error) {
	if rest, ok := strings.CutPrefix(source, "gs://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid gcs source %q", source)
		}
		return NewGCSStore(ctx, bucket, prefix, credentialsFile, log)
	}
	return NewLocalStore(source), nil
}

// LocalStore keeps objects as files under a root directory
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Upload writes r to the file for key
func (s *LocalStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return f.Close()
}

// Download reads the file for key
func (s *LocalStore) Download(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Close is a no-op
func (s *LocalStore) Close() error { return nil }
