package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"sentra/backend/pkg/logger"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Cloud Storage bucket under a key prefix
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	log    *logger.Logger
}

// NewGCSStore connects to bucket. An empty credentialsFile uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string, log *logger.Logger) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log.Info("Object storage initialized", "bucket", bucket, "prefix", prefix)

	return &GCSStore{client: client, bucket: bucket, prefix: prefix, log: log}, nil
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, key))
}

// Upload streams r into the object for key
func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := s.object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	return nil
}

// Download reads the whole object for key
func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Close releases the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
