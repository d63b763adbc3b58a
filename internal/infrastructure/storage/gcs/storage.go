// Package gcs stores artifacts as Google Cloud Storage objects.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type Storage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New connects with application default credentials. Objects are written
// under prefix when it is not empty.
func New(ctx context.Context, bucket, prefix string) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &Storage{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	name, err := objectName(s.prefix, key)
	if err != nil {
		return err
	}
	writer := s.bucket.Object(name).NewWriter(ctx)
	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", name, err)
	}
	return nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := objectName(s.prefix, key)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.WrapError(domain.ErrNotFound, "gcs.open", err)
	}
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", name, err)
	}
	return reader, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	name, err := objectName(s.prefix, key)
	if err != nil {
		return err
	}
	if err := s.bucket.Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object %s: %w", name, err)
	}
	return nil
}

func objectName(prefix, key string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(key))
	if clean == "/" || strings.Contains(key, "..") {
		return "", domain.WrapError(domain.ErrInvalidInput, "gcs.object_name", fmt.Errorf("invalid artifact key %q", key))
	}
	name := strings.TrimPrefix(clean, "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		name = p + "/" + name
	}
	return name, nil
}
