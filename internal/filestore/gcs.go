package filestore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore uploads to Google Cloud Storage. The logical bucket is used as an
// object prefix inside one GCS bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses application default credentials when keyPath is empty.
func NewGCSStore(ctx context.Context, bucket, keyPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if keyPath != "" {
		opts = append(opts, option.WithCredentialsFile(keyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

var _ Store = (*GCSStore)(nil)

func (s *GCSStore) Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (string, error) {
	name, err := cleanName(bucket, name)
	if err != nil {
		return "", err
	}
	object := bucket + "/" + name
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("copy to gs://%s/%s: %w", s.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %s: %w", object, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, escapePath(object)), nil
}

func (s *GCSStore) Close() error { return s.client.Close() }
