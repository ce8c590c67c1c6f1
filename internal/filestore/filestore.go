// Package filestore uploads binary objects and returns their public URL.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrInvalidName = errors.New("invalid object name")

// Store is the object storage used for product images.
type Store interface {
	Upload(ctx context.Context, bucket, name, contentType string, r io.Reader) (string, error)
}

// ObjectName builds the stored name for an upload: the upload time in unix
// milliseconds plus the original extension.
func ObjectName(now time.Time, original string) string {
	ext := strings.ToLower(path.Ext(original))
	return fmt.Sprintf("%d%s", now.UnixMilli(), ext)
}

func cleanName(bucket, name string) (string, error) {
	if bucket == "" || name == "" {
		return "", ErrInvalidName
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name || strings.Contains(bucket, "/") || strings.Contains(bucket, "..") {
		return "", ErrInvalidName
	}
	return clean, nil
}

// LocalStore writes objects under Root/<bucket>/<name> and serves them from BaseURL.
type LocalStore struct {
	Root    string
	BaseURL string
}

func NewLocalStore(root, baseURL string) *LocalStore {
	return &LocalStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) Upload(ctx context.Context, bucket, name, _ string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(bucket, name)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.Root, bucket, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create bucket dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return s.BaseURL + "/" + url.PathEscape(bucket) + "/" + escapePath(name), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
