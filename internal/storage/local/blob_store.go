// Package local implements a filesystem blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory; buckets are its subdirectories.
	BaseDir string
}

// BlobStore writes objects to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a filesystem-backed blob store, creating BaseDir if needed.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close() //nolint:errcheck // probe only
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &BlobStore{baseDir: abs}, nil
}

// PutObject writes r to BaseDir/bucket/key through a temp file and rename, so the object
// is either absent or complete. It returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, req csr.PutRequest, r io.Reader) (string, error) {
	fullPath, err := s.objectPath(req.Bucket, req.Key)
	if err != nil {
		return "", csr.Resource("local put", err)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", writeErr("create parent directories", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", writeErr("create temp object", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()           //nolint:errcheck // already failing
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return "", writeErr("write temp object", err)
	}
	if req.Size >= 0 && n != req.Size {
		return "", writeErr("write temp object", fmt.Errorf("wrote %d bytes, expected %d", n, req.Size))
	}
	if err := tmp.Sync(); err != nil {
		return "", writeErr("sync temp object", err)
	}
	if err := tmp.Close(); err != nil {
		return "", writeErr("close temp object", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", writeErr("rename object", err)
	}
	committed = true
	return "file://" + fullPath, nil
}

func (s *BlobStore) objectPath(bucket, key string) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("bucket and key are required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, bucket, key))
	if !strings.HasPrefix(fullPath, filepath.Clean(s.baseDir)+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeErr(op string, err error) error {
	return &csr.Error{Kind: csr.KindResource, Op: op, Detail: csr.DetailWrite, Err: err}
}
