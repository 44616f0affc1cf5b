// Package archiver downloads located reports to local disk and copies them into
// durable object storage.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// MetadataSHA256 is the object metadata key carrying the document checksum.
const MetadataSHA256 = "sha256"

// ObjectKey returns the storage key for a report: {prefix/}{SYMBOL}_{YEAR}.pdf.
func ObjectKey(prefix, symbol string, year int) string {
	name := fmt.Sprintf("%s_%d.pdf", strings.ToUpper(strings.TrimSpace(symbol)), year)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Config controls uploads.
type Config struct {
	ContentType string
}

// Archiver implements csr.Archiver on top of a BlobStore.
type Archiver struct {
	store       csr.BlobStore
	contentType string
	logger      *zap.Logger
}

// New builds an Archiver.
func New(store csr.BlobStore, cfg Config, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, errors.New("archiver: blob store is required")
	}
	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, contentType: contentType, logger: logger}, nil
}

// Archive uploads file to bucket/key and returns the stored reference. The local file is
// left in place; its owner removes it.
func (a *Archiver) Archive(ctx context.Context, file *csr.LocalFile, bucket, key string) (string, error) {
	if file == nil || file.Path == "" {
		return "", csr.Resource("archive", errors.New("no local file"))
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return "", &csr.Error{Kind: csr.KindResource, Op: "open local file", Detail: csr.DetailUpload, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Debug("close local file", zap.String("path", file.Path), zap.Error(cerr))
		}
	}()

	req := csr.PutRequest{
		Bucket:      bucket,
		Key:         key,
		ContentType: a.contentType,
		Size:        file.Bytes,
	}
	if file.SHA256 != "" {
		req.Metadata = map[string]string{MetadataSHA256: file.SHA256}
	}
	ref, err := a.store.PutObject(ctx, req, f)
	if err != nil {
		return "", classifyUpload(ctx, err)
	}
	a.logger.Debug("object stored", zap.String("reference", ref), zap.Int64("bytes", file.Bytes))
	return ref, nil
}

// classifyUpload keeps kinds chosen by the store and reports everything else as a
// resource failure of the upload.
func classifyUpload(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("upload: %w", ctxErr)
	}
	if csr.KindOf(err) != csr.KindUnknown {
		return err
	}
	return &csr.Error{Kind: csr.KindResource, Op: "upload", Detail: csr.DetailUpload, Err: err}
}
