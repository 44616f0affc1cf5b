// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// BlobStore writes report objects to GCS. Objects only become visible once the upload
// is finalized, and each key is written at most once.
type BlobStore struct {
	client *storage.Client
	logger *zap.Logger
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{client: client, logger: logger}, nil
}

// PutObject uploads r to req.Bucket/req.Key and returns a gs:// URI. If the object
// already exists from an earlier attempt the write is treated as done.
func (s *BlobStore) PutObject(ctx context.Context, req csr.PutRequest, r io.Reader) (string, error) {
	if strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.Key) == "" {
		return "", csr.Resource("gcs put", errors.New("bucket and key are required"))
	}
	ref := fmt.Sprintf("gs://%s/%s", req.Bucket, req.Key)

	obj := s.client.Bucket(req.Bucket).Object(req.Key).
		If(storage.Conditions{DoesNotExist: true}).
		Retryer(storage.WithPolicy(storage.RetryNever))
	writer := obj.NewWriter(ctx)
	writer.ContentType = req.ContentType
	writer.Metadata = req.Metadata

	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if alreadyExists(err) || alreadyExists(closeErr) {
			s.logger.Info("object already archived", zap.String("reference", ref))
			return ref, nil
		}
		return "", classify(ctx, fmt.Errorf("copy object: %w", err))
	}
	if err := writer.Close(); err != nil {
		if alreadyExists(err) {
			s.logger.Info("object already archived", zap.String("reference", ref))
			return ref, nil
		}
		return "", classify(ctx, fmt.Errorf("close writer: %w", err))
	}
	return ref, nil
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("gcs put: %w", ctxErr)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		kind := csr.KindResource
		if gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusRequestTimeout || gerr.Code >= 500 {
			kind = csr.KindTransient
		}
		return &csr.Error{Kind: kind, Op: "gcs put", Detail: csr.DetailUpload, StatusCode: gerr.Code, Err: err}
	}
	return &csr.Error{Kind: csr.KindTransient, Op: "gcs put", Detail: csr.DetailNetwork, Err: err}
}
