// Package minio provides a BlobStore backed by MinIO or any S3-compatible service.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Config captures S3 endpoint credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Region skips the bucket-location lookup when set.
	Region    string
	Transport http.RoundTripper
}

// BlobStore writes report objects with single PUT or completed multipart uploads,
// both of which are atomic on S3.
type BlobStore struct {
	client *minio.Client
	logger *zap.Logger
}

// New builds a MinIO client for cfg.
func New(cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{client: client, logger: logger}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (s *BlobStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	s.logger.Info("bucket created", zap.String("bucket", bucket))
	return nil
}

// PutObject uploads r and returns the "bucket/key" reference.
func (s *BlobStore) PutObject(ctx context.Context, req csr.PutRequest, r io.Reader) (string, error) {
	if strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.Key) == "" {
		return "", csr.Resource("minio put", errors.New("bucket and key are required"))
	}
	info, err := s.client.PutObject(ctx, req.Bucket, req.Key, r, req.Size, minio.PutObjectOptions{
		ContentType:  req.ContentType,
		UserMetadata: req.Metadata,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	s.logger.Debug("object uploaded",
		zap.String("bucket", info.Bucket),
		zap.String("key", info.Key),
		zap.String("etag", info.ETag),
	)
	return req.Bucket + "/" + req.Key, nil
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("minio put: %w", ctxErr)
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return &csr.Error{Kind: csr.KindTransient, Op: "minio put", Detail: csr.DetailNetwork, Err: err}
	}
	kind := csr.KindResource
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= 500 || resp.Code == "SlowDown" {
		kind = csr.KindTransient
	}
	return &csr.Error{Kind: kind, Op: "minio put", Detail: csr.DetailUpload, StatusCode: resp.StatusCode, Err: err}
}
