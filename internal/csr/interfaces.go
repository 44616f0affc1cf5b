package csr

import (
	"context"
	"io"
	"time"
)

// WriteResult describes how a null-guarded catalog write resolved.
type WriteResult int

// Null-guarded write results. Conflicts are returned as KindConflict errors.
const (
	WriteApplied WriteResult = iota + 1
	WriteUnchanged
)

func (r WriteResult) String() string {
	switch r {
	case WriteApplied:
		return "applied"
	case WriteUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Catalog is the relational store of report records. All writes are single-row and
// null-guarded, so concurrent workers need no other synchronization.
type Catalog interface {
	SelectMissing(ctx context.Context, predicate Predicate) ([]WorkItem, error)
	RecordURL(ctx context.Context, symbol string, year int, url string) (WriteResult, error)
	RecordStoragePath(ctx context.Context, symbol string, year int, reference string) (WriteResult, error)
	Register(ctx context.Context, records []ReportRecord) (int, error)
}

// Locator resolves a company and year to a document URL. found is false, with a nil
// error, when no qualifying result exists.
type Locator interface {
	Locate(ctx context.Context, companyName string, year int) (url string, found bool, err error)
}

// Downloader streams a URL to a local file.
type Downloader interface {
	Download(ctx context.Context, url string) (*LocalFile, error)
}

// Archiver uploads a local file to durable storage and returns the stored reference.
type Archiver interface {
	Archive(ctx context.Context, file *LocalFile, bucket, key string) (string, error)
}

// PutRequest describes one object write.
type PutRequest struct {
	Bucket      string
	Key         string
	ContentType string
	// Size is the exact content length, or -1 when unknown.
	Size     int64
	Metadata map[string]string
}

// BlobStore writes objects to a bucket-addressed durable store and returns the stored
// reference. Objects must never be visible half-written.
type BlobStore interface {
	PutObject(ctx context.Context, req PutRequest, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
