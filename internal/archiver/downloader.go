package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/hash/sha256"
)

// Waiter blocks until a request to rawURL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// DownloaderConfig controls document downloads.
type DownloaderConfig struct {
	// Dir is where temporary files are created; empty uses os.TempDir.
	Dir       string
	UserAgent string
	// MaxBytes aborts downloads larger than this. Zero means unlimited.
	MaxBytes int64
}

// Downloader streams documents to temporary files while hashing them.
type Downloader struct {
	cfg    DownloaderConfig
	client *http.Client
	waiter Waiter
	logger *zap.Logger
}

// NewDownloader builds a Downloader. client and waiter may be nil.
func NewDownloader(cfg DownloaderConfig, client *http.Client, waiter Waiter, logger *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{cfg: cfg, client: client, waiter: waiter, logger: logger}
}

// Download fetches url into a new temporary file. On any error no file is left behind.
func (d *Downloader) Download(ctx context.Context, url string) (*csr.LocalFile, error) {
	if d.waiter != nil {
		if err := d.waiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("download %s: %w", url, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, csr.NotFound("build download request", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, networkError(ctx, "download", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, csr.HTTPStatusError("download", resp.StatusCode)
	}

	return d.writeTemp(ctx, resp.Body)
}

func (d *Downloader) writeTemp(ctx context.Context, body io.Reader) (file *csr.LocalFile, err error) {
	f, err := os.CreateTemp(d.cfg.Dir, "csr-*.pdf")
	if err != nil {
		return nil, &csr.Error{Kind: csr.KindResource, Op: "create temp file", Detail: csr.DetailWrite, Err: err}
	}
	path := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()       //nolint:errcheck // already failing
			_ = os.Remove(path) //nolint:errcheck // best-effort cleanup
		}
	}()

	if d.cfg.MaxBytes > 0 {
		body = io.LimitReader(body, d.cfg.MaxBytes+1)
	}
	sum := sha256.New()
	dst := &trackingWriter{w: io.MultiWriter(f, sum)}
	n, err := io.Copy(dst, body)
	if err != nil {
		if dst.err != nil {
			return nil, &csr.Error{Kind: csr.KindResource, Op: "write temp file", Detail: csr.DetailWrite, Err: dst.err}
		}
		return nil, networkError(ctx, "read document body", err)
	}
	if d.cfg.MaxBytes > 0 && n > d.cfg.MaxBytes {
		return nil, csr.NotFound("download", fmt.Errorf("document exceeds %d bytes", d.cfg.MaxBytes))
	}
	if n == 0 {
		return nil, csr.NotFound("download", errors.New("empty document"))
	}
	if err := f.Sync(); err != nil {
		return nil, &csr.Error{Kind: csr.KindResource, Op: "sync temp file", Detail: csr.DetailWrite, Err: err}
	}
	if err := f.Close(); err != nil {
		return nil, &csr.Error{Kind: csr.KindResource, Op: "close temp file", Detail: csr.DetailWrite, Err: err}
	}
	return &csr.LocalFile{Path: path, Bytes: n, SHA256: sum.Hex()}, nil
}

// Remove deletes a downloaded file. Removing a missing file is not an error.
func Remove(file *csr.LocalFile) error {
	if file == nil || file.Path == "" {
		return nil
	}
	if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", file.Path, err)
	}
	return nil
}

type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func networkError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return &csr.Error{Kind: csr.KindTransient, Op: op, Detail: csr.DetailNetwork, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
