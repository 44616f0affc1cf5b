package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/archiver"
	catalogmem "github.com/JakeFAU/csr-report-archiver/internal/catalog/memory"
	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/retry"
	storagemem "github.com/JakeFAU/csr-report-archiver/internal/storage/memory"
)

const (
	testBucket = "csreport"
	pdfBody    = "%PDF-1.7\nsustainability\n%%EOF"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func fastPolicies() Policies {
	p := fastPolicy()
	return Policies{Locate: p, Download: p, Upload: p, Catalog: p}
}

// docServer serves PDFs for any path ending in .pdf, 404 for paths containing
// "missing", and 404 everywhere while unavailable is set.
type docServer struct {
	*httptest.Server
	unavailable atomic.Bool
	requests    atomic.Int64
}

func newDocServer(t *testing.T) *docServer {
	t.Helper()
	ds := &docServer{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.requests.Add(1)
		if ds.unavailable.Load() || strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(pdfBody + r.URL.Path)) //nolint:errcheck // test server
	}))
	t.Cleanup(ds.Close)
	return ds
}

// client routes every request, whatever its host, to the test server.
func (ds *docServer) client() *http.Client {
	target, _ := url.Parse(ds.URL) //nolint:errcheck // httptest URL
	return &http.Client{Transport: &rewriteTransport{target: target, base: http.DefaultTransport}}
}

type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	clone.Host = rt.target.Host
	return rt.base.RoundTrip(clone)
}

// fakeLocator answers from a map keyed by company name.
type fakeLocator struct {
	mu    sync.Mutex
	urls  map[string]string
	err   error
	calls int
}

func (f *fakeLocator) Locate(_ context.Context, companyName string, _ int) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	u, ok := f.urls[companyName]
	return u, ok, nil
}

func (f *fakeLocator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingStore fails every put for keys containing one of the listed symbols.
type failingStore struct {
	next    csr.BlobStore
	symbols []string
	err     error
	calls   atomic.Int64
}

func (f *failingStore) PutObject(ctx context.Context, req csr.PutRequest, r io.Reader) (string, error) {
	f.calls.Add(1)
	for _, s := range f.symbols {
		if strings.HasPrefix(filepath.Base(req.Key), s+"_") {
			return "", f.err
		}
	}
	return f.next.PutObject(ctx, req, r)
}

type countingObserver struct {
	mu             sync.Mutex
	outcomes       []csr.Outcome
	retries        map[string]int
	publishFailure int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{retries: make(map[string]int)}
}

func (c *countingObserver) Outcome(o csr.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *countingObserver) Retry(stage string, _ csr.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[stage]++
}

func (c *countingObserver) Stage(string, time.Duration) {}

func (c *countingObserver) PublishFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishFailure++
}

type harness struct {
	catalog  *catalogmem.Catalog
	store    *storagemem.BlobStore
	docs     *docServer
	tempDir  string
	locator  *fakeLocator
	observer *countingObserver
	dl       *archiver.Downloader
	arch     csr.Archiver
}

func newHarness(t *testing.T, records ...csr.ReportRecord) *harness {
	t.Helper()
	h := &harness{
		catalog:  catalogmem.New(records...),
		store:    storagemem.NewBlobStore(),
		docs:     newDocServer(t),
		tempDir:  t.TempDir(),
		locator:  &fakeLocator{urls: map[string]string{}},
		observer: newCountingObserver(),
	}
	h.dl = archiver.NewDownloader(archiver.DownloaderConfig{Dir: h.tempDir}, h.docs.client(), nil, nil)
	arch, err := archiver.New(h.store, archiver.Config{}, nil)
	require.NoError(t, err)
	h.arch = arch
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Catalog:    h.catalog,
		Locator:    h.locator,
		Downloader: h.dl,
		Archiver:   h.arch,
		Observer:   h.observer,
	}
}

func (h *harness) orchestrator(t *testing.T, mode csr.Mode, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(Config{Mode: mode, Bucket: testBucket, Policies: fastPolicies()}, deps, "run-test", nil)
	require.NoError(t, err)
	return o
}

func (h *harness) requireNoTempFiles(t *testing.T) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.tempDir, "csr-*.pdf"))
	require.NoError(t, err)
	require.Empty(t, matches, "ephemeral files left behind")
}

func (h *harness) record(t *testing.T, symbol string, year int) csr.ReportRecord {
	t.Helper()
	rec, ok := h.catalog.Get(csr.Key{Symbol: symbol, Year: year})
	require.True(t, ok, "record %s/%d missing", symbol, year)
	return rec
}

func row(symbol, company string, year int) csr.ReportRecord {
	return csr.ReportRecord{Symbol: symbol, CompanyName: company, Year: year}
}

func strPtr(s string) *string { return &s }

var errBoom = errors.New("boom")
