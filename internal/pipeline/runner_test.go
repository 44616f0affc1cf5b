package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/archiver"
	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/dispatcher"
)

var companies = []csr.ReportRecord{
	row("ACME", "Acme Corp", 2020),
	row("ACME", "Acme Corp", 2021),
	row("BETA", "Beta Inc", 2020),
	row("GAMA", "Gamma Holdings", 2022),
	row("DLTA", "Delta Group", 2019),
	row("EPSI", "Epsilon plc", 2023),
}

func seedLocator(h *harness) {
	h.locator.urls["Acme Corp"] = "https://acme.example/csr.pdf"
	h.locator.urls["Beta Inc"] = "https://beta.example/esg.pdf"
	h.locator.urls["Gamma Holdings"] = "https://gamma.example/missing.pdf"
	h.locator.urls["Delta Group"] = "https://delta.example/report.pdf"
}

func snapshot(t *testing.T, h *harness) map[csr.Key]csr.ReportRecord {
	t.Helper()
	out := make(map[csr.Key]csr.ReportRecord, len(companies))
	for _, c := range companies {
		out[c.Key()] = h.record(t, c.Symbol, c.Year)
	}
	return out
}

func newTestRunner(t *testing.T, h *harness, mode csr.Mode, workers int, deps Deps) *Runner {
	t.Helper()
	return NewRunner(
		NewSelector(h.catalog, 42, 0),
		h.orchestrator(t, mode, deps),
		dispatcher.New(workers, nil, nil),
		mode,
		nil,
	)
}

func TestRunnerFullRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, companies...)
	seedLocator(h)
	runner := newTestRunner(t, h, csr.ModeFull, 4, h.deps())

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Recorded, summary.String())
	require.Equal(t, 1, summary.Skipped[csr.ReasonNoURL])
	require.Equal(t, 1, summary.Skipped[csr.ReasonDownloadFailed])
	require.False(t, summary.HasFailures())
	first := snapshot(t, h)
	objects := h.store.Len()

	summary, err = runner.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Recorded)
	require.Equal(t, 1, summary.Skipped[csr.ReasonNoURL])
	require.Equal(t, 1, summary.Skipped[csr.ReasonDownloadFailed])
	require.Equal(t, first, snapshot(t, h))
	require.Equal(t, objects, h.store.Len())
	h.requireNoTempFiles(t)
}

func TestRunnerConcurrentMatchesSequential(t *testing.T) {
	t.Parallel()

	run := func(workers int) map[csr.Key]csr.ReportRecord {
		h := newHarness(t, companies...)
		seedLocator(h)
		_, err := newTestRunner(t, h, csr.ModeFull, workers, h.deps()).Run(context.Background())
		require.NoError(t, err)
		h.requireNoTempFiles(t)
		return snapshot(t, h)
	}

	require.Equal(t, run(1), run(8))
}

func TestRunnerInvariantHoldsUnderInjectedFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, companies...)
	seedLocator(h)
	h.locator.urls["Epsilon plc"] = "https://epsilon.example/csr.pdf"
	store := &failingStore{next: h.store, symbols: []string{"BETA", "EPSI"}, err: csr.Transient("put", errBoom)}
	arch, err := archiver.New(store, archiver.Config{}, nil)
	require.NoError(t, err)
	deps := h.deps()
	deps.Archiver = arch

	summary, err := newTestRunner(t, h, csr.ModeFull, 3, deps).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Skipped[csr.ReasonUploadFailed], summary.String())
	require.Equal(t, 3, summary.Recorded)
	require.Equal(t, len(companies), summary.Total())

	for key, rec := range snapshot(t, h) {
		if rec.StoragePath != nil {
			require.NotNil(t, rec.ReportURL, "%s has a storage path without a report url", key)
		}
	}
	h.requireNoTempFiles(t)
}

func TestRunnerLocateModeOnlyRecordsURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, companies...)
	seedLocator(h)
	summary, err := newTestRunner(t, h, csr.ModeLocate, 2, h.deps()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Located)
	require.Equal(t, 1, summary.Skipped[csr.ReasonNoURL])
	require.Zero(t, h.docs.requests.Load())
	require.Zero(t, h.store.Len())

	summary, err = newTestRunner(t, h, csr.ModeArchive, 2, h.deps()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Recorded)
	require.Equal(t, 1, summary.Skipped[csr.ReasonDownloadFailed])
	require.Equal(t, 6, h.locator.Calls(), "archive mode never locates")
}

func TestRunnerReportsFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, companies...)
	h.locator.err = csr.Transient("search", errBoom)
	summary, err := newTestRunner(t, h, csr.ModeFull, 2, h.deps()).Run(context.Background())
	require.NoError(t, err)
	require.True(t, summary.HasFailures())
	require.Equal(t, len(companies), summary.Failed[csr.ReasonLocatorUnreachable])
}

type brokenCatalog struct {
	csr.Catalog
}

func (brokenCatalog) SelectMissing(context.Context, csr.Predicate) ([]csr.WorkItem, error) {
	return nil, errors.New("connection refused")
}

func TestRunnerSelectError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	runner := NewRunner(
		NewSelector(brokenCatalog{}, 1, 0),
		h.orchestrator(t, csr.ModeFull, h.deps()),
		dispatcher.New(1, nil, nil),
		csr.ModeFull,
		nil,
	)
	_, err := runner.Run(context.Background())
	require.ErrorContains(t, err, "connection refused")
}
