package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func ptr(s string) *string { return &s }

func TestSelectMissing(t *testing.T) {
	t.Parallel()

	c := New(
		csr.ReportRecord{Symbol: "BETA", CompanyName: "Beta", Year: 2020},
		csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2021},
		csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2020, ReportURL: ptr("https://a.example/r.pdf")},
		csr.ReportRecord{Symbol: "DONE", CompanyName: "Done", Year: 2020,
			ReportURL: ptr("https://d.example/r.pdf"), StoragePath: ptr("csreport/DONE_2020.pdf")},
	)

	locate, err := c.SelectMissing(context.Background(), csr.MissingReportURL)
	require.NoError(t, err)
	require.Equal(t, []csr.WorkItem{
		{Symbol: "ACME", CompanyName: "Acme", Year: 2021},
		{Symbol: "BETA", CompanyName: "Beta", Year: 2020},
	}, locate)

	archive, err := c.SelectMissing(context.Background(), csr.MissingStoragePath)
	require.NoError(t, err)
	require.Equal(t, []csr.WorkItem{
		{Symbol: "ACME", CompanyName: "Acme", Year: 2020, ReportURL: "https://a.example/r.pdf"},
	}, archive)

	_, err = c.SelectMissing(context.Background(), "bogus")
	require.Error(t, err)
}

func TestRecordURLNullGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2020})

	res, err := c.RecordURL(ctx, "ACME", 2020, "https://a.example/r.pdf")
	require.NoError(t, err)
	require.Equal(t, csr.WriteApplied, res)

	res, err = c.RecordURL(ctx, "ACME", 2020, "https://a.example/r.pdf")
	require.NoError(t, err)
	require.Equal(t, csr.WriteUnchanged, res)

	_, err = c.RecordURL(ctx, "ACME", 2020, "https://b.example/other.pdf")
	require.Equal(t, csr.KindConflict, csr.KindOf(err))

	_, err = c.RecordURL(ctx, "NOPE", 2020, "https://a.example/r.pdf")
	require.Equal(t, csr.KindNotFound, csr.KindOf(err))
	require.True(t, errors.Is(err, csr.ErrNoRecord))

	rec, ok := c.Get(csr.Key{Symbol: "ACME", Year: 2020})
	require.True(t, ok)
	require.Equal(t, "https://a.example/r.pdf", *rec.ReportURL)
}

func TestRecordStoragePathRequiresURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2020})

	_, err := c.RecordStoragePath(ctx, "ACME", 2020, "csreport/ACME_2020.pdf")
	require.Equal(t, csr.KindConflict, csr.KindOf(err))

	_, err = c.RecordURL(ctx, "ACME", 2020, "https://a.example/r.pdf")
	require.NoError(t, err)

	res, err := c.RecordStoragePath(ctx, "ACME", 2020, "csreport/ACME_2020.pdf")
	require.NoError(t, err)
	require.Equal(t, csr.WriteApplied, res)

	res, err = c.RecordStoragePath(ctx, "ACME", 2020, "csreport/ACME_2020.pdf")
	require.NoError(t, err)
	require.Equal(t, csr.WriteUnchanged, res)

	_, err = c.RecordStoragePath(ctx, "ACME", 2020, "csreport/OTHER.pdf")
	require.Equal(t, csr.KindConflict, csr.KindOf(err))
}

func TestConcurrentRecordURLSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := New(csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2020})

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   []string
		conflicts int
	)
	for i := 0; i < writers; i++ {
		url := fmt.Sprintf("https://a.example/%d.pdf", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.RecordURL(ctx, "ACME", 2020, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if csr.KindOf(err) == csr.KindConflict {
					conflicts++
				}
				return
			}
			if res == csr.WriteApplied {
				applied = append(applied, url)
			}
		}()
	}
	wg.Wait()

	require.Len(t, applied, 1)
	require.Equal(t, writers-1, conflicts)
	rec, _ := c.Get(csr.Key{Symbol: "ACME", Year: 2020})
	require.Equal(t, applied[0], *rec.ReportURL)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	c := New(csr.ReportRecord{Symbol: "ACME", CompanyName: "Acme", Year: 2020, ReportURL: ptr("https://a.example/r.pdf")})
	n, err := c.Register(context.Background(), []csr.ReportRecord{
		{Symbol: "ACME", CompanyName: "Acme", Year: 2020},
		{Symbol: "ACME", CompanyName: "Acme", Year: 2021},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, _ := c.Get(csr.Key{Symbol: "ACME", Year: 2020})
	require.NotNil(t, rec.ReportURL, "existing rows are left untouched")
}
