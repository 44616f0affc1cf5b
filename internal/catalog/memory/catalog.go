// Package memory provides an in-process catalog with the same null-guarded write
// semantics as the Postgres catalog.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Catalog is a mutex-guarded map of records.
type Catalog struct {
	mu      sync.Mutex
	records map[csr.Key]csr.ReportRecord
}

// New returns a Catalog seeded with records.
func New(records ...csr.ReportRecord) *Catalog {
	c := &Catalog{records: make(map[csr.Key]csr.ReportRecord, len(records))}
	for _, rec := range records {
		c.records[rec.Key()] = clone(rec)
	}
	return c
}

// Get returns a copy of the record stored under key.
func (c *Catalog) Get(key csr.Key) (csr.ReportRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return clone(rec), ok
}

// SelectMissing returns rows lacking the output named by predicate, ordered by key.
func (c *Catalog) SelectMissing(_ context.Context, predicate csr.Predicate) ([]csr.WorkItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []csr.WorkItem
	for _, rec := range c.records {
		var match bool
		switch predicate {
		case csr.MissingReportURL:
			match = rec.ReportURL == nil
		case csr.MissingStoragePath:
			match = rec.ReportURL != nil && rec.StoragePath == nil
		default:
			return nil, fmt.Errorf("unknown predicate %q", predicate)
		}
		if !match {
			continue
		}
		item := csr.WorkItem{Symbol: rec.Symbol, CompanyName: rec.CompanyName, Year: rec.Year}
		if rec.ReportURL != nil {
			item.ReportURL = *rec.ReportURL
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Symbol != items[j].Symbol {
			return items[i].Symbol < items[j].Symbol
		}
		return items[i].Year < items[j].Year
	})
	return items, nil
}

// RecordURL sets report_url only while it is unset.
func (c *Catalog) RecordURL(_ context.Context, symbol string, year int, url string) (csr.WriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := csr.Key{Symbol: symbol, Year: year}
	rec, ok := c.records[key]
	switch {
	case !ok:
		return 0, csr.NotFound("record report url", fmt.Errorf("%s: %w", key, csr.ErrNoRecord))
	case rec.ReportURL == nil:
		rec.ReportURL = &url
		c.records[key] = rec
		return csr.WriteApplied, nil
	case *rec.ReportURL == url:
		return csr.WriteUnchanged, nil
	default:
		return 0, csr.Conflict("record report url", fmt.Errorf("%s already has report_url %q", key, *rec.ReportURL))
	}
}

// RecordStoragePath sets the storage reference only while it is unset and report_url
// is set.
func (c *Catalog) RecordStoragePath(_ context.Context, symbol string, year int, reference string) (csr.WriteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := csr.Key{Symbol: symbol, Year: year}
	rec, ok := c.records[key]
	switch {
	case !ok:
		return 0, csr.NotFound("record storage path", fmt.Errorf("%s: %w", key, csr.ErrNoRecord))
	case rec.ReportURL == nil:
		return 0, csr.Conflict("record storage path", fmt.Errorf("%s has no report_url", key))
	case rec.StoragePath == nil:
		rec.StoragePath = &reference
		c.records[key] = rec
		return csr.WriteApplied, nil
	case *rec.StoragePath == reference:
		return csr.WriteUnchanged, nil
	default:
		return 0, csr.Conflict("record storage path", fmt.Errorf("%s already has storage path %q", key, *rec.StoragePath))
	}
}

// Register inserts records whose key is not present yet.
func (c *Catalog) Register(_ context.Context, records []csr.ReportRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := 0
	for _, rec := range records {
		key := rec.Key()
		if _, exists := c.records[key]; exists {
			continue
		}
		c.records[key] = csr.ReportRecord{Symbol: rec.Symbol, CompanyName: rec.CompanyName, Year: rec.Year}
		inserted++
	}
	return inserted, nil
}

func clone(rec csr.ReportRecord) csr.ReportRecord {
	if rec.ReportURL != nil {
		v := *rec.ReportURL
		rec.ReportURL = &v
	}
	if rec.StoragePath != nil {
		v := *rec.StoragePath
		rec.StoragePath = &v
	}
	return rec
}
