package csr

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ReportRecord is one catalog row keyed by (Symbol, Year).
// StoragePath is only ever set when ReportURL is set.
type ReportRecord struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"company_name"`
	Year        int     `json:"report_year"`
	ReportURL   *string `json:"report_url,omitempty"`
	StoragePath *string `json:"storage_path,omitempty"`
}

// Key returns the catalog primary key for the record.
func (r ReportRecord) Key() Key {
	return Key{Symbol: r.Symbol, Year: r.Year}
}

// Key identifies a catalog row.
type Key struct {
	Symbol string
	Year   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Symbol, k.Year)
}

// WorkItem is a read-only projection of a record that still lacks a pipeline output.
// ReportURL is populated for archive-phase items.
type WorkItem struct {
	Symbol      string
	CompanyName string
	Year        int
	ReportURL   string
}

// Key returns the catalog key the item refers to.
func (w WorkItem) Key() Key {
	return Key{Symbol: w.Symbol, Year: w.Year}
}

// Plausible report years.
const (
	MinReportYear = 1900
	MaxReportYear = 2100
)

// ValidYear reports whether year lies in [MinReportYear, MaxReportYear].
func ValidYear(year int) bool {
	return year >= MinReportYear && year <= MaxReportYear
}

// Validate checks the locator input constraints.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if strings.TrimSpace(w.CompanyName) == "" && w.ReportURL == "" {
		return fmt.Errorf("company name is required for %s", w.Key())
	}
	if !ValidYear(w.Year) {
		return fmt.Errorf("implausible report year %d for %s", w.Year, w.Symbol)
	}
	return nil
}

// Predicate selects which missing field a query looks for.
type Predicate string

// Selection predicates understood by the catalog.
const (
	MissingReportURL   Predicate = "missing_report_url"
	MissingStoragePath Predicate = "missing_storage_path"
)

// Mode picks which pipeline phases an invocation runs.
type Mode string

// Pipeline modes accepted by the run command.
const (
	ModeFull    Mode = "full"
	ModeLocate  Mode = "locate"
	ModeArchive Mode = "archive"
)

// ParseMode converts user input into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeFull, "":
		return ModeFull, nil
	case ModeLocate, "locate-only":
		return ModeLocate, nil
	case ModeArchive, "archive-only":
		return ModeArchive, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q (want full, locate, or archive)", raw)
	}
}

// Predicates lists the catalog predicates a mode consumes, in processing order.
func (m Mode) Predicates() []Predicate {
	switch m {
	case ModeLocate:
		return []Predicate{MissingReportURL}
	case ModeArchive:
		return []Predicate{MissingStoragePath}
	default:
		return []Predicate{MissingReportURL, MissingStoragePath}
	}
}

// State is a pipeline state for a single work item.
type State string

// Pipeline states. Recorded, Skipped, and Failed are terminal; Located is terminal in
// locate mode.
const (
	StateSelected   State = "selected"
	StateLocated    State = "located"
	StateDownloaded State = "downloaded"
	StateArchived   State = "archived"
	StateRecorded   State = "recorded"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

// Reason qualifies a Skipped or Failed state.
type Reason string

// Terminal reasons.
const (
	ReasonNone                Reason = ""
	ReasonNoURL               Reason = "no-url"
	ReasonDownloadFailed      Reason = "download-failed"
	ReasonUploadFailed        Reason = "upload-failed"
	ReasonLocatorUnreachable  Reason = "locator-unreachable"
	ReasonURLConflict         Reason = "url-conflict"
	ReasonPathConflict        Reason = "path-conflict"
	ReasonCatalogUnavailable  Reason = "catalog-unavailable"
	ReasonInvalidItem         Reason = "invalid-item"
	ReasonNoRecord            Reason = "no-record"
	ReasonCanceled            Reason = "canceled"
	ReasonUnexpectedLocateErr Reason = "locator-error"
)

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	Item        WorkItem
	State       State
	Reason      Reason
	ReportURL   string
	StoragePath string
	SHA256      string
	Bytes       int64
	Duration    time.Duration
	Err         error
}

// Succeeded reports whether the outcome counts as success for the exit status.
func (o Outcome) Succeeded() bool {
	return o.State != StateFailed
}

func (o Outcome) String() string {
	if o.Reason == ReasonNone {
		return string(o.State)
	}
	return fmt.Sprintf("%s(%s)", o.State, o.Reason)
}

// Summary tallies outcomes for an invocation.
type Summary struct {
	Recorded int
	Located  int
	Skipped  map[Reason]int
	Failed   map[Reason]int
}

// NewSummary returns an empty Summary.
func NewSummary() Summary {
	return Summary{
		Skipped: make(map[Reason]int),
		Failed:  make(map[Reason]int),
	}
}

// Add counts one outcome.
func (s *Summary) Add(o Outcome) {
	if s.Skipped == nil {
		s.Skipped = make(map[Reason]int)
	}
	if s.Failed == nil {
		s.Failed = make(map[Reason]int)
	}
	switch o.State {
	case StateRecorded:
		s.Recorded++
	case StateLocated:
		s.Located++
	case StateSkipped:
		s.Skipped[o.Reason]++
	case StateFailed:
		s.Failed[o.Reason]++
	}
}

// Merge folds another summary into s.
func (s *Summary) Merge(other Summary) {
	*s = s.merged(other)
}

func (s Summary) merged(other Summary) Summary {
	out := NewSummary()
	out.Recorded = s.Recorded + other.Recorded
	out.Located = s.Located + other.Located
	for _, src := range []map[Reason]int{s.Skipped, other.Skipped} {
		for k, v := range src {
			out.Skipped[k] += v
		}
	}
	for _, src := range []map[Reason]int{s.Failed, other.Failed} {
		for k, v := range src {
			out.Failed[k] += v
		}
	}
	return out
}

// Total is the number of outcomes counted.
func (s Summary) Total() int {
	n := s.Recorded + s.Located
	for _, v := range s.Skipped {
		n += v
	}
	for _, v := range s.Failed {
		n += v
	}
	return n
}

// HasFailures reports whether any item ended in Failed.
func (s Summary) HasFailures() bool {
	for _, v := range s.Failed {
		if v > 0 {
			return true
		}
	}
	return false
}

func (s Summary) String() string {
	return fmt.Sprintf("recorded=%d located=%d skipped={%s} failed={%s}",
		s.Recorded, s.Located, formatReasons(s.Skipped), formatReasons(s.Failed))
}

func formatReasons(m map[Reason]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[Reason(k)]))
	}
	return strings.Join(parts, " ")
}

// LocalFile is a downloaded document on local transient storage. It is owned by
// exactly one pipeline run and must be removed when the run ends.
type LocalFile struct {
	Path   string
	Bytes  int64
	SHA256 string
}

// ArchivedEvent is published after a report has been recorded.
type ArchivedEvent struct {
	RunID       string    `json:"run_id"`
	Symbol      string    `json:"symbol"`
	Year        int       `json:"report_year"`
	ReportURL   string    `json:"report_url"`
	StoragePath string    `json:"storage_path"`
	SHA256      string    `json:"sha256,omitempty"`
	Bytes       int64     `json:"bytes"`
	ArchivedAt  time.Time `json:"archived_at"`
}
