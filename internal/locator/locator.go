// Package locator holds the query and result-filtering rules shared by every search
// backend, plus a rate-limited decorator.
package locator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// BuildQuery returns the search string for a company's report in a given year.
func BuildQuery(companyName string, year int) string {
	return fmt.Sprintf("%s %d sustainability report filetype:pdf", strings.TrimSpace(companyName), year)
}

// IsPDF reports whether the link's path ends in the PDF extension. Query strings and
// fragments are ignored.
func IsPDF(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// FirstPDF returns the first qualifying link in result order.
func FirstPDF(links []string) (string, bool) {
	for _, link := range links {
		if IsPDF(link) {
			return strings.TrimSpace(link), true
		}
	}
	return "", false
}

// ValidateInput checks the locate contract's input constraints.
func ValidateInput(companyName string, year int) error {
	item := csr.WorkItem{Symbol: "-", CompanyName: companyName, Year: year}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("validate locate input: %w", err)
	}
	return nil
}

// Waiter blocks until an outbound request to rawURL is allowed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RateLimited throttles calls to the wrapped locator against a single search host.
type RateLimited struct {
	next   csr.Locator
	waiter Waiter
	host   string
}

// NewRateLimited wraps next so every call first waits on waiter for host.
func NewRateLimited(next csr.Locator, waiter Waiter, host string) *RateLimited {
	return &RateLimited{next: next, waiter: waiter, host: host}
}

// Locate waits for a token and delegates.
func (r *RateLimited) Locate(ctx context.Context, companyName string, year int) (string, bool, error) {
	if err := r.waiter.Wait(ctx, r.host); err != nil {
		return "", false, fmt.Errorf("locate %q: %w", companyName, err)
	}
	return r.next.Locate(ctx, companyName, year)
}
