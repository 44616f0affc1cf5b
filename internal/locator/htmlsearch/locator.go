// Package htmlsearch locates reports by scraping an HTML search results page with Colly.
package htmlsearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/locator"
)

// Config controls the results-page scraper.
type Config struct {
	// SearchURL is the results endpoint; the query is sent as the q parameter.
	SearchURL string
	// ResultSelector matches result anchors in document order.
	ResultSelector string
	UserAgent      string
	Timeout        time.Duration
}

// Locator implements csr.Locator by visiting SearchURL with Colly.
type Locator struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

// New builds a Locator.
func New(cfg Config, logger *zap.Logger) (*Locator, error) {
	if _, err := url.ParseRequestURI(cfg.SearchURL); err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if cfg.ResultSelector == "" {
		cfg.ResultSelector = "a.result__a"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport
	if base, ok := transport.(*http.Transport); ok {
		transport = base.Clone()
	}
	return &Locator{cfg: cfg, transport: transport, logger: logger}, nil
}

// Locate fetches one results page and returns the first PDF link on it.
func (l *Locator) Locate(ctx context.Context, companyName string, year int) (string, bool, error) {
	if err := locator.ValidateInput(companyName, year); err != nil {
		return "", false, err
	}
	query := locator.BuildQuery(companyName, year)
	target, err := l.searchURL(query)
	if err != nil {
		return "", false, err
	}

	var (
		mu       sync.Mutex
		links    []string
		visitErr error
	)
	// Each call gets its own collector: clones share the HTTP backend, and the
	// transport here is bound to this call's context.
	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.SetRequestTimeout(l.cfg.Timeout)
	collector.WithTransport(&contextTransport{ctx: reqCtx, base: l.transport})
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.OnHTML(l.cfg.ResultSelector, func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" {
			return
		}
		mu.Lock()
		links = append(links, unwrapRedirect(href))
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		mu.Lock()
		visitErr = searchError(status, err)
		mu.Unlock()
	})

	if err := runCollector(ctx, collector, target); err != nil {
		return "", false, err
	}
	mu.Lock()
	defer mu.Unlock()
	if visitErr != nil {
		return "", false, visitErr
	}

	link, found := locator.FirstPDF(links)
	l.logger.Debug("search page scraped",
		zap.String("query", query),
		zap.Int("results", len(links)),
		zap.Bool("found", found),
	)
	return link, found, nil
}

func (l *Locator) searchURL(query string) (string, error) {
	u, err := url.Parse(l.cfg.SearchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// contextTransport ties every request to ctx so cancelling the caller aborts the
// in-flight request and lets the Visit goroutine return.
type contextTransport struct {
	ctx  context.Context //nolint:containedctx // scoped to one Locate call
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("html search canceled: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("html search canceled: %w", ctxErr)
		}
		if err != nil {
			return &csr.Error{Kind: csr.KindTransient, Op: "html search", Detail: csr.DetailNetwork, Err: err}
		}
		return nil
	}
}

// searchError treats every failure to obtain a results page as the search capability
// being unreachable.
func searchError(status int, err error) error {
	detail := csr.DetailNetwork
	if status != 0 {
		detail = csr.DetailHTTPStatus
	}
	return &csr.Error{Kind: csr.KindTransient, Op: "html search", Detail: detail, StatusCode: status, Err: err}
}

// unwrapRedirect resolves result links that point at the engine's click-through
// redirector, e.g. /l/?uddg=<target> or /url?q=<target>.
func unwrapRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Path != "/l/" && u.Path != "/url" {
		return href
	}
	for _, key := range []string{"uddg", "q", "url"} {
		if target := u.Query().Get(key); strings.HasPrefix(target, "http") {
			return target
		}
	}
	return href
}
