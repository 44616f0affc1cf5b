// Package cse locates reports through the Google Programmable Search JSON API.
package cse

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/locator"
)

// Config controls the search API client.
type Config struct {
	APIKey   string
	EngineID string
	// Endpoint overrides the API base URL (tests, proxies).
	Endpoint   string
	MaxResults int64
	HTTPClient *http.Client
}

// Locator implements csr.Locator on top of customsearch.Service.
type Locator struct {
	svc        *customsearch.Service
	engineID   string
	maxResults int64
	logger     *zap.Logger
}

// New builds a Locator.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Locator, error) {
	if cfg.EngineID == "" {
		return nil, errors.New("cse: engine id is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create customsearch service: %w", err)
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{svc: svc, engineID: cfg.EngineID, maxResults: maxResults, logger: logger}, nil
}

// Locate runs one search and returns the first PDF link.
func (l *Locator) Locate(ctx context.Context, companyName string, year int) (string, bool, error) {
	if err := locator.ValidateInput(companyName, year); err != nil {
		return "", false, err
	}
	query := locator.BuildQuery(companyName, year)
	res, err := l.svc.Cse.List().
		Cx(l.engineID).
		Q(query).
		Num(l.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return "", false, classify(ctx, err)
	}

	links := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if item != nil {
			links = append(links, item.Link)
		}
	}
	url, found := locator.FirstPDF(links)
	l.logger.Debug("search completed",
		zap.String("query", query),
		zap.Int("results", len(links)),
		zap.Bool("found", found),
	)
	return url, found, nil
}

func classify(ctx context.Context, err error) error {
	const op = "cse search"
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code == http.StatusForbidden,
			apiErr.Code == http.StatusRequestTimeout,
			apiErr.Code >= 500:
			return &csr.Error{Kind: csr.KindTransient, Op: op, Detail: csr.DetailHTTPStatus, StatusCode: apiErr.Code, Err: err}
		default:
			return &csr.Error{Kind: csr.KindUnknown, Op: op, Detail: csr.DetailHTTPStatus, StatusCode: apiErr.Code, Err: err}
		}
	}
	return &csr.Error{Kind: csr.KindTransient, Op: op, Detail: csr.DetailNetwork, Err: err}
}
