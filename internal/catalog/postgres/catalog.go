// Package postgres implements the report catalog on PostgreSQL with null-guarded,
// single-row updates.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

var (
	validTableName  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)
	validColumnName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Config controls the Postgres connection pool and catalog layout.
type Config struct {
	DSN   string
	Table string
	// StorageColumn names the storage reference column (storage_path, or minio_path on
	// older catalogs).
	StorageColumn   string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Catalog implements csr.Catalog.
type Catalog struct {
	pool          pool
	table         string
	storageColumn string
}

// New connects a pool and returns a Catalog.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c, err := NewWithPool(p, cfg.Table, cfg.StorageColumn)
	if err != nil {
		p.Close()
		return nil, err
	}
	return c, nil
}

// NewWithPool constructs a Catalog from an existing pool (primarily for testing).
func NewWithPool(p pool, table, storageColumn string) (*Catalog, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "ginkgo.csr_reports"
	}
	if storageColumn == "" {
		storageColumn = "storage_path"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if !validColumnName.MatchString(storageColumn) {
		return nil, fmt.Errorf("invalid storage column %q", storageColumn)
	}
	return &Catalog{pool: p, table: table, storageColumn: storageColumn}, nil
}

// Close releases the underlying pool resources.
func (c *Catalog) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// Ping verifies the catalog is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return dbError(ctx, "ping catalog", err)
	}
	return nil
}

// SelectMissing returns rows lacking the output named by predicate, ordered by key.
func (c *Catalog) SelectMissing(ctx context.Context, predicate csr.Predicate) ([]csr.WorkItem, error) {
	var where string
	switch predicate {
	case csr.MissingReportURL:
		where = "report_url IS NULL"
	case csr.MissingStoragePath:
		where = fmt.Sprintf("report_url IS NOT NULL AND %s IS NULL", c.storageColumn)
	default:
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}
	query := fmt.Sprintf(`
SELECT symbol, company_name, report_year, report_url
FROM %s
WHERE %s
ORDER BY symbol, report_year`, c.table, where)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, dbError(ctx, "select candidates", err)
	}
	defer rows.Close()

	var items []csr.WorkItem
	for rows.Next() {
		var (
			item    csr.WorkItem
			company pgtype.Text
			url     pgtype.Text
		)
		if err := rows.Scan(&item.Symbol, &company, &item.Year, &url); err != nil {
			return nil, dbError(ctx, "scan candidate", err)
		}
		item.CompanyName = company.String
		item.ReportURL = url.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(ctx, "iterate candidates", err)
	}
	return items, nil
}

// RecordURL sets report_url only while it is still NULL.
func (c *Catalog) RecordURL(ctx context.Context, symbol string, year int, url string) (csr.WriteResult, error) {
	update := fmt.Sprintf(`
UPDATE %s SET report_url = $3
WHERE symbol = $1 AND report_year = $2 AND report_url IS NULL`, c.table)
	tag, err := c.pool.Exec(ctx, update, symbol, year, url)
	if err != nil {
		return 0, dbError(ctx, "record report url", err)
	}
	if tag.RowsAffected() == 1 {
		return csr.WriteApplied, nil
	}

	var current pgtype.Text
	lookup := fmt.Sprintf(`SELECT report_url FROM %s WHERE symbol = $1 AND report_year = $2`, c.table)
	if err := c.pool.QueryRow(ctx, lookup, symbol, year).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, csr.NotFound("record report url", fmt.Errorf("%s/%d: %w", symbol, year, csr.ErrNoRecord))
		}
		return 0, dbError(ctx, "read report url", err)
	}
	switch {
	case !current.Valid:
		return 0, csr.Transient("record report url", fmt.Errorf("%s/%d changed during write", symbol, year))
	case current.String == url:
		return csr.WriteUnchanged, nil
	default:
		return 0, csr.Conflict("record report url",
			fmt.Errorf("%s/%d already has report_url %q", symbol, year, current.String))
	}
}

// RecordStoragePath sets the storage reference only while it is NULL and report_url is
// already set.
func (c *Catalog) RecordStoragePath(ctx context.Context, symbol string, year int, reference string) (csr.WriteResult, error) {
	update := fmt.Sprintf(`
UPDATE %[1]s SET %[2]s = $3
WHERE symbol = $1 AND report_year = $2 AND report_url IS NOT NULL AND %[2]s IS NULL`, c.table, c.storageColumn)
	tag, err := c.pool.Exec(ctx, update, symbol, year, reference)
	if err != nil {
		return 0, dbError(ctx, "record storage path", err)
	}
	if tag.RowsAffected() == 1 {
		return csr.WriteApplied, nil
	}

	var url, current pgtype.Text
	lookup := fmt.Sprintf(`SELECT report_url, %s FROM %s WHERE symbol = $1 AND report_year = $2`, c.storageColumn, c.table)
	if err := c.pool.QueryRow(ctx, lookup, symbol, year).Scan(&url, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, csr.NotFound("record storage path", fmt.Errorf("%s/%d: %w", symbol, year, csr.ErrNoRecord))
		}
		return 0, dbError(ctx, "read storage path", err)
	}
	switch {
	case !url.Valid:
		return 0, csr.Conflict("record storage path", fmt.Errorf("%s/%d has no report_url", symbol, year))
	case !current.Valid:
		return 0, csr.Transient("record storage path", fmt.Errorf("%s/%d changed during write", symbol, year))
	case current.String == reference:
		return csr.WriteUnchanged, nil
	default:
		return 0, csr.Conflict("record storage path",
			fmt.Errorf("%s/%d already has %s %q", symbol, year, c.storageColumn, current.String))
	}
}

// Register inserts records that do not exist yet and returns how many were new.
func (c *Catalog) Register(ctx context.Context, records []csr.ReportRecord) (inserted int, err error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, dbError(ctx, "begin register", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // already failing
		}
	}()

	insert := fmt.Sprintf(`
INSERT INTO %s (symbol, company_name, report_year)
VALUES ($1, $2, $3)
ON CONFLICT (symbol, report_year) DO NOTHING`, c.table)
	for _, rec := range records {
		tag, execErr := tx.Exec(ctx, insert, rec.Symbol, rec.CompanyName, rec.Year)
		if execErr != nil {
			return 0, dbError(ctx, "register "+rec.Key().String(), execErr)
		}
		inserted += int(tag.RowsAffected())
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, dbError(ctx, "commit register", err)
	}
	return inserted, nil
}

// dbError treats server-reported errors as hard failures and everything else
// (connection loss, pool exhaustion, timeouts) as transient.
func dbError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return csr.E(csr.KindUnknown, op, err)
	}
	return csr.Transient(op, err)
}
