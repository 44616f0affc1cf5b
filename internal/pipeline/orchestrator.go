// Package pipeline drives each work item through locate, download, archive, and
// record, mapping every stage failure to a terminal outcome by its kind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/archiver"
	"github.com/JakeFAU/csr-report-archiver/internal/clock/system"
	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/logging"
	"github.com/JakeFAU/csr-report-archiver/internal/retry"
)

// Stage names used in logs and metrics.
const (
	StageLocate        = "locate"
	StageRecordURL     = "record_url"
	StageDownload      = "download"
	StageArchive       = "archive"
	StageRecordStorage = "record_storage"
)

var tracer = otel.Tracer("github.com/JakeFAU/csr-report-archiver/internal/pipeline")

// Observer receives pipeline telemetry.
type Observer interface {
	Outcome(o csr.Outcome)
	Retry(stage string, kind csr.Kind)
	Stage(stage string, d time.Duration)
	PublishFailed()
}

type nopObserver struct{}

func (nopObserver) Outcome(csr.Outcome)         {}
func (nopObserver) Retry(string, csr.Kind)      {}
func (nopObserver) Stage(string, time.Duration) {}
func (nopObserver) PublishFailed()              {}

// Policies holds the retry policy for each external call.
type Policies struct {
	Locate   retry.Policy
	Download retry.Policy
	Upload   retry.Policy
	Catalog  retry.Policy
}

// Config controls the orchestrator.
type Config struct {
	Mode      csr.Mode
	Bucket    string
	KeyPrefix string
	// Topic receives an ArchivedEvent per recorded item when non-empty.
	Topic    string
	Policies Policies
}

// Deps are the components the orchestrator drives.
type Deps struct {
	Catalog    csr.Catalog
	Locator    csr.Locator
	Downloader csr.Downloader
	Archiver   csr.Archiver
	Publisher  csr.Publisher
	Clock      csr.Clock
	Observer   Observer
	// Remove deletes a downloaded file; defaults to archiver.Remove.
	Remove func(*csr.LocalFile) error
}

// Orchestrator runs the per-item state machine.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	runID  string
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator for one invocation.
func New(cfg Config, deps Deps, runID string, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pipeline: catalog is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = csr.ModeFull
	}
	if cfg.Mode != csr.ModeArchive && deps.Locator == nil {
		return nil, errors.New("pipeline: locator is required")
	}
	if cfg.Mode != csr.ModeLocate {
		if deps.Downloader == nil || deps.Archiver == nil {
			return nil, errors.New("pipeline: downloader and archiver are required")
		}
		if cfg.Bucket == "" {
			return nil, errors.New("pipeline: bucket is required")
		}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Remove == nil {
		deps.Remove = archiver.Remove
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		logger: logger.With(zap.String("run_id", runID)),
	}, nil
}

// Process runs item to a terminal state. It never returns an error; failures are part
// of the outcome.
func (o *Orchestrator) Process(ctx context.Context, item csr.WorkItem) csr.Outcome {
	ctx, span := tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("run_id", o.runID),
		attribute.String("symbol", item.Symbol),
		attribute.Int("report_year", item.Year),
	))
	defer span.End()

	start := o.deps.Clock.Now()
	out := o.process(ctx, item)
	out.Item = item
	out.Duration = o.deps.Clock.Now().Sub(start)

	span.SetAttributes(attribute.String("state", string(out.State)), attribute.String("reason", string(out.Reason)))
	if out.State == csr.StateFailed {
		span.SetStatus(codes.Error, string(out.Reason))
	}

	o.deps.Observer.Outcome(out)
	fields := logging.OutcomeFields(out)
	switch out.State {
	case csr.StateFailed:
		o.logger.Warn("item failed", fields...)
	case csr.StateSkipped:
		o.logger.Info("item skipped", fields...)
	default:
		o.logger.Info("item completed", fields...)
	}
	return out
}

func (o *Orchestrator) process(ctx context.Context, item csr.WorkItem) csr.Outcome {
	log := o.logger.With(logging.ItemFields(item)...)
	if err := item.Validate(); err != nil {
		return skipped(csr.ReasonInvalidItem, err)
	}

	url := item.ReportURL
	if url == "" {
		if o.cfg.Mode == csr.ModeArchive {
			return skipped(csr.ReasonInvalidItem, fmt.Errorf("%s has no report url", item.Key()))
		}
		located, out, ok := o.locate(ctx, item, log)
		if !ok {
			return out
		}
		url = located
		log.Debug("state transition", zap.String("state", string(csr.StateLocated)), zap.String("report_url", url))
	}
	if o.cfg.Mode == csr.ModeLocate {
		return csr.Outcome{State: csr.StateLocated, ReportURL: url}
	}

	return o.archive(ctx, item, url, log)
}

// locate finds and records the URL. ok is false when out is terminal.
func (o *Orchestrator) locate(ctx context.Context, item csr.WorkItem, log *zap.Logger) (string, csr.Outcome, bool) {
	type located struct {
		url   string
		found bool
	}
	res, err := runStage(ctx, o, StageLocate, o.cfg.Policies.Locate, log, func(ctx context.Context) (located, error) {
		url, found, err := o.deps.Locator.Locate(ctx, item.CompanyName, item.Year)
		return located{url: url, found: found}, err
	})
	if err != nil {
		switch {
		case ctx.Err() != nil || csr.IsCanceled(err):
			return "", failed(csr.ReasonCanceled, err), false
		case csr.KindOf(err) == csr.KindTransient:
			return "", failed(csr.ReasonLocatorUnreachable, err), false
		case csr.KindOf(err) == csr.KindNotFound:
			return "", skipped(csr.ReasonNoURL, err), false
		default:
			return "", failed(csr.ReasonUnexpectedLocateErr, err), false
		}
	}
	if !res.found {
		return "", skipped(csr.ReasonNoURL, nil), false
	}

	_, err = runStage(ctx, o, StageRecordURL, o.cfg.Policies.Catalog, log, func(ctx context.Context) (csr.WriteResult, error) {
		return o.deps.Catalog.RecordURL(ctx, item.Symbol, item.Year, res.url)
	})
	if err != nil {
		out := catalogFailure(ctx, err, csr.ReasonURLConflict)
		out.ReportURL = res.url
		return "", out, false
	}
	return res.url, csr.Outcome{}, true
}

// archive downloads, uploads, and records the storage reference. The downloaded file is
// removed on every path out of this function.
func (o *Orchestrator) archive(ctx context.Context, item csr.WorkItem, url string, log *zap.Logger) csr.Outcome {
	file, err := runStage(ctx, o, StageDownload, o.cfg.Policies.Download, log, func(ctx context.Context) (*csr.LocalFile, error) {
		return o.deps.Downloader.Download(ctx, url)
	})
	if err != nil {
		out := stageFailure(ctx, err, csr.ReasonDownloadFailed)
		out.ReportURL = url
		return out
	}
	defer func() {
		if rmErr := o.deps.Remove(file); rmErr != nil {
			log.Error("remove local file", zap.String("path", file.Path), zap.Error(rmErr))
		}
	}()
	log.Debug("state transition", zap.String("state", string(csr.StateDownloaded)),
		zap.Int64("bytes", file.Bytes), zap.String("sha256", file.SHA256))

	key := archiver.ObjectKey(o.cfg.KeyPrefix, item.Symbol, item.Year)
	ref, err := runStage(ctx, o, StageArchive, o.cfg.Policies.Upload, log, func(ctx context.Context) (string, error) {
		return o.deps.Archiver.Archive(ctx, file, o.cfg.Bucket, key)
	})
	if err != nil {
		out := stageFailure(ctx, err, csr.ReasonUploadFailed)
		out.ReportURL = url
		return out
	}
	log.Debug("state transition", zap.String("state", string(csr.StateArchived)), zap.String("reference", ref))

	_, err = runStage(ctx, o, StageRecordStorage, o.cfg.Policies.Catalog, log, func(ctx context.Context) (csr.WriteResult, error) {
		return o.deps.Catalog.RecordStoragePath(ctx, item.Symbol, item.Year, ref)
	})
	if err != nil {
		out := catalogFailure(ctx, err, csr.ReasonPathConflict)
		out.ReportURL = url
		out.StoragePath = ref
		return out
	}

	out := csr.Outcome{
		State:       csr.StateRecorded,
		ReportURL:   url,
		StoragePath: ref,
		SHA256:      file.SHA256,
		Bytes:       file.Bytes,
	}
	o.publish(ctx, item, out, log)
	return out
}

func (o *Orchestrator) publish(ctx context.Context, item csr.WorkItem, out csr.Outcome, log *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	event := csr.ArchivedEvent{
		RunID:       o.runID,
		Symbol:      item.Symbol,
		Year:        item.Year,
		ReportURL:   out.ReportURL,
		StoragePath: out.StoragePath,
		SHA256:      out.SHA256,
		Bytes:       out.Bytes,
		ArchivedAt:  o.deps.Clock.Now().UTC(),
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		o.deps.Observer.PublishFailed()
		log.Warn("publish archived event", zap.String("topic", o.cfg.Topic), zap.Error(err))
	}
}

func runStage[T any](
	ctx context.Context,
	o *Orchestrator,
	stage string,
	policy retry.Policy,
	log *zap.Logger,
	op func(context.Context) (T, error),
) (T, error) {
	ctx, span := tracer.Start(ctx, "pipeline."+stage)
	start := o.deps.Clock.Now()
	defer func() {
		o.deps.Observer.Stage(stage, o.deps.Clock.Now().Sub(start))
		span.End()
	}()
	val, err := retry.Do(ctx, policy, op, func(attempt int, err error, wait time.Duration) {
		kind := csr.KindOf(err)
		o.deps.Observer.Retry(stage, kind)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("kind", kind.String()),
		))
		log.Debug("retrying stage",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.String("kind", kind.String()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("kind", csr.KindOf(err).String()))
	}
	return val, err
}

// stageFailure maps an exhausted download or upload error: absences and retryable
// failures leave the record for a later run; anything unclassified is a hard failure.
func stageFailure(ctx context.Context, err error, reason csr.Reason) csr.Outcome {
	if ctx.Err() != nil || csr.IsCanceled(err) {
		return failed(csr.ReasonCanceled, err)
	}
	switch csr.KindOf(err) {
	case csr.KindNotFound, csr.KindTransient, csr.KindResource:
		return skipped(reason, err)
	default:
		return failed(reason, err)
	}
}

func catalogFailure(ctx context.Context, err error, conflict csr.Reason) csr.Outcome {
	if ctx.Err() != nil || csr.IsCanceled(err) {
		return failed(csr.ReasonCanceled, err)
	}
	switch {
	case csr.KindOf(err) == csr.KindConflict:
		return failed(conflict, err)
	case errors.Is(err, csr.ErrNoRecord):
		return skipped(csr.ReasonNoRecord, err)
	default:
		return failed(csr.ReasonCatalogUnavailable, err)
	}
}

func skipped(reason csr.Reason, err error) csr.Outcome {
	return csr.Outcome{State: csr.StateSkipped, Reason: reason, Err: err}
}

func failed(reason csr.Reason, err error) csr.Outcome {
	return csr.Outcome{State: csr.StateFailed, Reason: reason, Err: err}
}
