// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = true
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger (development=%t): %w", development, err)
	}
	return logger, nil
}

// ItemFields returns the structured fields that identify a work item in every log line.
func ItemFields(item csr.WorkItem) []zap.Field {
	return []zap.Field{
		zap.String("symbol", item.Symbol),
		zap.Int("report_year", item.Year),
	}
}

// OutcomeFields describes a terminal outcome.
func OutcomeFields(o csr.Outcome) []zap.Field {
	fields := append(ItemFields(o.Item),
		zap.String("state", string(o.State)),
		zap.Duration("duration", o.Duration),
	)
	if o.Reason != csr.ReasonNone {
		fields = append(fields, zap.String("reason", string(o.Reason)))
	}
	if o.ReportURL != "" {
		fields = append(fields, zap.String("report_url", o.ReportURL))
	}
	if o.StoragePath != "" {
		fields = append(fields, zap.String("storage_path", o.StoragePath))
	}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
	}
	return fields
}
