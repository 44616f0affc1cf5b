// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Locator  LocatorConfig  `mapstructure:"locator"`
	Download DownloadConfig `mapstructure:"download"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CatalogConfig controls access to the relational catalog.
type CatalogConfig struct {
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	StorageColumn string `mapstructure:"storage_column"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// LocatorConfig selects and tunes the external search backend.
type LocatorConfig struct {
	Provider       string  `mapstructure:"provider"`
	APIKey         string  `mapstructure:"api_key"`
	EngineID       string  `mapstructure:"engine_id"`
	Endpoint       string  `mapstructure:"endpoint"`
	SearchURL      string  `mapstructure:"search_url"`
	ResultSelector string  `mapstructure:"result_selector"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	QPS            float64 `mapstructure:"qps"`
	MaxResults     int64   `mapstructure:"max_results"`
}

// DownloadConfig controls how documents are fetched to local disk.
type DownloadConfig struct {
	Dir            string  `mapstructure:"dir"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	PerHostQPS     float64 `mapstructure:"per_host_qps"`
}

// StorageConfig selects the durable object store.
type StorageConfig struct {
	Provider    string      `mapstructure:"provider"`
	Bucket      string      `mapstructure:"bucket"`
	Prefix      string      `mapstructure:"prefix"`
	ContentType string      `mapstructure:"content_type"`
	MinIO       MinIOConfig `mapstructure:"minio"`
	Local       LocalConfig `mapstructure:"local"`
}

// MinIOConfig holds S3-compatible endpoint credentials.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// LocalConfig configures the filesystem object store.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// RetryConfig configures the transient-failure retry policy.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// PipelineConfig governs worker fan-out and selection.
type PipelineConfig struct {
	Workers               int    `mapstructure:"workers"`
	Mode                  string `mapstructure:"mode"`
	Limit                 int    `mapstructure:"limit"`
	Seed                  uint64 `mapstructure:"seed"`
	CatalogTimeoutSeconds int    `mapstructure:"catalog_timeout_seconds"`
	UploadTimeoutSeconds  int    `mapstructure:"upload_timeout_seconds"`
}

// PubSubConfig holds metadata for archived-report notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig selects the span exporter: none, stdout, or cloudtrace.
type TracingConfig struct {
	Exporter  string `mapstructure:"exporter"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CSRARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.dsn", "")
	v.SetDefault("catalog.table", "ginkgo.csr_reports")
	v.SetDefault("catalog.storage_column", "storage_path")
	v.SetDefault("catalog.max_conns", 8)
	v.SetDefault("locator.provider", "html")
	v.SetDefault("locator.api_key", "")
	v.SetDefault("locator.engine_id", "")
	v.SetDefault("locator.endpoint", "")
	v.SetDefault("locator.search_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("locator.result_selector", "a.result__a")
	v.SetDefault("locator.user_agent", "csr-report-archiver/0.1")
	v.SetDefault("locator.timeout_seconds", 15)
	v.SetDefault("locator.qps", 1.0)
	v.SetDefault("locator.max_results", 10)
	v.SetDefault("download.dir", "")
	v.SetDefault("download.timeout_seconds", 120)
	v.SetDefault("download.user_agent", "csr-report-archiver/0.1")
	v.SetDefault("download.per_host_qps", 2.0)
	v.SetDefault("storage.provider", "minio")
	v.SetDefault("storage.bucket", "csreport")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "application/pdf")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.region", "us-east-1")
	v.SetDefault("storage.local.base_dir", "data/objects")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_initial_ms", 250)
	v.SetDefault("retry.backoff_max_ms", 5000)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.mode", string(csr.ModeFull))
	v.SetDefault("pipeline.limit", 0)
	v.SetDefault("pipeline.seed", 0)
	v.SetDefault("pipeline.catalog_timeout_seconds", 10)
	v.SetDefault("pipeline.upload_timeout_seconds", 300)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := csr.ParseMode(c.Pipeline.Mode); err != nil {
		return fmt.Errorf("pipeline.mode: %w", err)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.Limit < 0 {
		return fmt.Errorf("pipeline.limit must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Locator.TimeoutSeconds <= 0 {
		return fmt.Errorf("locator.timeout_seconds must be > 0")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	switch c.Locator.Provider {
	case "cse":
		if c.Locator.APIKey == "" || c.Locator.EngineID == "" {
			return fmt.Errorf("locator.api_key and locator.engine_id must be set for the cse provider")
		}
	case "html":
		if c.Locator.SearchURL == "" {
			return fmt.Errorf("locator.search_url must be set for the html provider")
		}
	default:
		return fmt.Errorf("locator.provider must be cse or html, got %q", c.Locator.Provider)
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	switch c.Storage.Provider {
	case "gcs", "memory":
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint must be set for the minio provider")
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local provider")
		}
	default:
		return fmt.Errorf("storage.provider must be gcs, minio, local, or memory, got %q", c.Storage.Provider)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "cloudtrace":
		if c.Tracing.ProjectID == "" {
			return fmt.Errorf("tracing.project_id must be set for the cloudtrace exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout, or cloudtrace, got %q", c.Tracing.Exporter)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is configured")
	}
	return nil
}

// Mode returns the parsed pipeline mode.
func (c Config) Mode() csr.Mode {
	mode, err := csr.ParseMode(c.Pipeline.Mode)
	if err != nil {
		return csr.ModeFull
	}
	return mode
}

// LocatorTimeout is the per-attempt budget for a search call.
func (c Config) LocatorTimeout() time.Duration {
	return time.Duration(c.Locator.TimeoutSeconds) * time.Second
}

// DownloadTimeout is the per-attempt budget for a document download.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// UploadTimeout is the per-attempt budget for an object store upload.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.Pipeline.UploadTimeoutSeconds) * time.Second
}

// CatalogTimeout is the per-attempt budget for a catalog statement.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Pipeline.CatalogTimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Retry.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxMs) * time.Millisecond
}
