// Package cmd defines the csrarchiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/app"
	"github.com/JakeFAU/csr-report-archiver/internal/config"
	"github.com/JakeFAU/csr-report-archiver/internal/csr"
	"github.com/JakeFAU/csr-report-archiver/internal/logging"
	"github.com/JakeFAU/csr-report-archiver/internal/pipeline"
)

// errItemsFailed is returned when a run finished but at least one item ended Failed.
var errItemsFailed = errors.New("one or more items failed")

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service container the commands use. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Catalog() csr.Catalog
	Runner(ctx context.Context) (*pipeline.Runner, string, error)
	ServeMetrics(ctx context.Context)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "csrarchiver",
		Short: "Locates, downloads, and archives corporate sustainability reports.",
		Long: `csrarchiver fills in the report catalog: it searches for each company's
sustainability report, records the PDF URL, copies the document to object storage,
and records where it was stored.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the CSRARCHIVER_ prefix")
	cmd.AddCommand(newRunCmd(), newSeedCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set pipeline flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	var err error
	if changed("mode") {
		cfg.Pipeline.Mode, err = flags.GetString("mode")
	}
	if err == nil && changed("workers") {
		cfg.Pipeline.Workers, err = flags.GetInt("workers")
	}
	if err == nil && changed("limit") {
		cfg.Pipeline.Limit, err = flags.GetInt("limit")
	}
	if err == nil && changed("seed") {
		cfg.Pipeline.Seed, err = flags.GetUint64("seed")
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts run into a RunE that closes the App on every return path. cobra skips
// post-run hooks when RunE fails, so the close cannot live there.
func withApp(run func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return run(cmd, appInstance)
	}
}

// Execute runs the root command and exits non-zero on error or when any item failed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errItemsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
