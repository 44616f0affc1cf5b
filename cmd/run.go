package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process catalog rows that are missing a report URL or storage path",
		Long: `Selects catalog rows still missing pipeline outputs and drives each one
through locate, download, archive, and record. The exit status is 1 when any
item ended Failed.`,
		RunE: withApp(runPipelineCommand),
	}
	cmd.Flags().String("mode", string(csr.ModeFull), "pipeline mode: full, locate, or archive")
	cmd.Flags().Int("workers", 4, "number of concurrent workers")
	cmd.Flags().Int("limit", 0, "maximum number of items to process (0 = all)")
	cmd.Flags().Uint64("seed", 0, "selection shuffle seed (0 = time based)")
	return cmd
}

func runPipelineCommand(cmd *cobra.Command, appInstance App) error {
	logger := appInstance.Logger()

	appInstance.ServeMetrics(cmd.Context())
	runner, runID, err := appInstance.Runner(cmd.Context())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	summary, runErr := runner.Run(cmd.Context())
	printSummary(cmd.OutOrStdout(), runID, summary)
	if runErr != nil {
		return fmt.Errorf("run %s: %w", runID, runErr)
	}
	if summary.HasFailures() {
		logger.Warn("run finished with failures", zap.String("run_id", runID))
		return errItemsFailed
	}
	return nil
}

func printSummary(w io.Writer, runID string, s csr.Summary) {
	_, _ = fmt.Fprintf(w, "run %s\n", runID)              //nolint:errcheck // console output
	_, _ = fmt.Fprintf(w, "  recorded: %d\n", s.Recorded) //nolint:errcheck // console output
	_, _ = fmt.Fprintf(w, "  located:  %d\n", s.Located)  //nolint:errcheck // console output
	printReasons(w, "skipped", s.Skipped)
	printReasons(w, "failed", s.Failed)
}

func printReasons(w io.Writer, label string, reasons map[csr.Reason]int) {
	total := 0
	keys := make([]string, 0, len(reasons))
	for r, n := range reasons {
		total += n
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	_, _ = fmt.Fprintf(w, "  %-8s  %d\n", label+":", total) //nolint:errcheck // console output
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "    %s: %d\n", k, reasons[csr.Reason(k)]) //nolint:errcheck // console output
	}
}
