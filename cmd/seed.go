package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/csr-report-archiver/internal/csr"
)

func newSeedCmd() *cobra.Command {
	var (
		file     string
		from, to int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert one catalog row per company and year",
		Long: `Reads a symbol,company_name CSV and inserts a catalog row for every year in
[from, to]. Rows that already exist are left untouched.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if !csr.ValidYear(from) || !csr.ValidYear(to) {
				return fmt.Errorf("--from and --to must lie in %d..%d, got %d..%d",
					csr.MinReportYear, csr.MaxReportYear, from, to)
			}
			if from > to {
				return fmt.Errorf("--from %d is after --to %d", from, to)
			}
			f, err := os.Open(file) //nolint:gosec // operator-supplied path
			if err != nil {
				return fmt.Errorf("open companies file: %w", err)
			}
			defer func() {
				_ = f.Close() //nolint:errcheck // read-only
			}()

			records, err := readCompanies(f, from, to)
			if err != nil {
				return err
			}
			inserted, err := appInstance.Catalog().Register(cmd.Context(), records)
			if err != nil {
				return fmt.Errorf("register records: %w", err)
			}
			appInstance.Logger().Info("catalog seeded",
				zap.Int("candidates", len(records)),
				zap.Int("inserted", inserted),
			)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "inserted %d of %d rows\n", inserted, len(records)) //nolint:errcheck // console output
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "file", "companies.csv", "CSV file with symbol,company_name rows")
	cmd.Flags().IntVar(&from, "from", 2014, "first report year")
	cmd.Flags().IntVar(&to, "to", 2024, "last report year")
	return cmd
}

// readCompanies expands each CSV row into one record per year. A leading header row
// starting with "symbol" is skipped.
func readCompanies(r io.Reader, from, to int) ([]csr.ReportRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []csr.ReportRecord
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read companies csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "symbol") {
			continue
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("companies csv line %d: want symbol,company_name", line)
		}
		symbol := strings.ToUpper(strings.TrimSpace(row[0]))
		name := strings.TrimSpace(row[1])
		if symbol == "" || name == "" {
			return nil, fmt.Errorf("companies csv line %d: empty symbol or company name", line)
		}
		for year := from; year <= to; year++ {
			records = append(records, csr.ReportRecord{Symbol: symbol, CompanyName: name, Year: year})
		}
	}
	return records, nil
}
