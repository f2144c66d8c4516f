package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mmm-cli/internal/config"
	"github.com/sells-group/mmm-cli/internal/estimate"
	"github.com/sells-group/mmm-cli/internal/fetcher"
	"github.com/sells-group/mmm-cli/internal/model"
	"github.com/sells-group/mmm-cli/internal/monitoring"
	"github.com/sells-group/mmm-cli/internal/ridge"
)

var incrementalityCmd = &cobra.Command{
	Use:   "incrementality",
	Short: "Estimate incremental ROAS over a test window",
	Long: `Clips a daily spend/revenue series to [test-start - pre-test-days, test-end],
regresses revenue on spend^(1-saturation) with a ridge model whose alpha is
chosen by forward-chaining cross-validation, and reports the in-sample r2 and
the learned ROAS coefficient.

Exactly one input source is required. A YAML document may also carry the
test window; flags override both the document and config.

Examples:
  # CSV with date,spend,revenue columns
  incrementality --csv daily.csv --test-start 2024-05-01 --test-end 2024-06-01

  # Self-contained YAML input
  incrementality --yaml incrementality_test_input.yaml

  # Read from a SQLite table with a custom query
  incrementality --sqlite metrics.db --sqlite-query "SELECT day, cost, sales FROM meta" \
    --test-start 2024-05-01 --test-end 2024-06-01 --saturation 0.3`,
	RunE: runIncrementality,
}

func init() {
	addIncrementalityFlags(incrementalityCmd)
	rootCmd.AddCommand(incrementalityCmd)
}

func addIncrementalityFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("csv", "", "CSV file with date,spend,revenue columns")
	f.String("xlsx", "", "XLSX workbook with date,spend,revenue columns")
	f.String("xlsx-sheet", "", "worksheet name (default: first sheet)")
	f.String("yaml", "", "YAML document with daily_data and test window")
	f.String("sqlite", "", "SQLite database path (opened read-only)")
	f.String("sqlite-query", fetcher.DefaultSQLiteQuery, "query returning date, spend, revenue")
	f.String("test-start", "", "first day of the test window (YYYY-MM-DD, overrides config)")
	f.String("test-end", "", "last day of the test window (YYYY-MM-DD, overrides config)")
	f.Int("pre-test-days", 0, "days before test-start included in the window (overrides config)")
	f.Float64("saturation", 0, "saturation exponent s in spend^(1-s) (overrides config)")
	f.Float64Slice("alphas", nil, "candidate ridge penalties (overrides config)")
	f.String("output", "", "JSON summary path (overrides config)")
	f.String("metrics-file", "", "write Prometheus textfile metrics to this path")
}

func runIncrementality(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "incrementality"))

	metrics := monitoring.NewMetrics()
	metricsFile := flagOr(cmd, "metrics-file", cfg.Output.MetricsFile)
	defer func() {
		metrics.RunFinished("incrementality", err)
		if werr := metrics.WriteTextfile(metricsFile); werr != nil {
			log.Warn("failed to write metrics", zap.Error(werr))
		}
	}()

	series, doc, err := loadIncrementalitySeries(ctx, cmd)
	if err != nil {
		return err
	}

	incCfg := applyIncrementalityOverrides(cmd, cfg.Incrementality, doc)
	checked := *cfg
	checked.Incrementality = incCfg
	if err := checked.Validate("incrementality"); err != nil {
		return err
	}

	params, err := incrementalityParams(incCfg)
	if err != nil {
		return err
	}

	log.Info("starting incrementality estimate",
		zap.Int("observations", series.Len()),
		zap.String("test_start", incCfg.TestStart),
		zap.String("test_end", incCfg.TestEnd),
		zap.Int("pre_test_days", incCfg.PreTestDays),
		zap.Float64("saturation", incCfg.Saturation),
		zap.Float64s("alphas", incCfg.Alphas),
	)

	result, err := estimate.NewEstimator(ridge.NewCV(incCfg.Folds)).Estimate(series, params)
	if err != nil {
		return eris.Wrap(err, "incrementality: estimate")
	}
	metrics.SetR2(result.R2)

	rounded := result.Rounded()
	printRegressionResult(rounded)

	outputPath := flagOr(cmd, "output", cfg.Output.ResultPath)
	if err := writeResultJSON(outputPath, rounded); err != nil {
		return err
	}

	log.Info("incrementality estimate complete",
		zap.Float64("r2", rounded.R2),
		zap.Float64("roas_coefficient", rounded.ROASCoefficient),
		zap.Float64("ridge_alpha", rounded.RidgeAlpha),
		zap.String("output", outputPath),
	)
	return nil
}

// loadIncrementalitySeries reads the series from the single selected source.
// When the source is a YAML document it is returned as well so its test
// window can be applied.
func loadIncrementalitySeries(ctx context.Context, cmd *cobra.Command) (model.Series, *fetcher.IncrementalityInput, error) {
	csvPath, _ := cmd.Flags().GetString("csv")
	xlsxPath, _ := cmd.Flags().GetString("xlsx")
	yamlPath, _ := cmd.Flags().GetString("yaml")
	sqlitePath, _ := cmd.Flags().GetString("sqlite")

	var selected int
	for _, p := range []string{csvPath, xlsxPath, yamlPath, sqlitePath} {
		if p != "" {
			selected++
		}
	}
	if selected != 1 {
		return model.Series{}, nil, eris.New("incrementality: exactly one of --csv, --xlsx, --yaml or --sqlite is required")
	}

	switch {
	case csvPath != "":
		s, err := fetcher.LoadSeriesCSV(ctx, csvPath)
		return s, nil, err
	case xlsxPath != "":
		sheet, _ := cmd.Flags().GetString("xlsx-sheet")
		s, err := fetcher.LoadSeriesXLSX(xlsxPath, fetcher.XLSXOptions{SheetName: sheet})
		return s, nil, err
	case yamlPath != "":
		doc, err := fetcher.LoadIncrementalityYAML(yamlPath)
		if err != nil {
			return model.Series{}, nil, err
		}
		s, err := doc.Series()
		if err != nil {
			return model.Series{}, nil, eris.Wrapf(err, "yaml: parse %s", yamlPath)
		}
		return s, doc, nil
	default:
		query, _ := cmd.Flags().GetString("sqlite-query")
		s, err := fetcher.LoadSeriesSQLite(ctx, sqlitePath, query)
		return s, nil, err
	}
}

// applyIncrementalityOverrides layers the YAML document and then explicit
// flags over the configured settings.
func applyIncrementalityOverrides(cmd *cobra.Command, base config.IncrementalityConfig, doc *fetcher.IncrementalityInput) config.IncrementalityConfig {
	c := base
	c.Alphas = append([]float64(nil), base.Alphas...)

	if doc != nil {
		if doc.TestStart != "" {
			c.TestStart = doc.TestStart
		}
		if doc.TestEnd != "" {
			c.TestEnd = doc.TestEnd
		}
		if doc.PreTestDays != nil {
			c.PreTestDays = *doc.PreTestDays
		}
		if doc.Saturation != nil {
			c.Saturation = *doc.Saturation
		}
		if len(doc.Alphas) > 0 {
			c.Alphas = append([]float64(nil), doc.Alphas...)
		}
	}

	f := cmd.Flags()
	if f.Changed("test-start") {
		c.TestStart, _ = f.GetString("test-start")
	}
	if f.Changed("test-end") {
		c.TestEnd, _ = f.GetString("test-end")
	}
	if f.Changed("pre-test-days") {
		c.PreTestDays, _ = f.GetInt("pre-test-days")
	}
	if f.Changed("saturation") {
		c.Saturation, _ = f.GetFloat64("saturation")
	}
	if f.Changed("alphas") {
		c.Alphas, _ = f.GetFloat64Slice("alphas")
	}
	return c
}

func incrementalityParams(c config.IncrementalityConfig) (estimate.Params, error) {
	if c.TestStart == "" {
		return estimate.Params{}, model.NewMalformedInput("test_start", "required")
	}
	if c.TestEnd == "" {
		return estimate.Params{}, model.NewMalformedInput("test_end", "required")
	}
	start, err := model.ParseDate("test_start", c.TestStart)
	if err != nil {
		return estimate.Params{}, err
	}
	end, err := model.ParseDate("test_end", c.TestEnd)
	if err != nil {
		return estimate.Params{}, err
	}
	p := estimate.Params{
		TestStart:   start,
		TestEnd:     end,
		PreTestDays: c.PreTestDays,
		Saturation:  c.Saturation,
		Alphas:      c.Alphas,
	}
	return p, p.Validate()
}

func printRegressionResult(r model.RegressionResult) {
	fmt.Printf("R2:               %.3f\n", r.R2)
	fmt.Printf("Saturation:       %g\n", r.Saturation)
	fmt.Printf("ROAS coefficient: %.4f\n", r.ROASCoefficient)
	fmt.Printf("Ridge alpha:      %g\n", r.RidgeAlpha)
}

// resultSummary is the flat JSON artifact of an incrementality run.
type resultSummary struct {
	model.RegressionResult
	GeneratedAt time.Time `json:"generated_at"`
}

func writeResultJSON(path string, r model.RegressionResult) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(resultSummary{RegressionResult: r, GeneratedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "incrementality: marshal result")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "incrementality: write result %s", path)
	}
	return nil
}

// flagOr returns the named string flag when set, otherwise fallback.
func flagOr(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return fallback
}
