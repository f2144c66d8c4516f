package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/mmm-cli/internal/calibrate"
	"github.com/sells-group/mmm-cli/internal/config"
	"github.com/sells-group/mmm-cli/internal/fetcher"
	"github.com/sells-group/mmm-cli/internal/model"
	"github.com/sells-group/mmm-cli/internal/monitoring"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate untracked-revenue curve parameters by grid search",
	Long: `Scores every (saturation, decay, scale factor) combination of the configured
grid against an observed daily revenue series. Each candidate curve is
decay^d * baseline^(1-saturation), rescaled to sum to the observed total times
the scale factor, and scored by sum of squared errors. The lowest-loss
candidates are printed; degenerate candidates are skipped.

Examples:
  # Reference series and grid from config defaults
  calibrate

  # Observed series from a CSV with a revenue column, top 10 as CSV
  calibrate --revenue-csv untracked.csv --top 10 --format csv --output top.csv`,
	RunE: runCalibrate,
}

func init() {
	addCalibrateFlags(calibrateCmd)
	rootCmd.AddCommand(calibrateCmd)
}

func addCalibrateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("revenue-csv", "", "CSV file with a revenue column (default: configured observed_revenue)")
	f.Int("top", 0, "number of best candidates to report (0=use config default)")
	f.Int("workers", 0, "concurrent candidate evaluators (0=use config default)")
	f.String("format", "", "output format: table or csv (default from config)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("metrics-file", "", "write Prometheus textfile metrics to this path")
}

func runCalibrate(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "calibrate"))

	metrics := monitoring.NewMetrics()
	metricsFile := flagOr(cmd, "metrics-file", cfg.Output.MetricsFile)
	defer func() {
		metrics.RunFinished("calibrate", err)
		if werr := metrics.WriteTextfile(metricsFile); werr != nil {
			log.Warn("failed to write metrics", zap.Error(werr))
		}
	}()

	calCfg := applyCalibrationOverrides(cmd, cfg.Calibration)
	checked := *cfg
	checked.Calibration = calCfg
	checked.Output.Format = flagOr(cmd, "format", cfg.Output.Format)
	if err := checked.Validate("calibration"); err != nil {
		return err
	}

	observed := calCfg.ObservedRevenue
	if path, _ := cmd.Flags().GetString("revenue-csv"); path != "" {
		observed, err = fetcher.LoadRevenueCSV(ctx, path)
		if err != nil {
			return err
		}
	}

	space, err := calibrate.NewSpace(calCfg)
	if err != nil {
		return err
	}

	log.Info("starting grid search",
		zap.Int("candidates", space.Size()),
		zap.Int("days", len(observed)),
		zap.Int("workers", calCfg.Workers),
		zap.Int("top_k", calCfg.TopK),
	)

	c := calibrate.New(
		calibrate.WithWorkers(calCfg.Workers),
		calibrate.WithTimeout(time.Duration(calCfg.TimeoutSecs)*time.Second),
		calibrate.WithMetrics(metrics),
	)
	report, err := c.Run(ctx, space, observed, calCfg.TopK)
	if err != nil {
		return eris.Wrap(err, "calibrate: grid search")
	}

	outputPath, _ := cmd.Flags().GetString("output")
	if err := outputCalibrationResults(report.Top, checked.Output.Format, outputPath); err != nil {
		return err
	}
	summary := os.Stdout
	if outputPath == "" && checked.Output.Format == "csv" {
		summary = os.Stderr
	}
	printCalibrationSummary(summary, report)
	return nil
}

// applyCalibrationOverrides returns a copy of the base config with CLI flag overrides applied.
func applyCalibrationOverrides(cmd *cobra.Command, base config.CalibrationConfig) config.CalibrationConfig {
	c := base
	c.RevenueScaleFactors = append([]float64(nil), base.RevenueScaleFactors...)
	c.ObservedRevenue = append([]float64(nil), base.ObservedRevenue...)

	if v, _ := cmd.Flags().GetInt("top"); v > 0 {
		c.TopK = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		c.Workers = v
	}
	return c
}

func outputCalibrationResults(results []model.CalibrationResult, format, outputPath string) error {
	var w *os.File
	if outputPath != "" {
		var err error
		w, err = os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "calibrate: create output file %s", outputPath)
		}
		defer w.Close() //nolint:errcheck
	} else {
		w = os.Stdout
	}

	switch format {
	case "csv":
		return writeCalibrationCSV(w, results)
	case "table":
		return writeCalibrationTable(w, results)
	default:
		return eris.Errorf("calibrate: unsupported format %q", format)
	}
}

func writeCalibrationCSV(w io.Writer, results []model.CalibrationResult) error {
	cw := csv.NewWriter(w)

	header := []string{"rank", "saturation", "decay", "scale_factor", "loss"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "calibrate: write CSV header")
	}

	for i, r := range results {
		r = r.Rounded()
		row := []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(r.Saturation, 'f', -1, 64),
			strconv.FormatFloat(r.Decay, 'f', -1, 64),
			strconv.FormatFloat(r.ScaleFactor, 'f', -1, 64),
			strconv.FormatFloat(r.Loss, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "calibrate: write CSV row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "calibrate: flush CSV")
	}
	return nil
}

func writeCalibrationTable(w io.Writer, results []model.CalibrationResult) error {
	p := message.NewPrinter(language.English)

	header := fmt.Sprintf("%-5s %10s %8s %12s %16s\n", "Rank", "Saturation", "Decay", "Scale", "Loss")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "calibrate: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 55)); err != nil {
		return eris.Wrap(err, "calibrate: write table separator")
	}

	for i, r := range results {
		r = r.Rounded()
		line := p.Sprintf("%-5d %10.3f %8.3f %12.2f %16.3f\n",
			i+1, r.Saturation, r.Decay, r.ScaleFactor, r.Loss)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "calibrate: write table row")
		}
	}
	return nil
}

func printCalibrationSummary(w io.Writer, report *calibrate.Report) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "\n--- Summary ---\n")
	p.Fprintf(w, "Candidates:  %d\n", report.Total)
	p.Fprintf(w, "Evaluated:   %d\n", report.Evaluated)
	p.Fprintf(w, "Degenerate:  %d\n", report.Degenerate)
	if len(report.Top) > 0 {
		p.Fprintf(w, "Best loss:   %.3f\n", report.Top[0].Rounded().Loss)
	}
}
