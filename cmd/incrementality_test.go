//go:build !integration

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mmm-cli/internal/model"
)

// writeDailyCSV writes n days starting 2024-04-01 with revenue an exact
// linear function of spend^0.75.
func writeDailyCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,spend,revenue\n")
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		spend := 100 + float64(i%7)*10 + float64(i)*5
		revenue := 500 + 3*math.Pow(spend, 0.75)
		fmt.Fprintf(&b, "%s,%g,%g\n", start.AddDate(0, 0, i).Format(model.DateLayout), spend, revenue)
	}
	path := filepath.Join(dir, "daily.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newIncrementalityTestCmd() *testingCmd {
	return &testingCmd{newTestCmd("test-incrementality", addIncrementalityFlags)}
}

func TestRunIncrementality_CSV(t *testing.T) {
	dir := useTestConfig(t)
	csvPath := writeDailyCSV(t, dir, 40)
	outPath := filepath.Join(dir, "result.json")
	metricsPath := filepath.Join(dir, "mmm.prom")

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "csv", csvPath)
	cmd.set(t, "test-start", "2024-05-01")
	cmd.set(t, "test-end", "2024-05-10")
	cmd.set(t, "output", outPath)
	cmd.set(t, "metrics-file", metricsPath)

	require.NoError(t, runIncrementality(cmd.Command, nil))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Greater(t, got["r2"].(float64), 0.99)
	assert.InDelta(t, 3.0, got["roas_coefficient"].(float64), 0.05)
	assert.Equal(t, 0.25, got["saturation"])
	assert.Equal(t, 0.1, got["ridge_alpha"])
	assert.Contains(t, got, "generated_at")

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "mmm_incrementality_r2")
	assert.Contains(t, string(prom), `mmm_runs_total{command="incrementality",status="ok"} 1`)
}

func TestRunIncrementality_DefaultOutputPath(t *testing.T) {
	dir := useTestConfig(t)
	csvPath := writeDailyCSV(t, dir, 20)

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "csv", csvPath)
	cmd.set(t, "test-start", "2024-04-05")
	cmd.set(t, "test-end", "2024-04-20")

	require.NoError(t, runIncrementality(cmd.Command, nil))
	assert.FileExists(t, filepath.Join(dir, "incrementality_test_output.json"))
}

func TestRunIncrementality_FlagOverrides(t *testing.T) {
	dir := useTestConfig(t)
	csvPath := writeDailyCSV(t, dir, 40)
	outPath := filepath.Join(dir, "result.json")

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "csv", csvPath)
	cmd.set(t, "test-start", "2024-05-01")
	cmd.set(t, "test-end", "2024-05-10")
	cmd.set(t, "saturation", "0.5")
	cmd.set(t, "alphas", "2,4")
	cmd.set(t, "pre-test-days", "20")
	cmd.set(t, "output", outPath)

	require.NoError(t, runIncrementality(cmd.Command, nil))

	var got model.RegressionResult
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0.5, got.Saturation)
	assert.Contains(t, []float64{2, 4}, got.RidgeAlpha)
}

func TestRunIncrementality_YAML(t *testing.T) {
	dir := useTestConfig(t)

	var b strings.Builder
	b.WriteString("test_start: \"2024-04-08\"\ntest_end: \"2024-04-15\"\npre_test_days: 7\nsaturation: 0.5\ndaily_data:\n")
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		spend := float64(100 + i*30)
		fmt.Fprintf(&b, "  - {date: %q, spend: %g, revenue: %g}\n",
			start.AddDate(0, 0, i).Format(model.DateLayout), spend, 20+2*math.Sqrt(spend))
	}
	yamlPath := filepath.Join(dir, "incrementality_test_input.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(b.String()), 0o644))
	outPath := filepath.Join(dir, "result.json")

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "yaml", yamlPath)
	cmd.set(t, "output", outPath)

	require.NoError(t, runIncrementality(cmd.Command, nil))

	var got model.RegressionResult
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 0.5, got.Saturation)
	assert.InDelta(t, 1.0, got.R2, 0.01)
	assert.InDelta(t, 2.0, got.ROASCoefficient, 0.05)
}

func TestRunIncrementality_SQLite(t *testing.T) {
	dir := useTestConfig(t)
	dbPath := filepath.Join(dir, "metrics.db")

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE daily_metrics (date TEXT, spend REAL, revenue REAL)`)
	require.NoError(t, err)
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		spend := float64(50 + i*7)
		_, err := db.Exec(`INSERT INTO daily_metrics VALUES (?, ?, ?)`,
			start.AddDate(0, 0, i).Format(model.DateLayout), spend, 100+4*spend)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "sqlite", dbPath)
	cmd.set(t, "test-start", "2024-04-01")
	cmd.set(t, "test-end", "2024-04-12")
	cmd.set(t, "saturation", "0.1")
	cmd.set(t, "output", filepath.Join(dir, "result.json"))

	require.NoError(t, runIncrementality(cmd.Command, nil))
}

func TestRunIncrementality_InsufficientData(t *testing.T) {
	dir := useTestConfig(t)
	csvPath := writeDailyCSV(t, dir, 40)
	metricsPath := filepath.Join(dir, "mmm.prom")

	cmd := newIncrementalityTestCmd()
	cmd.set(t, "csv", csvPath)
	cmd.set(t, "test-start", "2024-05-01")
	cmd.set(t, "test-end", "2024-05-05")
	cmd.set(t, "pre-test-days", "0")
	cmd.set(t, "metrics-file", metricsPath)

	err := runIncrementality(cmd.Command, nil)
	require.Error(t, err)
	assert.True(t, model.IsInsufficientData(err))

	prom, readErr := os.ReadFile(metricsPath)
	require.NoError(t, readErr)
	assert.Contains(t, string(prom), `mmm_runs_total{command="incrementality",status="error"} 1`)
}

func TestRunIncrementality_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		flags map[string]string
		want  string
	}{
		{"no source", map[string]string{"test-start": "2024-05-01", "test-end": "2024-05-10"}, "exactly one of"},
		{"two sources", map[string]string{"csv": "a.csv", "yaml": "b.yaml"}, "exactly one of"},
		{"missing test start", map[string]string{"csv": "daily.csv", "test-end": "2024-05-10"}, "test_start: required"},
		{"bad date", map[string]string{"csv": "daily.csv", "test-start": "May 1", "test-end": "2024-05-10"}, "unparsable date"},
		{"end before start", map[string]string{"csv": "daily.csv", "test-start": "2024-05-10", "test-end": "2024-05-01"}, "before test_start"},
		{"zero saturation", map[string]string{"csv": "daily.csv", "test-start": "2024-05-01", "test-end": "2024-05-10", "saturation": "0"}, "Saturation"},
		{"negative pre-test days", map[string]string{"csv": "daily.csv", "test-start": "2024-05-01", "test-end": "2024-05-10", "pre-test-days": "-1"}, "PreTestDays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := useTestConfig(t)
			writeDailyCSV(t, dir, 40)

			cmd := newIncrementalityTestCmd()
			for k, v := range tt.flags {
				cmd.set(t, k, v)
			}
			err := runIncrementality(cmd.Command, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyIncrementalityOverrides_DoesNotAliasConfig(t *testing.T) {
	useTestConfig(t)
	cmd := newIncrementalityTestCmd()

	got := applyIncrementalityOverrides(cmd.Command, cfg.Incrementality, nil)
	got.Alphas[0] = 99
	assert.Equal(t, 0.1, cfg.Incrementality.Alphas[0])
}

func TestIncrementalityCommand_Flags(t *testing.T) {
	for _, name := range []string{"csv", "xlsx", "xlsx-sheet", "yaml", "sqlite", "sqlite-query",
		"test-start", "test-end", "pre-test-days", "saturation", "alphas", "output", "metrics-file"} {
		assert.NotNil(t, incrementalityCmd.Flags().Lookup(name), "incrementality should have --%s flag", name)
	}
}
