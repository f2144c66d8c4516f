package fetcher

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/mmm-cli/internal/model"
)

// Column names shared by every tabular source.
const (
	ColDate    = "date"
	ColSpend   = "spend"
	ColRevenue = "revenue"
)

// table is a header plus data rows, with the source line of each row.
type table struct {
	header []string
	rows   [][]string
	lines  []int
}

// columns maps the required column names to their index. Header matching is
// case-insensitive and ignores surrounding whitespace.
func (t *table) columns(required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(t.header))
	for i, col := range t.header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	out := make(map[string]int, len(required))
	for _, col := range required {
		i, ok := idx[col]
		if !ok {
			return nil, model.NewMalformedInput(col, "missing required column")
		}
		out[col] = i
	}
	return out, nil
}

func (t *table) series() (model.Series, error) {
	cols, err := t.columns(ColDate, ColSpend, ColRevenue)
	if err != nil {
		return model.Series{}, err
	}

	obs := make([]model.Observation, 0, len(t.rows))
	for r, row := range t.rows {
		line := t.line(r)
		date, err := model.ParseDate(fieldName(ColDate, line), cell(row, cols[ColDate]))
		if err != nil {
			return model.Series{}, err
		}
		spend, err := parseNumber(ColSpend, line, cell(row, cols[ColSpend]))
		if err != nil {
			return model.Series{}, err
		}
		revenue, err := parseNumber(ColRevenue, line, cell(row, cols[ColRevenue]))
		if err != nil {
			return model.Series{}, err
		}
		obs = append(obs, model.Observation{Date: date, Spend: spend, Revenue: revenue})
	}
	return model.NewSeries(obs)
}

func (t *table) revenue() ([]float64, error) {
	cols, err := t.columns(ColRevenue)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(t.rows))
	for r, row := range t.rows {
		v, err := parseNumber(ColRevenue, t.line(r), cell(row, cols[ColRevenue]))
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, model.NewMalformedInput(fieldName(ColRevenue, t.line(r)), "negative value")
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *table) line(r int) int {
	if r < len(t.lines) {
		return t.lines[r]
	}
	return r + 2
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func fieldName(col string, line int) string {
	return fmt.Sprintf("%s (line %d)", col, line)
}

// parseNumber accepts plain decimals and thousands separators ("1,250.5").
func parseNumber(col string, line int, s string) (float64, error) {
	if s == "" {
		return 0, model.NewMalformedInput(fieldName(col, line), "missing value")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, &model.MalformedInputError{Field: fieldName(col, line), Reason: "not a number", Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, model.NewMalformedInput(fieldName(col, line), "not a finite number")
	}
	return v, nil
}
