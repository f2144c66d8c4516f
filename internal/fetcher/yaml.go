package fetcher

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mmm-cli/internal/model"
)

// DailyRow is one entry of the daily_data list.
type DailyRow struct {
	Date    string   `yaml:"date"`
	Spend   *float64 `yaml:"spend"`
	Revenue *float64 `yaml:"revenue"`
}

// IncrementalityInput is a self-contained incrementality test document:
// the daily data plus the test window. Optional fields are nil when absent.
type IncrementalityInput struct {
	DailyData   []DailyRow `yaml:"daily_data"`
	TestStart   string     `yaml:"test_start"`
	TestEnd     string     `yaml:"test_end"`
	PreTestDays *int       `yaml:"pre_test_days"`
	Saturation  *float64   `yaml:"saturation"`
	Alphas      []float64  `yaml:"alphas"`
}

// Series converts DailyData into a validated series.
func (in *IncrementalityInput) Series() (model.Series, error) {
	obs := make([]model.Observation, 0, len(in.DailyData))
	for i, row := range in.DailyData {
		field := func(name string) string { return fmt.Sprintf("daily_data[%d].%s", i, name) }
		if row.Date == "" {
			return model.Series{}, model.NewMalformedInput(field(ColDate), "missing value")
		}
		date, err := model.ParseDate(field(ColDate), row.Date)
		if err != nil {
			return model.Series{}, err
		}
		if row.Spend == nil {
			return model.Series{}, model.NewMalformedInput(field(ColSpend), "missing value")
		}
		if row.Revenue == nil {
			return model.Series{}, model.NewMalformedInput(field(ColRevenue), "missing value")
		}
		obs = append(obs, model.Observation{Date: date, Spend: *row.Spend, Revenue: *row.Revenue})
	}
	return model.NewSeries(obs)
}

// DecodeIncrementalityYAML parses an incrementality input document.
func DecodeIncrementalityYAML(data []byte) (*IncrementalityInput, error) {
	var in IncrementalityInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, &model.MalformedInputError{Field: "yaml", Err: err}
	}
	if len(in.DailyData) == 0 {
		return nil, model.NewMalformedInput("daily_data", "missing or empty")
	}
	return &in, nil
}

// LoadIncrementalityYAML reads and parses the document at path.
func LoadIncrementalityYAML(path string) (*IncrementalityInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "yaml: read %s", path)
	}
	in, err := DecodeIncrementalityYAML(data)
	if err != nil {
		return nil, eris.Wrapf(err, "yaml: parse %s", path)
	}
	return in, nil
}
