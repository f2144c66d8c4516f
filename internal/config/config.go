package config

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mmm-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
	Incrementality IncrementalityConfig `yaml:"incrementality" mapstructure:"incrementality"`
	Calibration    CalibrationConfig    `yaml:"calibration" mapstructure:"calibration"`
	Output         OutputConfig         `yaml:"output" mapstructure:"output"`
}

// IncrementalityConfig configures the windowed regression estimate.
// Test dates are YYYY-MM-DD strings.
type IncrementalityConfig struct {
	TestStart   string    `yaml:"test_start" mapstructure:"test_start"`
	TestEnd     string    `yaml:"test_end" mapstructure:"test_end"`
	PreTestDays int       `yaml:"pre_test_days" mapstructure:"pre_test_days" validate:"gte=0"`
	Saturation  float64   `yaml:"saturation" mapstructure:"saturation" validate:"gt=0,lt=1"`
	Alphas      []float64 `yaml:"alphas" mapstructure:"alphas" validate:"min=1,dive,gt=0"`
	Folds       int       `yaml:"folds" mapstructure:"folds" validate:"gte=2"`
}

// RangeConfig is an inclusive [Min, Max] range expanded into Points evenly
// spaced values.
type RangeConfig struct {
	Min    float64 `yaml:"min" mapstructure:"min"`
	Max    float64 `yaml:"max" mapstructure:"max" validate:"gtefield=Min"`
	Points int     `yaml:"points" mapstructure:"points" validate:"gte=1"`
}

// CalibrationConfig configures the grid-search calibrator.
type CalibrationConfig struct {
	SaturationPowerRange RangeConfig `yaml:"saturation_power_range" mapstructure:"saturation_power_range"`
	DecayRange           RangeConfig `yaml:"decay_range" mapstructure:"decay_range"`
	RevenueScaleFactors  []float64   `yaml:"revenue_scale_factors" mapstructure:"revenue_scale_factors" validate:"min=1,dive,gt=0"`
	BaselineSpendDefault float64     `yaml:"baseline_spend_default" mapstructure:"baseline_spend_default" validate:"gt=0"`
	ObservedRevenue      []float64   `yaml:"observed_revenue" mapstructure:"observed_revenue" validate:"dive,gte=0"`
	TopK                 int         `yaml:"top_k" mapstructure:"top_k" validate:"gte=1"`
	Workers              int         `yaml:"workers" mapstructure:"workers" validate:"gte=1"`
	TimeoutSecs          int         `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// OutputConfig configures result artifacts.
type OutputConfig struct {
	ResultPath  string `yaml:"result_path" mapstructure:"result_path"`
	Format      string `yaml:"format" mapstructure:"format" validate:"oneof=table csv"`
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// ReferenceObservedRevenue is the ten-day untracked revenue series used when
// no observed series is supplied.
var ReferenceObservedRevenue = []float64{1000, 950, 875, 820, 760, 720, 680, 630, 590, 550}

// Load reads configuration from file and environment. A .env file in the
// working directory, if present, is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("incrementality.pre_test_days", 30)
	v.SetDefault("incrementality.saturation", 0.25)
	v.SetDefault("incrementality.alphas", []float64{0.1, 1.0, 10.0})
	v.SetDefault("incrementality.folds", 5)
	v.SetDefault("calibration.saturation_power_range.min", 0.1)
	v.SetDefault("calibration.saturation_power_range.max", 0.8)
	v.SetDefault("calibration.saturation_power_range.points", 8)
	v.SetDefault("calibration.decay_range.min", 0.5)
	v.SetDefault("calibration.decay_range.max", 1.0)
	v.SetDefault("calibration.decay_range.points", 10)
	v.SetDefault("calibration.revenue_scale_factors", []float64{0.8, 1.0, 1.2})
	v.SetDefault("calibration.baseline_spend_default", 1000.0)
	v.SetDefault("calibration.observed_revenue", ReferenceObservedRevenue)
	v.SetDefault("calibration.top_k", 5)
	v.SetDefault("calibration.workers", 4)
	v.SetDefault("calibration.timeout_secs", 0)
	v.SetDefault("output.result_path", "incrementality_test_output.json")
	v.SetDefault("output.format", "table")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the named section ("incrementality", "calibration") along
// with logging and output. Any violation is a MalformedInputError naming the
// offending field.
func (c *Config) Validate(section string) error {
	targets := []any{c.Log, c.Output}
	switch section {
	case "incrementality":
		targets = append(targets, c.Incrementality)
	case "calibration":
		targets = append(targets, c.Calibration)
	case "":
	default:
		return eris.Errorf("config: unknown section %q", section)
	}

	for _, t := range targets {
		if err := validate.Struct(t); err != nil {
			return toMalformed(err)
		}
	}
	return nil
}

func toMalformed(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &model.MalformedInputError{Field: "config", Err: err}
	}
	fe := verrs[0]
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	if fe.Tag() == "gtefield" {
		reason = "range min > max"
	}
	return &model.MalformedInputError{Field: fe.Namespace(), Reason: "failed " + reason}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
