// Package config loads omniad command configuration from a YAML file,
// OMNIAD_* environment variables and built-in defaults, in that order of
// precedence after command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/hed1ad/omniad/pkg/detectors"
	"github.com/hed1ad/omniad/pkg/logging"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. OMNIAD_DETECTOR_CONTAMINATION.
const EnvPrefix = "OMNIAD"

// Config is the full command configuration.
type Config struct {
	Logging  logging.Config `mapstructure:"logging"`
	Detector DetectorConfig `mapstructure:"detector"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DetectorConfig selects and parameterizes the detector built by "fit".
type DetectorConfig struct {
	Algorithm     string         `mapstructure:"algorithm"`
	Contamination float64        `mapstructure:"contamination"`
	Standardize   bool           `mapstructure:"standardize"`
	Params        map[string]any `mapstructure:"params"`
}

// ArchiveConfig controls archive loading.
type ArchiveConfig struct {
	MaxSegmentSizeMB int `mapstructure:"max_segment_size_mb"`
}

// CatalogConfig points at the SQLite catalog of saved archives. An empty
// path disables the catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus text dump written on exit.
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Detector: DetectorConfig{
			Algorithm:     "IsolationForest",
			Contamination: detectors.DefaultContamination,
			Params:        map[string]any{},
		},
		Archive: ArchiveConfig{
			MaxSegmentSizeMB: 1024,
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. A named file that does not exist is an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Detector.Params == nil {
		cfg.Detector.Params = map[string]any{}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size", defaults.Logging.MaxSize)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max_age", defaults.Logging.MaxAge)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Detector defaults
	v.SetDefault("detector.algorithm", defaults.Detector.Algorithm)
	v.SetDefault("detector.contamination", defaults.Detector.Contamination)
	v.SetDefault("detector.standardize", defaults.Detector.Standardize)
	v.SetDefault("detector.params", defaults.Detector.Params)

	v.SetDefault("archive.max_segment_size_mb", defaults.Archive.MaxSegmentSizeMB)
	v.SetDefault("catalog.path", defaults.Catalog.Path)
	v.SetDefault("metrics.file", defaults.Metrics.File)
}

// Validate returns all problems found in c, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Detector.Algorithm == "" {
		errs = append(errs, errors.New("detector.algorithm is required"))
	}
	if !(c.Detector.Contamination > 0 && c.Detector.Contamination < 1) {
		errs = append(errs, fmt.Errorf("detector.contamination must be in (0, 1), got %v", c.Detector.Contamination))
	}
	for _, reserved := range []string{detectors.ParamContamination, detectors.ParamStandardize} {
		if _, ok := c.Detector.Params[reserved]; ok {
			errs = append(errs, fmt.Errorf("detector.params.%s: set detector.%s instead", reserved, reserved))
		}
	}

	if c.Archive.MaxSegmentSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("archive.max_segment_size_mb must be positive, got %d", c.Archive.MaxSegmentSizeMB))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
}

// Hyperparameters returns the registry hyperparameters described by the
// detector section.
func (d DetectorConfig) Hyperparameters() detectors.Hyperparameters {
	h := make(detectors.Hyperparameters, len(d.Params)+2)
	for k, v := range d.Params {
		h[k] = v
	}
	h[detectors.ParamContamination] = d.Contamination
	h[detectors.ParamStandardize] = d.Standardize
	return h
}
