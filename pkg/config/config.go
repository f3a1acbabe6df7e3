// Package config provides configuration loading and management for boldconfounds.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"boldconfounds/internal/logging"
	"boldconfounds/pkg/compcor"
	"boldconfounds/pkg/drift"
	"boldconfounds/pkg/quality"
	"boldconfounds/pkg/segmentation"
)

// Config represents the application configuration
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds how many CompCor extractions run at once
		NumCores int `yaml:"numCores" toml:"num_cores"`

		// TolerateEmptyMasks skips the CompCor columns of an empty tissue
		// mask instead of failing the run
		TolerateEmptyMasks bool `yaml:"tolerateEmptyMasks" toml:"tolerate_empty_masks"`
	} `yaml:"processing" toml:"processing"`

	// Segmentation parameters
	Segmentation struct {
		// DilateIterations is how often the gray matter mask is dilated
		// before it is removed from white matter and CSF
		DilateIterations int `yaml:"dilateIterations" toml:"dilate_iterations"`

		// Labels are the segmentation codes of each tissue class
		Labels segmentation.TissueCodes `yaml:"labels" toml:"labels"`
	} `yaml:"segmentation" toml:"segmentation"`

	// CompCor parameters
	CompCor struct {
		// VarianceThreshold selects components by cumulative explained variance
		VarianceThreshold float64 `yaml:"varianceThreshold" toml:"variance_threshold"`

		// NumComponents, when positive, retains a fixed number instead
		NumComponents int `yaml:"numComponents" toml:"num_components"`

		// HighPassCutoff is the prefilter period in seconds
		HighPassCutoff float64 `yaml:"highPassCutoff" toml:"high_pass_cutoff"`

		TCompCor struct {
			Enabled       bool    `yaml:"enabled" toml:"enabled"`
			Percentile    float64 `yaml:"percentile" toml:"percentile"`
			NumComponents int     `yaml:"numComponents" toml:"num_components"`
		} `yaml:"tcompcor" toml:"tcompcor"`
	} `yaml:"compcor" toml:"compcor"`

	// Drift basis parameters
	Drift struct {
		// Cutoff is the high-pass period in seconds
		Cutoff float64 `yaml:"cutoff" toml:"cutoff"`
	} `yaml:"drift" toml:"drift"`

	// Quality (FD and DVARS) parameters
	Quality struct {
		IntensityNormalization float64 `yaml:"intensityNormalization" toml:"intensity_normalization"`
		HeadRadius             float64 `yaml:"headRadius" toml:"head_radius"`
		VarianceTolerance      float64 `yaml:"varianceTolerance" toml:"variance_tolerance"`
	} `yaml:"quality" toml:"quality"`

	// Outlier spike regressors
	Outliers struct {
		Enabled        bool    `yaml:"enabled" toml:"enabled"`
		FDThreshold    float64 `yaml:"fdThreshold" toml:"fd_threshold"`
		DVARSThreshold float64 `yaml:"dvarsThreshold" toml:"dvars_threshold"`
	} `yaml:"outliers" toml:"outliers"`

	// Output parameters
	Output struct {
		// WriteMasks saves the tissue masks next to the table
		WriteMasks bool `yaml:"writeMasks" toml:"write_masks"`

		// WriteMetadata saves the JSON sidecar of the table
		WriteMetadata bool `yaml:"writeMetadata" toml:"write_metadata"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	Logging logging.LogConfig `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.TolerateEmptyMasks = false

	cfg.Segmentation.DilateIterations = 1
	cfg.Segmentation.Labels = segmentation.FreeSurferAseg()

	cfg.CompCor.VarianceThreshold = compcor.DefaultVarianceThreshold
	cfg.CompCor.NumComponents = 0
	cfg.CompCor.HighPassCutoff = compcor.DefaultHighPassCutoff
	cfg.CompCor.TCompCor.Enabled = false
	cfg.CompCor.TCompCor.Percentile = compcor.DefaultTemporalPercentile
	cfg.CompCor.TCompCor.NumComponents = compcor.DefaultTemporalComponents

	cfg.Drift.Cutoff = drift.DefaultCutoff

	cfg.Quality.IntensityNormalization = quality.DefaultIntensityNormalization
	cfg.Quality.HeadRadius = quality.DefaultHeadRadius
	cfg.Quality.VarianceTolerance = quality.DefaultVarianceTolerance

	cfg.Outliers.Enabled = false
	cfg.Outliers.FDThreshold = 0.5
	cfg.Outliers.DVARSThreshold = 1.5

	cfg.Output.WriteMasks = true
	cfg.Output.WriteMetadata = true
	cfg.Output.Verbose = false

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	return cfg
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Segmentation.DilateIterations < 0 {
		return fmt.Errorf("segmentation.dilateIterations must not be negative, got %d", c.Segmentation.DilateIterations)
	}
	if err := c.Segmentation.Labels.Validate(); err != nil {
		return fmt.Errorf("segmentation.labels: %w", err)
	}
	if c.CompCor.NumComponents < 0 {
		return fmt.Errorf("compcor.numComponents must not be negative, got %d", c.CompCor.NumComponents)
	}
	if c.CompCor.NumComponents == 0 && (c.CompCor.VarianceThreshold <= 0 || c.CompCor.VarianceThreshold > 1) {
		return fmt.Errorf("compcor.varianceThreshold must be in (0, 1], got %g", c.CompCor.VarianceThreshold)
	}
	if c.CompCor.HighPassCutoff <= 0 {
		return fmt.Errorf("compcor.highPassCutoff must be positive, got %g", c.CompCor.HighPassCutoff)
	}
	if t := c.CompCor.TCompCor; t.Enabled {
		if t.Percentile <= 0 || t.Percentile > 100 {
			return fmt.Errorf("compcor.tcompcor.percentile must be in (0, 100], got %g", t.Percentile)
		}
		if t.NumComponents < 1 {
			return fmt.Errorf("compcor.tcompcor.numComponents must be at least 1, got %d", t.NumComponents)
		}
	}
	if c.Drift.Cutoff <= 0 {
		return fmt.Errorf("drift.cutoff must be positive, got %g", c.Drift.Cutoff)
	}
	if c.Quality.IntensityNormalization < 0 {
		return fmt.Errorf("quality.intensityNormalization must not be negative, got %g", c.Quality.IntensityNormalization)
	}
	if c.Quality.HeadRadius <= 0 {
		return fmt.Errorf("quality.headRadius must be positive, got %g", c.Quality.HeadRadius)
	}
	if c.Quality.VarianceTolerance < 0 {
		return fmt.Errorf("quality.varianceTolerance must not be negative, got %g", c.Quality.VarianceTolerance)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML file, or a TOML file when the
// path ends in .toml. If the file doesn't exist, it returns the default
// configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration in the format its extension names
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
