// Package config loads the service configuration from YAML and supplies
// defaults for everything the file leaves out.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration loaded from YAML
type Config struct {
	Server struct {
		// Addr is the listen address of the HTTP server
		Addr string `yaml:"addr"`

		// MaxUploadBytes caps the request body size of uploads and exports
		MaxUploadBytes int64 `yaml:"maxUploadBytes"`

		// MaxConcurrent is the number of requests processed at once.
		// Deployments are expected to keep this at 1 and scale by process count.
		MaxConcurrent int `yaml:"maxConcurrent"`

		// ScratchDir is the parent of per-request temporary directories.
		// Empty means the OS temp dir.
		ScratchDir string `yaml:"scratchDir"`

		// AllowedOrigins lists CORS origins; empty disables CORS handling
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	// Segmentation controls the watershed pipeline
	Segmentation struct {
		// KernelSize is the side of the square structuring element
		KernelSize int `yaml:"kernelSize"`

		OpeningIterations int `yaml:"openingIterations"`
		DilateIterations  int `yaml:"dilateIterations"`

		// ForegroundRatio is the fraction of the maximum distance above which
		// pixels are treated as sure foreground
		ForegroundRatio float64 `yaml:"foregroundRatio"`

		// MarkerOffset is added to component labels so that seeds never
		// collide with the watershed "unknown" (0) and ridge (-1) values
		MarkerOffset int `yaml:"markerOffset"`

		// CropBottom is the default number of rows trimmed from the bottom of
		// an image when no region of interest is supplied
		CropBottom int `yaml:"cropBottom"`
	} `yaml:"segmentation"`

	Measurement struct {
		// DefaultScale is the physical length of one pixel (µm/px)
		DefaultScale float64 `yaml:"defaultScale"`

		Precision        int `yaml:"precision"`
		DensityPrecision int `yaml:"densityPrecision"`
	} `yaml:"measurement"`

	Render struct {
		PlotWidth   int `yaml:"plotWidth"`
		PlotHeight  int `yaml:"plotHeight"`
		JPEGQuality int `yaml:"jpegQuality"`
		MaxBins     int `yaml:"maxBins"`
	} `yaml:"render"`

	Logging struct {
		Debug bool `yaml:"debug"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":5000"
	cfg.Server.MaxUploadBytes = 16 * 1024 * 1024
	cfg.Server.MaxConcurrent = 1

	cfg.Segmentation.KernelSize = 3
	cfg.Segmentation.OpeningIterations = 2
	cfg.Segmentation.DilateIterations = 2
	cfg.Segmentation.ForegroundRatio = 0.2
	cfg.Segmentation.MarkerOffset = 10
	cfg.Segmentation.CropBottom = 80

	cfg.Measurement.DefaultScale = 0.5
	cfg.Measurement.Precision = 2
	cfg.Measurement.DensityPrecision = 6

	cfg.Render.PlotWidth = 1500
	cfg.Render.PlotHeight = 500
	cfg.Render.JPEGQuality = 95
	cfg.Render.MaxBins = 100

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.maxUploadBytes must be positive")
	}
	if c.Server.MaxConcurrent < 1 {
		return fmt.Errorf("server.maxConcurrent must be at least 1")
	}

	seg := c.Segmentation
	if seg.KernelSize < 1 || seg.KernelSize > 15 {
		return fmt.Errorf("segmentation.kernelSize must be between 1 and 15")
	}
	if seg.OpeningIterations < 0 || seg.DilateIterations < 0 {
		return fmt.Errorf("segmentation iterations must not be negative")
	}
	if seg.ForegroundRatio <= 0 || seg.ForegroundRatio >= 1 {
		return fmt.Errorf("segmentation.foregroundRatio must be in (0, 1)")
	}
	if seg.MarkerOffset < 1 {
		return fmt.Errorf("segmentation.markerOffset must be at least 1")
	}
	if seg.CropBottom < 0 {
		return fmt.Errorf("segmentation.cropBottom must not be negative")
	}

	scale := c.Measurement.DefaultScale
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("measurement.defaultScale must be a positive number")
	}
	if c.Measurement.Precision < 0 || c.Measurement.DensityPrecision < 0 {
		return fmt.Errorf("measurement precision must not be negative")
	}

	if c.Render.PlotWidth < 200 || c.Render.PlotHeight < 100 {
		return fmt.Errorf("render plot size too small: %dx%d", c.Render.PlotWidth, c.Render.PlotHeight)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpegQuality must be between 1 and 100")
	}
	if c.Render.MaxBins < 1 {
		return fmt.Errorf("render.maxBins must be at least 1")
	}

	return nil
}
