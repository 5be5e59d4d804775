// Package config provides configuration loading and management for stem4d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detection parameters
	Detection struct {
		// CorrPower selects the correlation family: 1 = cross correlation,
		// 0 = phase correlation, intermediate values give hybrids
		CorrPower float64 `yaml:"corrPower"`

		// Sigma is the standard deviation of the Gaussian smoothing applied
		// to each correlation surface
		Sigma float64 `yaml:"sigma"`

		// EdgeBoundary is the minimum acceptable distance from the pattern
		// edge, in pixels
		EdgeBoundary int `yaml:"edgeBoundary"`

		// MinRelativeIntensity is the minimum peak intensity relative to the
		// brightest peak in the same pattern
		MinRelativeIntensity float64 `yaml:"minRelativeIntensity"`

		// MinPeakSpacing is the minimum acceptable spacing between detected
		// peaks, in pixels
		MinPeakSpacing float64 `yaml:"minPeakSpacing"`

		// MaxNumPeaks is the maximum number of peaks kept per pattern
		MaxNumPeaks int `yaml:"maxNumPeaks"`

		// Subpixel selects the refinement mode: none, poly or multicorr
		Subpixel string `yaml:"subpixel"`

		// UpsampleFactor is the DFT upsampling factor for multicorr mode
		UpsampleFactor int `yaml:"upsampleFactor"`
	} `yaml:"detection"`

	// Processing parameters
	Processing struct {
		// NumWorkers specifies how many goroutines to use for full-scan
		// detection and thresholding
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveDiagnostics determines whether to save diagnostic images of
		// correlation surfaces and detected peaks
		SaveDiagnostics bool `yaml:"saveDiagnostics"`

		// DiagnosticsDir is the directory where diagnostic images are saved
		DiagnosticsDir string `yaml:"diagnosticsDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default detection parameters
	cfg.Detection.CorrPower = 1.0
	cfg.Detection.Sigma = 2.0
	cfg.Detection.EdgeBoundary = 20
	cfg.Detection.MinRelativeIntensity = 0.005
	cfg.Detection.MinPeakSpacing = 60
	cfg.Detection.MaxNumPeaks = 70
	cfg.Detection.Subpixel = "poly"
	cfg.Detection.UpsampleFactor = 4

	// Set default processing parameters
	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.SaveDiagnostics = false
	cfg.Output.DiagnosticsDir = "diagnostics"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
