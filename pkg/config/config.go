// Package config provides configuration loading and management for nearedge.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"nearedge/pkg/calibration"
	"nearedge/pkg/spectra"
)

// MaterialEntry declares one candidate material and where its spectrum comes from
type MaterialEntry struct {
	// Name is the unique material key, also the default file/database key
	Name string `yaml:"name"`

	// Source is FILE (standards file) or SYSTEM (material database)
	Source string `yaml:"source"`

	// Path overrides the standards file of a FILE material
	Path string `yaml:"path,omitempty"`

	// Descriptor overrides the database key of a SYSTEM material
	Descriptor string `yaml:"descriptor,omitempty"`

	// Background excludes the material from the unknowns (ambient medium)
	Background bool `yaml:"background,omitempty"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// NumProjections limits how many projections are analysed (0 = all)
		NumProjections int `yaml:"numProjections"`

		// EnergyRange overrides geometry.energyRange when non-zero (keV)
		EnergyRange float64 `yaml:"energyRange"`

		// WidthFactor scales the row energy width into the broadening sigma
		WidthFactor float64 `yaml:"widthFactor"`

		// Lowpass smooths the transmitted ratio along energy before the logarithm
		Lowpass bool `yaml:"lowpass"`

		// LowpassSigma is the smoothing sigma in rows
		LowpassSigma float64 `yaml:"lowpassSigma"`

		// SideWidth excludes this many columns on either side from the regression
		SideWidth int `yaml:"sideWidth"`

		// RowBand restricts the detector rows to [first, last) when last > first
		RowBand [2]int `yaml:"rowBand"`

		// FixVerticalMotion estimates and removes the per-column beam wander
		FixVerticalMotion bool `yaml:"fixVerticalMotion"`

		// UseMeasuredStandard substitutes measured standards for tabulated spectra
		UseMeasuredStandard bool `yaml:"useMeasuredStandard"`

		// UseWeights weights the regression by beam intensity
		UseWeights bool `yaml:"useWeights"`

		// EnergyWeights scales each energy row of the regression, listed
		// per detector row after the flip; empty weights all rows equally
		EnergyWeights []float64 `yaml:"energyWeights,omitempty"`

		// PutDarkBack marks projections already dark corrected
		PutDarkBack bool `yaml:"putDarkBack"`

		// Clip floors mu*t at zero
		Clip bool `yaml:"clip"`

		// MaxInvalidFraction bounds the unusable beam reference share
		MaxInvalidFraction float64 `yaml:"maxInvalidFraction"`
	} `yaml:"processing"`

	// Calibration tuning
	Calibration struct {
		// MinIntensity is the dark-subtracted flat level considered unusable
		MinIntensity float64 `yaml:"minIntensity"`

		// EdgeThreshold is the minimum edge gradient for edge detection
		EdgeThreshold float64 `yaml:"edgeThreshold"`

		// SmoothSigma is the smoothing applied before locating the edge
		SmoothSigma float64 `yaml:"smoothSigma"`

		// MaxShift bounds the vertical motion search in rows (0 = rows/4)
		MaxShift int `yaml:"maxShift"`

		// FlatGamma is the exponent applied to the beam reference
		FlatGamma float64 `yaml:"flatGamma"`
	} `yaml:"calibration"`

	// Geometry of the dispersive setup
	Geometry calibration.Geometry `yaml:"geometry"`

	// Materials in regression coefficient order
	Materials []MaterialEntry `yaml:"materials"`

	// Data locations
	Data struct {
		// Input is the HDF5 file holding the calibration scans and projections
		Input string `yaml:"input"`

		// MaterialDB is the SQLite material database for SYSTEM sources
		MaterialDB string `yaml:"materialDB"`

		// StandardsDir holds the FILE standards tables
		StandardsDir string `yaml:"standardsDir"`
	} `yaml:"data"`

	// Output parameters
	Output struct {
		// File is the HDF5 result file
		File string `yaml:"file"`

		// PlotsDir receives diagnostic plots and density maps when SavePlots is set
		PlotsDir string `yaml:"plotsDir"`

		// SavePlots enables the diagnostic plots
		SavePlots bool `yaml:"savePlots"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultMaterials is the selenium speciation set used when none are configured
func DefaultMaterials() []MaterialEntry {
	return []MaterialEntry{
		{Name: "K2SeO4", Source: "FILE"},
		{Name: "K2SeO3", Source: "FILE"},
		{Name: "Se-Meth", Source: "FILE"},
		{Name: "Water", Source: "SYSTEM"},
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.NumProjections = 0
	cfg.Processing.WidthFactor = 1.0
	cfg.Processing.LowpassSigma = 2.0
	cfg.Processing.MaxInvalidFraction = 0.5

	// Set default calibration parameters
	cfg.Calibration.EdgeThreshold = 0.02
	cfg.Calibration.SmoothSigma = 2.0
	cfg.Calibration.FlatGamma = 1.0

	// Selenium K-edge setup
	cfg.Geometry.EnergyRange = 0.6
	cfg.Geometry.EdgeEnergy = 12.658

	cfg.Materials = DefaultMaterials()

	// Set default data and output locations
	cfg.Data.MaterialDB = "materials.db"
	cfg.Data.StandardsDir = "standards"
	cfg.Output.File = "nei_result.h5"
	cfg.Output.PlotsDir = "plots"
	cfg.Output.SavePlots = false
	cfg.Output.Verbose = false

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

	// A materials list in the file replaces the defaults instead of merging
	cfg.Materials = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if len(cfg.Materials) == 0 {
		cfg.Materials = DefaultMaterials()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks value ranges and material declarations
func (c *Config) Validate() error {
	p := c.Processing
	if p.NumCores < 0 || p.NumProjections < 0 || p.SideWidth < 0 {
		return fmt.Errorf("numCores, numProjections and sideWidth must be non-negative")
	}
	if p.WidthFactor < 0 {
		return fmt.Errorf("widthFactor must be non-negative, got %g", p.WidthFactor)
	}
	if p.MaxInvalidFraction < 0 || p.MaxInvalidFraction > 1 {
		return fmt.Errorf("maxInvalidFraction must lie in [0, 1], got %g", p.MaxInvalidFraction)
	}
	if c.Calibration.FlatGamma < 0 {
		return fmt.Errorf("flatGamma must be non-negative, got %g", c.Calibration.FlatGamma)
	}
	for i, w := range p.EnergyWeights {
		if w < 0 {
			return fmt.Errorf("energyWeights[%d] is negative (%g)", i, w)
		}
	}
	if band := p.RowBand; band[1] != 0 && (band[0] < 0 || band[1] <= band[0]) {
		return fmt.Errorf("rowBand [%d, %d) is empty", band[0], band[1])
	}

	if len(c.Materials) == 0 {
		return fmt.Errorf("no materials configured")
	}
	seen := make(map[string]bool, len(c.Materials))
	for i, m := range c.Materials {
		if m.Name == "" {
			return fmt.Errorf("material %d has no name", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("material %q declared twice", m.Name)
		}
		seen[m.Name] = true
		if _, err := spectra.ParseKind(m.Source); err != nil {
			return fmt.Errorf("material %q: %w", m.Name, err)
		}
	}
	return nil
}

// SpectraMaterials converts the material entries into library requests
func (c *Config) SpectraMaterials() ([]spectra.Material, error) {
	out := make([]spectra.Material, 0, len(c.Materials))
	for _, m := range c.Materials {
		kind, err := spectra.ParseKind(m.Source)
		if err != nil {
			return nil, fmt.Errorf("material %q: %w", m.Name, err)
		}
		out = append(out, spectra.Material{
			Name:       m.Name,
			Source:     spectra.Source{Kind: kind, Path: m.Path, Descriptor: m.Descriptor},
			Background: m.Background,
		})
	}
	return out, nil
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
