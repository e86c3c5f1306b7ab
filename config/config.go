// Package config loads the drive, decoder and capture settings from
// ~/.floppyflux, creating it from the built-in default on first use.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/BurntSushi/toml"
)

//go:embed floppyflux.toml
var defaultConfigData []byte

// Global state variables for the selected drive
var (
	DriveName string
	Cyls      int
	Heads     int
	RPM       int
	MaxKBps   int
	PLL       PLLConfig
	Capture   CaptureConfig
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string        `toml:"default"`
	Drive   []Drive       `toml:"drive"`
	PLL     PLLConfig     `toml:"pll"`
	Capture CaptureConfig `toml:"capture"`
}

// Drive represents a floppy drive configuration
type Drive struct {
	Name    string `toml:"name"`
	Cyls    int    `toml:"cyls"`
	Heads   int    `toml:"heads"`
	RPM     int    `toml:"rpm"`
	MaxKBps int    `toml:"maxkbps"`
}

// PLLConfig tunes flux decoding. Zero gains keep the decoder preset.
type PLLConfig struct {
	Clock     float64 `toml:"clock"` // microseconds
	MaxAdjust float64 `toml:"max_adjust"`
	ClockGain float64 `toml:"clock_gain"`
	PhaseGain float64 `toml:"phase_gain"`
	WeakRun   int     `toml:"weak_run"`
}

// CaptureConfig controls reading from an adapter.
type CaptureConfig struct {
	Revolutions      int    `toml:"revolutions"`
	Format           string `toml:"format"`
	KryoFluxFirmware string `toml:"kryoflux_firmware"`
}

// Formats accepted for captured images
var captureFormats = []string{"scp", "hfe"}

// Path determines the config file path based on the operating system
func Path() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "floppyflux")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".floppyflux"), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	conf, err := Parse(defaultConfigData)
	if err != nil {
		panic("config: built-in default is invalid: " + err.Error())
	}
	return conf
}

// Parse decodes and validates a TOML configuration.
func Parse(data []byte) (*Config, error) {
	var conf Config
	if _, err := toml.Decode(string(data), &conf); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// SelectedDrive returns the drive named by the `default` key.
func (conf *Config) SelectedDrive() (*Drive, error) {
	if conf.Default == "" {
		return nil, errors.New("`default` key is missing or empty in config")
	}
	for i := range conf.Drive {
		if conf.Drive[i].Name == conf.Default {
			return &conf.Drive[i], nil
		}
	}
	return nil, fmt.Errorf("default drive %q not found in drive array", conf.Default)
}

func (conf *Config) validate() error {
	drive, err := conf.SelectedDrive()
	if err != nil {
		return err
	}

	if drive.Cyls <= 0 {
		return fmt.Errorf("drive %q has invalid cyls: %d (must be positive)", drive.Name, drive.Cyls)
	}
	if drive.Heads <= 0 || drive.Heads > 2 {
		return fmt.Errorf("drive %q has invalid heads: %d (must be 1 or 2)", drive.Name, drive.Heads)
	}
	if drive.RPM <= 0 {
		return fmt.Errorf("drive %q has invalid rpm: %d (must be positive)", drive.Name, drive.RPM)
	}
	if drive.MaxKBps <= 0 {
		return fmt.Errorf("drive %q has invalid maxkbps: %d (must be positive)", drive.Name, drive.MaxKBps)
	}

	p := conf.PLL
	if p.Clock < 0 {
		return fmt.Errorf("pll clock %g must not be negative", p.Clock)
	}
	if p.MaxAdjust < 0 || p.MaxAdjust >= 1 {
		return fmt.Errorf("pll max_adjust %g out of range [0, 1)", p.MaxAdjust)
	}
	if p.ClockGain < 0 || p.ClockGain > 1 || p.PhaseGain < 0 || p.PhaseGain > 1 {
		return fmt.Errorf("pll gains %g/%g out of range [0, 1]", p.ClockGain, p.PhaseGain)
	}
	if p.WeakRun < 0 {
		return fmt.Errorf("pll weak_run %d must not be negative", p.WeakRun)
	}

	c := conf.Capture
	if c.Revolutions < 1 {
		return fmt.Errorf("capture revolutions %d must be positive", c.Revolutions)
	}
	if !slices.Contains(captureFormats, c.Format) {
		return fmt.Errorf("capture format %q is not one of %v", c.Format, captureFormats)
	}
	return nil
}

// Initialize loads the configuration file from its default location.
func Initialize() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return InitializeFrom(path)
}

// InitializeFrom loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func InitializeFrom(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Create parent directory if needed (for Windows)
		configDir := filepath.Dir(path)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	conf, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	conf.apply()
	return nil
}

// apply stores the selected drive and settings in the global variables.
func (conf *Config) apply() {
	drive, _ := conf.SelectedDrive()
	DriveName = drive.Name
	Cyls = drive.Cyls
	Heads = drive.Heads
	RPM = drive.RPM
	MaxKBps = drive.MaxKBps
	PLL = conf.PLL
	Capture = conf.Capture
}
