package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/state"
	"github.com/jwoglom/fakesterzo/pkg/steerer"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no -config flag is given
const EnvConfigPath = "STEERER_CONFIG"

// Config holds the emulator configuration
type Config struct {
	Name        string            `yaml:"name"`
	Transport   string            `yaml:"transport"` // "hci" or "bluez"
	HCI         HCIConfig         `yaml:"hci"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Angle       AngleConfig       `yaml:"angle"`
	API         APIConfig         `yaml:"api"`
	LogLevel    string            `yaml:"log_level"`
}

// HCIConfig holds settings for the raw HCI transport
type HCIConfig struct {
	DeviceID       int `yaml:"device_id"` // -1 picks the first usable controller
	MaxConnections int `yaml:"max_connections"`
}

// AdvertisingConfig holds advertising settings
type AdvertisingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AngleConfig holds the steering simulation settings
type AngleConfig struct {
	Min      int           `yaml:"min"`
	Max      int           `yaml:"max"`
	Step     int           `yaml:"step"`
	Interval time.Duration `yaml:"interval"`
}

// APIConfig holds the monitoring API settings
type APIConfig struct {
	// Listen is the HTTP address, the API is disabled when empty
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Name:      steerer.DefaultName,
		Transport: bluetooth.TransportHCI,
		HCI: HCIConfig{
			DeviceID:       -1,
			MaxConnections: 1,
		},
		Advertising: AdvertisingConfig{
			Interval: bluetooth.DefaultAdvertisingInterval,
		},
		Angle: AngleConfig{
			Min:      state.DefaultAngleMin,
			Max:      state.DefaultAngleMax,
			Step:     state.DefaultAngleStep,
			Interval: state.DefaultPublishInterval,
		},
		LogLevel: "debug",
	}
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	// flags + complete 128-bit uuid leave 10 bytes for the name field
	if len(c.Name) > 8 {
		log.Warnf("name %q will be shortened in the advertising packet", c.Name)
	}

	switch c.Transport {
	case bluetooth.TransportHCI, bluetooth.TransportBluez:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", bluetooth.TransportHCI, bluetooth.TransportBluez, c.Transport)
	}

	if c.HCI.DeviceID < -1 {
		return fmt.Errorf("hci.device_id must be -1 or a device index, got %d", c.HCI.DeviceID)
	}
	if c.HCI.MaxConnections < 1 {
		return fmt.Errorf("hci.max_connections must be >= 1")
	}

	if c.Advertising.Interval < 20*time.Millisecond || c.Advertising.Interval > 10240*time.Millisecond {
		return fmt.Errorf("advertising.interval must be between 20ms and 10.24s, got %s", c.Advertising.Interval)
	}

	if c.Angle.Min >= c.Angle.Max {
		return fmt.Errorf("angle.min (%d) must be below angle.max (%d)", c.Angle.Min, c.Angle.Max)
	}
	if c.Angle.Step <= 0 || c.Angle.Step > c.Angle.Max-c.Angle.Min {
		return fmt.Errorf("angle.step must be in (0, %d], got %d", c.Angle.Max-c.Angle.Min, c.Angle.Step)
	}
	if c.Angle.Interval <= 0 {
		return fmt.Errorf("angle.interval must be > 0")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	return nil
}

// Resolve loads the file at path, falling back to $STEERER_CONFIG and then
// to the defaults, and validates the result
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
