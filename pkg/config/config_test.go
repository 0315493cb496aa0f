package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Name != "steerer" {
		t.Errorf("Name = %q, want %q", cfg.Name, "steerer")
	}
	if cfg.Transport != "hci" {
		t.Errorf("Transport = %q, want %q", cfg.Transport, "hci")
	}
	if cfg.HCI.DeviceID != -1 {
		t.Errorf("HCI.DeviceID = %d, want -1", cfg.HCI.DeviceID)
	}
	if cfg.Advertising.Interval != 500*time.Millisecond {
		t.Errorf("Advertising.Interval = %s, want 500ms", cfg.Advertising.Interval)
	}
	if cfg.Angle.Min != -15 || cfg.Angle.Max != 15 || cfg.Angle.Step != 1 {
		t.Errorf("Angle = %+v, want -15..15 step 1", cfg.Angle)
	}
	if cfg.Angle.Interval != time.Second {
		t.Errorf("Angle.Interval = %s, want 1s", cfg.Angle.Interval)
	}
	if cfg.API.Listen != "" {
		t.Errorf("API.Listen = %q, want disabled", cfg.API.Listen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
name: sterzo
transport: bluez
advertising:
  interval: 250ms
angle:
  min: -30
  max: 30
  step: 2
  interval: 100ms
api:
  listen: 127.0.0.1:8080
log_level: info
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Name != "sterzo" {
		t.Errorf("Name = %q, want %q", cfg.Name, "sterzo")
	}
	if cfg.Transport != "bluez" {
		t.Errorf("Transport = %q, want %q", cfg.Transport, "bluez")
	}
	if cfg.Advertising.Interval != 250*time.Millisecond {
		t.Errorf("Advertising.Interval = %s, want 250ms", cfg.Advertising.Interval)
	}
	if cfg.Angle.Min != -30 || cfg.Angle.Max != 30 || cfg.Angle.Step != 2 {
		t.Errorf("Angle = %+v", cfg.Angle)
	}
	if cfg.Angle.Interval != 100*time.Millisecond {
		t.Errorf("Angle.Interval = %s, want 100ms", cfg.Angle.Interval)
	}
	if cfg.API.Listen != "127.0.0.1:8080" {
		t.Errorf("API.Listen = %q", cfg.API.Listen)
	}
	// unset fields keep defaults
	if cfg.HCI.MaxConnections != 1 {
		t.Errorf("HCI.MaxConnections = %d, want 1", cfg.HCI.MaxConnections)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}

	cfgPath := writeConfig(t, "angle: [not, a, map]\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() of invalid yaml should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"empty name", func(c *Config) { c.Name = "" }, "name"},
		{"bad transport", func(c *Config) { c.Transport = "usb" }, "transport"},
		{"bad device", func(c *Config) { c.HCI.DeviceID = -2 }, "hci.device_id"},
		{"no connections", func(c *Config) { c.HCI.MaxConnections = 0 }, "hci.max_connections"},
		{"fast advertising", func(c *Config) { c.Advertising.Interval = time.Millisecond }, "advertising.interval"},
		{"inverted bounds", func(c *Config) { c.Angle.Min = 15; c.Angle.Max = -15 }, "angle.min"},
		{"zero step", func(c *Config) { c.Angle.Step = 0 }, "angle.step"},
		{"zero interval", func(c *Config) { c.Angle.Interval = 0 }, "angle.interval"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Name != "steerer" {
		t.Errorf("Name = %q, want defaults", cfg.Name)
	}

	cfgPath := writeConfig(t, "name: fromenv\n")
	t.Setenv(EnvConfigPath, cfgPath)
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Name != "fromenv" {
		t.Errorf("Name = %q, want %q", cfg.Name, "fromenv")
	}

	bad := writeConfig(t, "transport: usb\n")
	if _, err := Resolve(bad); err == nil {
		t.Error("Resolve() should validate the loaded config")
	}
}
