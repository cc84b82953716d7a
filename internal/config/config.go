package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the monitoring core.
type Config struct {
	Version string `yaml:"version"`

	DevTools DevToolsConfig `yaml:"devtools"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Network  NetworkConfig  `yaml:"network"`
	Viewport ViewportConfig `yaml:"viewport"`
	Log      LogConfig      `yaml:"log"`
}

// DevToolsConfig locates the browser's DevTools HTTP endpoint.
type DevToolsConfig struct {
	URL        string `yaml:"url"`
	BrowserPID int    `yaml:"browserPID" split_words:"true"`
}

// WatchdogConfig controls crash monitoring cadence.
type WatchdogConfig struct {
	StartupGraceMS  int `yaml:"startupGraceMS" split_words:"true"`
	CheckIntervalMS int `yaml:"checkIntervalMS" split_words:"true"`
	ProbeTimeoutMS  int `yaml:"probeTimeoutMS" split_words:"true"`
}

// NetworkConfig controls request tracking.
type NetworkConfig struct {
	CompletedCapacity int  `yaml:"completedCapacity" split_words:"true"`
	Concurrency       int  `yaml:"concurrency"`
	CaptureBodies     bool `yaml:"captureBodies" split_words:"true"`
}

// ViewportConfig is the fallback viewport used for section labels.
type ViewportConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// LogConfig selects log level and writers.
type LogConfig struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		DevTools: DevToolsConfig{
			URL: "http://127.0.0.1:9222",
		},
		Watchdog: WatchdogConfig{
			StartupGraceMS:  10000,
			CheckIntervalMS: 5000,
			ProbeTimeoutMS:  1000,
		},
		Network: NetworkConfig{
			CompletedCapacity: 200,
			Concurrency:       8,
		},
		Viewport: ViewportConfig{
			Width:  1280,
			Height: 720,
		},
		Log: LogConfig{
			Level:  "debug",
			Writer: []string{"console", "file"},
			File:   "tabwatch.log",
		},
	}
}

// Load reads the optional YAML file at path and applies TABWATCH_* environment
// overrides on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := envconfig.Process("tabwatch", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}
