// Package config loads and validates daemon configuration from a YAML file
// and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root daemon configuration.
type Config struct {
	API           APIConfig           `yaml:"api"`
	MIDI          MIDIConfig          `yaml:"midi"`
	MappingsFile  string              `yaml:"mappings_file"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// APIConfig describes the remote REST API connection.
type APIConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Key      string        `yaml:"key"`
	ClientID string        `yaml:"client_id"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MIDIConfig describes MIDI input handling.
type MIDIConfig struct {
	// Device is the input port to connect to at startup. Empty means start
	// disconnected and wait for a connect command.
	Device string `yaml:"device"`
	// PollInterval is the port drain cycle; it bounds input latency.
	PollInterval time.Duration `yaml:"poll_interval"`
	// DebounceWindow is the sliding per-signal window within which repeated
	// non-edge messages are coalesced to one.
	DebounceWindow time.Duration `yaml:"debounce_window"`
	// EventBuffer is the capacity of the event channel between the intake
	// goroutine and the dispatcher.
	EventBuffer int `yaml:"event_buffer"`
}

// CatalogConfig describes where the endpoint catalog comes from.
// Source "remote" fetches the API's /api/docs self-description; "openapi"
// loads a local OpenAPI 3 spec file instead.
type CatalogConfig struct {
	Source   string `yaml:"source"`
	SpecFile string `yaml:"spec_file"`
}

// MonitorConfig describes the local WebSocket monitor server used by UI
// clients.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Tracing  TracingConfig `yaml:"tracing"`
}

// MetricsConfig describes the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			Timeout: 10 * time.Second,
		},
		MIDI: MIDIConfig{
			PollInterval:   time.Millisecond,
			DebounceWindow: 100 * time.Millisecond,
			EventBuffer:    128,
		},
		MappingsFile: defaultMappingsFile(),
		Catalog: CatalogConfig{
			Source: "remote",
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8392",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Metrics: MetricsConfig{
				Addr: "127.0.0.1:9392",
			},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
		},
	}
}

func defaultMappingsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mappings.json"
	}
	return filepath.Join(home, ".foundry_midi_rest", "mappings.json")
}

// Load reads a YAML config file, applies environment variable overrides, and
// validates the result. A missing file is not an error: the daemon can start
// unconfigured and receive its connection state through the monitor channel.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides on top of defaults
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	var errs []string

	if c.API.Timeout <= 0 {
		errs = append(errs, "api.timeout must be positive")
	}
	if c.API.BaseURL != "" && !strings.HasPrefix(c.API.BaseURL, "http://") &&
		!strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, "api.base_url must be an http(s) URL")
	}
	if c.MIDI.PollInterval <= 0 {
		errs = append(errs, "midi.poll_interval must be positive")
	}
	if c.MIDI.DebounceWindow < 0 {
		errs = append(errs, "midi.debounce_window must not be negative")
	}
	if c.MIDI.EventBuffer < 1 {
		errs = append(errs, "midi.event_buffer must be at least 1")
	}
	switch c.Catalog.Source {
	case "remote", "openapi":
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q not supported (remote, openapi)", c.Catalog.Source))
	}
	if c.Catalog.Source == "openapi" && c.Catalog.SpecFile == "" {
		errs = append(errs, "catalog.spec_file is required when catalog.source is openapi")
	}
	if c.MappingsFile == "" {
		errs = append(errs, "mappings_file is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads BRIDGE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("BRIDGE_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("BRIDGE_CLIENT_ID"); v != "" {
		cfg.API.ClientID = v
	}
	if v := os.Getenv("BRIDGE_MIDI_DEVICE"); v != "" {
		cfg.MIDI.Device = v
	}
	if v := os.Getenv("BRIDGE_MAPPINGS_FILE"); v != "" {
		cfg.MappingsFile = v
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("BRIDGE_MONITOR_ADDR"); v != "" {
		cfg.Monitor.Addr = v
	}
}
