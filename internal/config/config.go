// Package config holds the application configuration for the digitizer
// software: instrument bus addressing, acquisition program defaults, campaign
// policy, and logging. Configuration is a YAML file with defaults applied for
// every missing field, plus a small set of environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all d3df configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Instrument bus (CAEN HV over serial)
	Instrument InstrumentConfig `yaml:"instrument"`

	// Acquisition child process (WaveDemo_x743)
	Acquisition AcquisitionConfig `yaml:"acquisition"`

	// Campaign policy
	Campaign CampaignConfig `yaml:"campaign"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// InstrumentConfig configures the HV instrument bus.
type InstrumentConfig struct {
	Device     string `yaml:"device"`      // serial device path or name (e.g. COM10, /dev/caen_hv)
	Baudrate   int    `yaml:"baudrate"`    // default 9600
	Timeout    string `yaml:"timeout"`     // per-transaction read timeout
	Channel    string `yaml:"channel"`     // HV channel on the module
	Board      string `yaml:"board"`       // board address in the command frame
	Retries    int    `yaml:"retries"`     // attempts per bus operation
	RetryDelay string `yaml:"retry_delay"` // fixed delay between attempts
}

// AcquisitionConfig configures the acquisition child process.
type AcquisitionConfig struct {
	Executable string `yaml:"executable"`  // path to WaveDemo_x743 binary
	ConfigYAML string `yaml:"config_yaml"` // YAML source for INI generation
	DataOutput string `yaml:"data_output"` // output folder for data files
	BatchMode  int    `yaml:"batch_mode"`  // 0 interactive, 1 with viz, 2 no viz
	MaxEvents  int    `yaml:"max_events"`  // per-run event budget (0 = unlimited)
	MaxTime    int    `yaml:"max_time"`    // per-run time budget in seconds (0 = unlimited)
}

// CampaignConfig configures campaign execution policy.
type CampaignConfig struct {
	SettleTolerance   float64 `yaml:"settle_tolerance"`    // volts
	SettlePoll        string  `yaml:"settle_poll"`         // poll interval while settling
	LogBufferSize     int     `yaml:"log_buffer_size"`     // per-buffer line capacity
	MaxLaunchFailures int     `yaml:"max_launch_failures"` // consecutive launch failures before abort (0 = never)
	HistoryDB         string  `yaml:"history_db"`          // SQLite run-history path
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the configuration with all defaults set.
func DefaultConfig() *Config {
	return &Config{
		Name:    "d3df",
		Version: "1.0.0",

		Instrument: InstrumentConfig{
			Device:     "COM10",
			Baudrate:   9600,
			Timeout:    "1s",
			Channel:    "1",
			Board:      "00",
			Retries:    10,
			RetryDelay: "2s",
		},

		Acquisition: AcquisitionConfig{
			Executable: "WaveDemo_x743.exe",
			ConfigYAML: "config.yaml",
			DataOutput: filepath.Join(".", "data_output"),
			BatchMode:  2,
			MaxEvents:  0,
			MaxTime:    0,
		},

		Campaign: CampaignConfig{
			SettleTolerance:   0.5,
			SettlePoll:        "2s",
			LogBufferSize:     10000,
			MaxLaunchFailures: 0,
			HistoryDB:         filepath.Join(".", "data_output", "runs.db"),
		},

		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for any
// missing fields. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dev := os.Getenv("D3DF_HV_DEVICE"); dev != "" {
		c.Instrument.Device = dev
	}
	if baud := os.Getenv("D3DF_HV_BAUDRATE"); baud != "" {
		if b, err := strconv.Atoi(baud); err == nil {
			c.Instrument.Baudrate = b
		}
	}
	if out := os.Getenv("D3DF_DATA_OUTPUT"); out != "" {
		c.Acquisition.DataOutput = out
	}
	if exe := os.Getenv("D3DF_EXE"); exe != "" {
		c.Acquisition.Executable = exe
	}
	if db := os.Getenv("D3DF_HISTORY_DB"); db != "" {
		c.Campaign.HistoryDB = db
	}
}

// BusTimeout returns the instrument transaction timeout as a duration.
func (c *Config) BusTimeout() time.Duration {
	d, err := time.ParseDuration(c.Instrument.Timeout)
	if err != nil {
		return time.Second
	}
	return d
}

// RetryDelay returns the fixed delay between bus retries.
func (c *Config) RetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Instrument.RetryDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// SettlePoll returns the HV settle poll interval.
func (c *Config) SettlePoll() time.Duration {
	d, err := time.ParseDuration(c.Campaign.SettlePoll)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Instrument.Baudrate <= 0 {
		return fmt.Errorf("instrument.baudrate must be positive, got %d", c.Instrument.Baudrate)
	}
	if c.Instrument.Retries <= 0 {
		return fmt.Errorf("instrument.retries must be positive, got %d", c.Instrument.Retries)
	}
	if c.Campaign.SettleTolerance <= 0 {
		return fmt.Errorf("campaign.settle_tolerance must be positive, got %g", c.Campaign.SettleTolerance)
	}
	if c.Campaign.LogBufferSize <= 0 {
		return fmt.Errorf("campaign.log_buffer_size must be positive, got %d", c.Campaign.LogBufferSize)
	}
	if c.Acquisition.BatchMode < 0 || c.Acquisition.BatchMode > 2 {
		return fmt.Errorf("acquisition.batch_mode must be 0, 1 or 2, got %d", c.Acquisition.BatchMode)
	}
	return nil
}
