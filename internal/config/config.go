// ABOUTME: Configuration loading and parsing for accordd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete accordd configuration
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Fleet       FleetConfig       `yaml:"fleet"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoordinatorConfig selects the conflict resolution behavior
type CoordinatorConfig struct {
	// Strategy is the default resolution strategy: auto_merge,
	// last_writer_wins, keep_local, keep_remote, manual or custom.
	Strategy string `yaml:"strategy"`
	// CustomHandler names the registered handler used when strategy is custom.
	CustomHandler string `yaml:"custom_handler"`
}

// FleetConfig holds agent heartbeat timing configuration
type FleetConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`
	SweepInterval     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
	SweepIntervalRaw     string `yaml:"sweep_interval"`
}

// DatabaseConfig holds the audit ledger configuration
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with working defaults.
func (c *Config) applyDefaults() {
	if c.Coordinator.Strategy == "" {
		c.Coordinator.Strategy = "auto_merge"
	}
	if c.Fleet.HeartbeatInterval == 0 {
		c.Fleet.HeartbeatInterval = 30 * time.Second
	}
	if c.Fleet.HeartbeatTimeout == 0 {
		c.Fleet.HeartbeatTimeout = 90 * time.Second
	}
	if c.Fleet.SweepInterval == 0 {
		c.Fleet.SweepInterval = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Coordinator.Strategy {
	case "auto_merge", "last_writer_wins", "keep_local", "keep_remote", "manual", "custom":
	default:
		return fmt.Errorf("coordinator.strategy %q is not a known strategy", c.Coordinator.Strategy)
	}

	if c.Coordinator.Strategy == "custom" && c.Coordinator.CustomHandler == "" {
		return fmt.Errorf("coordinator.custom_handler is required when strategy is custom")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when database is enabled")
	}

	if c.Fleet.HeartbeatTimeout < c.Fleet.HeartbeatInterval {
		return fmt.Errorf("fleet.heartbeat_timeout must be at least the heartbeat interval")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Fleet.HeartbeatIntervalRaw != "" {
		cfg.Fleet.HeartbeatInterval, err = time.ParseDuration(cfg.Fleet.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Fleet.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Fleet.HeartbeatTimeoutRaw != "" {
		cfg.Fleet.HeartbeatTimeout, err = time.ParseDuration(cfg.Fleet.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Fleet.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Fleet.SweepIntervalRaw != "" {
		cfg.Fleet.SweepInterval, err = time.ParseDuration(cfg.Fleet.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Fleet.SweepIntervalRaw, err)
		}
	}

	return nil
}
