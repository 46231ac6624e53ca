// ABOUTME: Configuration loading and parsing for veil-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete veil-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Synapse  SynapseConfig  `yaml:"synapse"`
	Sessions SessionsConfig `yaml:"sessions"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	ChallengeTTL  time.Duration `yaml:"-"`
	CredentialTTL time.Duration `yaml:"-"`
	KeyLifetime   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ChallengeTTLRaw  string `yaml:"challenge_ttl"`
	CredentialTTLRaw string `yaml:"credential_ttl"`
	KeyLifetimeRaw   string `yaml:"key_lifetime"`
}

// SynapseConfig holds homeserver provisioning configuration
type SynapseConfig struct {
	BaseURL    string `yaml:"base_url"`
	ServerName string `yaml:"server_name"`
	AdminToken string `yaml:"admin_token"`
}

// SessionsConfig holds session lifecycle configuration
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"-"`

	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// CleanupConfig holds the sweep schedule
type CleanupConfig struct {
	ExpiredKeysInterval      time.Duration `yaml:"-"`
	InactiveSessionsInterval time.Duration `yaml:"-"`
	OrphansInterval          time.Duration `yaml:"-"`

	ExpiredKeysIntervalRaw      string `yaml:"expired_keys_interval"`
	InactiveSessionsIntervalRaw string `yaml:"inactive_sessions_interval"`
	OrphansIntervalRaw          string `yaml:"orphans_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves a value unset.
const (
	DefaultChallengeTTL             = 5 * time.Minute
	DefaultCredentialTTL            = 24 * time.Hour
	DefaultKeyLifetime              = 7 * 24 * time.Hour
	DefaultIdleTimeout              = time.Hour
	DefaultExpiredKeysInterval      = time.Hour
	DefaultInactiveSessionsInterval = 30 * time.Minute
	DefaultOrphansInterval          = 24 * time.Hour
)

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Synapse.BaseURL == "" {
		return fmt.Errorf("synapse.base_url is required")
	}
	if c.Synapse.ServerName == "" {
		return fmt.Errorf("synapse.server_name is required")
	}
	if c.Synapse.AdminToken == "" {
		return fmt.Errorf("synapse.admin_token is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.ChallengeTTL == 0 {
		c.Auth.ChallengeTTL = DefaultChallengeTTL
	}
	if c.Auth.CredentialTTL == 0 {
		c.Auth.CredentialTTL = DefaultCredentialTTL
	}
	if c.Auth.KeyLifetime == 0 {
		c.Auth.KeyLifetime = DefaultKeyLifetime
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Cleanup.ExpiredKeysInterval == 0 {
		c.Cleanup.ExpiredKeysInterval = DefaultExpiredKeysInterval
	}
	if c.Cleanup.InactiveSessionsInterval == 0 {
		c.Cleanup.InactiveSessionsInterval = DefaultInactiveSessionsInterval
	}
	if c.Cleanup.OrphansInterval == 0 {
		c.Cleanup.OrphansInterval = DefaultOrphansInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Auth.ChallengeTTLRaw, "auth.challenge_ttl", &cfg.Auth.ChallengeTTL},
		{cfg.Auth.CredentialTTLRaw, "auth.credential_ttl", &cfg.Auth.CredentialTTL},
		{cfg.Auth.KeyLifetimeRaw, "auth.key_lifetime", &cfg.Auth.KeyLifetime},
		{cfg.Sessions.IdleTimeoutRaw, "sessions.idle_timeout", &cfg.Sessions.IdleTimeout},
		{cfg.Cleanup.ExpiredKeysIntervalRaw, "cleanup.expired_keys_interval", &cfg.Cleanup.ExpiredKeysInterval},
		{cfg.Cleanup.InactiveSessionsIntervalRaw, "cleanup.inactive_sessions_interval", &cfg.Cleanup.InactiveSessionsInterval},
		{cfg.Cleanup.OrphansIntervalRaw, "cleanup.orphans_interval", &cfg.Cleanup.OrphansInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
