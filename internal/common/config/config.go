// Package config provides configuration management for Mission Control.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Mission Control.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Agents   AgentsConfig   `mapstructure:"agents"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds; 0 disables (long-lived streams)
}

// AuthConfig holds the shared bearer token. An empty token disables auth.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds event store connection configuration.
// URL selects the driver: postgres:// or postgresql:// use pgx, anything
// else is treated as a SQLite path. Empty falls back to SQLitePath.
type DatabaseConfig struct {
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlitePath"`
	MaxConns   int    `mapstructure:"maxConns"`
	MinConns   int    `mapstructure:"minConns"`
}

// BrokerConfig holds stream broker configuration.
// An empty URL selects the in-process broker; redis:// and rediss:// URLs
// select Redis Streams.
type BrokerConfig struct {
	URL       string `mapstructure:"url"`
	StreamKey string `mapstructure:"streamKey"`
	MaxLen    int64  `mapstructure:"maxLen"` // approximate stream cap, oldest entries trimmed
}

// AgentsConfig holds the agent directory inputs: upstream tokens, the
// known-agents sources, and chat upstream resolution.
type AgentsConfig struct {
	// TokenMap is a comma-separated list of slug=token pairs. Placeholder
	// tokens (CHANGE_ME*, TODO, REPLACE_ME, YOUR_TOKEN, empty) count as absent.
	TokenMap string `mapstructure:"tokenMap"`

	// HomesDir is scanned for subdirectories; each name is a known agent slug.
	HomesDir string `mapstructure:"homesDir"`

	// ManifestPath points at an optional agents.manifest.yaml.
	ManifestPath string `mapstructure:"manifestPath"`

	// UpstreamScheme is the Authorization scheme used on the upstream hop.
	UpstreamScheme string `mapstructure:"upstreamScheme"`

	// UpstreamTemplate builds an upstream base URL from a slug (one %s verb).
	UpstreamTemplate string `mapstructure:"upstreamTemplate"`

	// UpstreamMap is a comma-separated list of slug=url overrides.
	UpstreamMap string `mapstructure:"upstreamMap"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the host:port bind address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Enabled reports whether bearer auth is configured.
func (a *AuthConfig) Enabled() bool {
	return a.Token != ""
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MISSIONCTL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.readTimeout", 30)
	// Zero write timeout: /ws/events and proxied WebSockets are long-lived.
	v.SetDefault("server.writeTimeout", 0)

	// Auth defaults - empty token disables auth
	v.SetDefault("auth.token", "")

	// Database defaults - empty URL selects the embedded SQLite store
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlitePath", "./mission-control.db")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Broker defaults - empty URL means use the in-process broker
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.streamKey", "mc:events")
	v.SetDefault("broker.maxLen", 4096)

	// Agents defaults
	v.SetDefault("agents.tokenMap", "")
	v.SetDefault("agents.homesDir", "")
	v.SetDefault("agents.manifestPath", "")
	v.SetDefault("agents.upstreamScheme", "Bearer")
	v.SetDefault("agents.upstreamTemplate", "http://openclaw-%s:18789")
	v.SetDefault("agents.upstreamMap", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MISSIONCTL_ with snake_case naming; the
// bare deployment-contract names (AUTH_TOKEN, DATABASE_URL, ...) are bound as
// aliases so compose env files work unprefixed.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("MISSIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the deployment contract. Later names are
	// fallbacks: MISSIONCTL_* wins over the bare form when both are set.
	_ = v.BindEnv("server.host", "MISSIONCTL_SERVER_HOST", "HOST")
	_ = v.BindEnv("server.port", "MISSIONCTL_SERVER_PORT", "PORT")
	_ = v.BindEnv("auth.token", "MISSIONCTL_AUTH_TOKEN", "AUTH_TOKEN")
	_ = v.BindEnv("database.url", "MISSIONCTL_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("broker.url", "MISSIONCTL_BROKER_URL", "BROKER_URL")
	_ = v.BindEnv("broker.streamKey", "MISSIONCTL_STREAM_KEY", "STREAM_KEY")
	_ = v.BindEnv("agents.tokenMap", "MISSIONCTL_AGENT_TOKEN_MAP", "AGENT_TOKEN_MAP")
	_ = v.BindEnv("agents.homesDir", "MISSIONCTL_AGENT_HOMES_DIR", "AGENT_HOMES_DIR")
	_ = v.BindEnv("agents.manifestPath", "MISSIONCTL_AGENTS_MANIFEST", "AGENTS_MANIFEST")
	_ = v.BindEnv("agents.upstreamScheme", "MISSIONCTL_UPSTREAM_SCHEME", "UPSTREAM_SCHEME")
	_ = v.BindEnv("agents.upstreamTemplate", "MISSIONCTL_CHAT_UPSTREAM_TEMPLATE", "CHAT_UPSTREAM_TEMPLATE")
	_ = v.BindEnv("agents.upstreamMap", "MISSIONCTL_CHAT_UPSTREAM_MAP", "CHAT_UPSTREAM_MAP")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/missionctl/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all configuration fields are usable, collecting every
// problem before returning.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.URL == "" && cfg.Database.SQLitePath == "" {
		errs = append(errs, "database.sqlitePath is required when database.url is empty")
	}
	if cfg.Database.MaxConns <= 0 {
		errs = append(errs, "database.maxConns must be positive")
	}

	if cfg.Broker.URL != "" && !strings.HasPrefix(cfg.Broker.URL, "redis://") && !strings.HasPrefix(cfg.Broker.URL, "rediss://") {
		errs = append(errs, "broker.url must be a redis:// or rediss:// URL (or empty for the in-process broker)")
	}
	if cfg.Broker.StreamKey == "" {
		errs = append(errs, "broker.streamKey is required")
	}
	if cfg.Broker.MaxLen <= 0 {
		errs = append(errs, "broker.maxLen must be positive")
	}

	if cfg.Agents.UpstreamScheme == "" {
		errs = append(errs, "agents.upstreamScheme is required")
	}
	if n := strings.Count(cfg.Agents.UpstreamTemplate, "%s"); n != 1 {
		errs = append(errs, "agents.upstreamTemplate must contain exactly one %s verb")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
