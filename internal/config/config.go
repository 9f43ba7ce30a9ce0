// ABOUTME: Configuration loading and parsing for mapfeed
// ABOUTME: Reads YAML or TOML by extension with env var expansion, defaults and validation

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/mapfeed/internal/session"
)

// EnvConfigPath names the environment variable that overrides the default
// config location.
const EnvConfigPath = "MAPFEED_CONFIG"

// Defaults applied when a field is left empty.
const (
	DefaultGeocoderURL     = "https://nominatim.openstreetmap.org"
	DefaultUserAgent       = "mapfeed/1.0"
	DefaultLanguage        = "en"
	DefaultGeocoderTimeout = 10 * time.Second
	DefaultDedupeTTL       = 10 * time.Minute
	DefaultPollTimeout     = 30 * time.Second
	DefaultFeedBuffer      = 64
	DefaultPlaceholder     = "(no text)"
)

// Config represents the complete mapfeed configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Geocoder  GeocoderConfig  `yaml:"geocoder" toml:"geocoder"`
	Intake    IntakeConfig    `yaml:"intake" toml:"intake"`
	Feed      FeedConfig      `yaml:"feed" toml:"feed"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener and the static map client directory.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
	StaticDir string `yaml:"static_dir" toml:"static_dir"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Token       string `yaml:"token" toml:"token"`
	APIEndpoint string `yaml:"api_endpoint" toml:"api_endpoint"`
	// Operators are Telegram user ids allowed to delete markers. Empty
	// allows everyone.
	Operators   []string      `yaml:"operators" toml:"operators"`
	PollTimeout time.Duration `yaml:"-" toml:"-"`

	PollTimeoutRaw string `yaml:"poll_timeout" toml:"poll_timeout"`
}

// MatrixConfig configures the Matrix transport.
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	// Operators are Matrix user ids allowed to delete markers.
	Operators []string `yaml:"operators" toml:"operators"`
}

// GeocoderConfig configures the Nominatim client.
type GeocoderConfig struct {
	BaseURL   string        `yaml:"base_url" toml:"base_url"`
	UserAgent string        `yaml:"user_agent" toml:"user_agent"`
	Language  string        `yaml:"language" toml:"language"`
	Timeout   time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// IntakeConfig tunes the chat dialogue.
type IntakeConfig struct {
	LinkPolicy      string        `yaml:"link_policy" toml:"link_policy"`
	PostPlaceholder string        `yaml:"post_placeholder" toml:"post_placeholder"`
	Keywords        []string      `yaml:"keywords" toml:"keywords"`
	DedupeTTL       time.Duration `yaml:"-" toml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// FeedConfig tunes the realtime feed.
type FeedConfig struct {
	InitialSnapshot bool `yaml:"initial_snapshot" toml:"initial_snapshot"`
	Buffer          int  `yaml:"buffer" toml:"buffer"`
}

// DatabaseConfig holds the journal location. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath picks the config file: the flag value, then MAPFEED_CONFIG,
// then the XDG default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mapfeed", "config.yaml")
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the environment without overriding ones already set. Missing files are
// not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Geocoder.BaseURL == "" {
		c.Geocoder.BaseURL = DefaultGeocoderURL
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = DefaultUserAgent
	}
	if c.Geocoder.Language == "" {
		c.Geocoder.Language = DefaultLanguage
	}
	if c.Geocoder.Timeout == 0 {
		c.Geocoder.Timeout = DefaultGeocoderTimeout
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = DefaultPollTimeout
	}
	if c.Intake.LinkPolicy == "" {
		c.Intake.LinkPolicy = string(session.LinkRequired)
	}
	if c.Intake.PostPlaceholder == "" {
		c.Intake.PostPlaceholder = DefaultPlaceholder
	}
	if c.Intake.DedupeTTL == 0 {
		c.Intake.DedupeTTL = DefaultDedupeTTL
	}
	if c.Feed.Buffer == 0 {
		c.Feed.Buffer = DefaultFeedBuffer
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
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required when telegram is enabled")
	}
	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if err := checkHTTPURL(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver: %w", err)
		}
		if c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	if err := checkHTTPURL(c.Geocoder.BaseURL); err != nil {
		return fmt.Errorf("geocoder.base_url: %w", err)
	}
	if c.Geocoder.Timeout < 0 {
		return fmt.Errorf("geocoder.timeout must be positive")
	}

	if _, err := session.ParseLinkPolicy(c.Intake.LinkPolicy); err != nil {
		return fmt.Errorf("intake.link_policy: %w", err)
	}
	if c.Feed.Buffer < 0 {
		return fmt.Errorf("feed.buffer must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return nil
}

// Operators returns the deletion allow-list as "network:senderID" keys.
// An empty result allows everyone.
func (c *Config) Operators() []string {
	ops := make([]string, 0, len(c.Telegram.Operators)+len(c.Matrix.Operators))
	for _, id := range c.Telegram.Operators {
		ops = append(ops, "telegram:"+id)
	}
	for _, id := range c.Matrix.Operators {
		ops = append(ops, "matrix:"+id)
	}
	return ops
}

// TransportsEnabled reports whether at least one chat transport is on.
func (c *Config) TransportsEnabled() bool {
	return c.Telegram.Enabled || c.Matrix.Enabled
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeoutRaw, &cfg.Telegram.PollTimeout},
		{"geocoder.timeout", cfg.Geocoder.TimeoutRaw, &cfg.Geocoder.Timeout},
		{"intake.dedupe_ttl", cfg.Intake.DedupeTTLRaw, &cfg.Intake.DedupeTTL},
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
