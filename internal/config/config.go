// ABOUTME: Configuration loading and parsing for coven-assistant
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-assistant configuration
type Config struct {
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Tools     ToolsConfig     `yaml:"tools" toml:"tools"`
	Platform  PlatformConfig  `yaml:"platform" toml:"platform"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// AssistantConfig selects the persona the assistant runs as
type AssistantConfig struct {
	Identity   string                    `yaml:"identity" toml:"identity"`
	Identities map[string]IdentityConfig `yaml:"identities" toml:"identities"`
	TimeZone   string                    `yaml:"time_zone" toml:"time_zone"`
}

// IdentityConfig is one persona
type IdentityConfig struct {
	SystemRole      string `yaml:"system_role" toml:"system_role"`
	SensitiveMarker string `yaml:"sensitive_marker" toml:"sensitive_marker"`
}

// LLMConfig holds the model backend configuration
type LLMConfig struct {
	Backend string       `yaml:"backend" toml:"backend"`
	OpenAI  OpenAIConfig `yaml:"openai" toml:"openai"`
}

// OpenAI API flavors
const (
	APIResponses      = "responses"
	APIChatCompletion = "chat_completion"
)

// OpenAIConfig holds OpenAI-compatible endpoint settings
type OpenAIConfig struct {
	API                 string        `yaml:"api" toml:"api"`
	Endpoint            string        `yaml:"endpoint" toml:"endpoint"`
	Token               string        `yaml:"token" toml:"token"`
	Model               string        `yaml:"model" toml:"model"`
	MaxTokens           int64         `yaml:"max_tokens" toml:"max_tokens"`
	UseStructuredOutput bool          `yaml:"use_structured_output" toml:"use_structured_output"`
	Timeout             time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// StorageConfig selects the conversation store
type StorageConfig struct {
	Backend string       `yaml:"backend" toml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
	Redis   RedisConfig  `yaml:"redis" toml:"redis"`
}

// SQLiteConfig holds SQLite storage configuration
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RedisConfig holds Redis storage configuration
type RedisConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// ToolsConfig holds built-in tool configuration
type ToolsConfig struct {
	Timeout        time.Duration        `yaml:"-" toml:"-"`
	TimeoutRaw     string               `yaml:"timeout" toml:"timeout"`
	ImageGenerator ImageGeneratorConfig `yaml:"image_generator" toml:"image_generator"`
	GetIllustURL   GetIllustURLConfig   `yaml:"get_illust_url" toml:"get_illust_url"`
}

// ImageGeneratorConfig configures the image_generator tool
type ImageGeneratorConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Token    string `yaml:"token" toml:"token"`
	Model    string `yaml:"model" toml:"model"`
	Size     string `yaml:"size" toml:"size"`
}

// GetIllustURLConfig configures the get_illust_url tool
type GetIllustURLConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// PlatformConfig holds configuration for every chat surface
type PlatformConfig struct {
	CLI    CLIConfig    `yaml:"cli" toml:"cli"`
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
	HTTP   HTTPConfig   `yaml:"http" toml:"http"`
}

// CLIConfig holds terminal REPL configuration
type CLIConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled          bool     `yaml:"enabled" toml:"enabled"`
	Homeserver       string   `yaml:"homeserver" toml:"homeserver"`
	Username         string   `yaml:"username" toml:"username"`
	Password         string   `yaml:"password" toml:"password"`
	RecoveryKey      string   `yaml:"recovery_key" toml:"recovery_key"`
	Encryption       bool     `yaml:"encryption" toml:"encryption"`
	DataDir          string   `yaml:"data_dir" toml:"data_dir"`
	AllowedRooms     []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix    string   `yaml:"command_prefix" toml:"command_prefix"`
	TypingIndicator  bool     `yaml:"typing_indicator" toml:"typing_indicator"`
	SensitiveSpoiler string   `yaml:"sensitive_spoiler" toml:"sensitive_spoiler"`
	MaxLength        int      `yaml:"max_length" toml:"max_length"`
}

// HTTPConfig holds the JSON API configuration
type HTTPConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Addr      string        `yaml:"addr" toml:"addr"`
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration content. ext selects the format (".toml",
// ".yaml" or ".yml").
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = "openai"
	}
	if cfg.LLM.OpenAI.API == "" {
		cfg.LLM.OpenAI.API = APIResponses
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./coven-assistant.db"
	}
	if cfg.Storage.Redis.KeyPrefix == "" {
		cfg.Storage.Redis.KeyPrefix = "coven-assistant:"
	}
	if cfg.Platform.HTTP.Addr == "" {
		cfg.Platform.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.Platform.Matrix.MaxLength == 0 {
		cfg.Platform.Matrix.MaxLength = 4000
	}
	if cfg.Platform.Matrix.DataDir == "" {
		cfg.Platform.Matrix.DataDir = "./matrix-data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Assistant.Identity == "" {
		return fmt.Errorf("assistant.identity is required")
	}
	if _, ok := c.Assistant.Identities[c.Assistant.Identity]; !ok {
		return fmt.Errorf("assistant.identities.%s is not defined", c.Assistant.Identity)
	}
	if c.Assistant.TimeZone != "" {
		if _, err := time.LoadLocation(c.Assistant.TimeZone); err != nil {
			return fmt.Errorf("assistant.time_zone is invalid: %w", err)
		}
	}

	if c.LLM.Backend != "openai" {
		return fmt.Errorf("llm.backend %q is not supported", c.LLM.Backend)
	}
	switch c.LLM.OpenAI.API {
	case APIResponses, APIChatCompletion:
	default:
		return fmt.Errorf("llm.openai.api %q must be %s or %s", c.LLM.OpenAI.API, APIResponses, APIChatCompletion)
	}
	if c.LLM.OpenAI.Model == "" {
		return fmt.Errorf("llm.openai.model is required")
	}
	if c.LLM.OpenAI.Endpoint != "" {
		if _, err := url.Parse(c.LLM.OpenAI.Endpoint); err != nil {
			return fmt.Errorf("llm.openai.endpoint is not a valid URL: %w", err)
		}
	}

	switch c.Storage.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required when storage.backend is redis")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	if c.Tools.ImageGenerator.Enabled && c.Tools.ImageGenerator.Model == "" {
		return fmt.Errorf("tools.image_generator.model is required when the tool is enabled")
	}
	if c.Tools.GetIllustURL.Enabled && c.Tools.GetIllustURL.DatabasePath == "" {
		return fmt.Errorf("tools.get_illust_url.database_path is required when the tool is enabled")
	}

	if m := c.Platform.Matrix; m.Enabled {
		if m.Homeserver == "" {
			return fmt.Errorf("platform.matrix.homeserver is required")
		}
		if _, err := url.Parse(m.Homeserver); err != nil {
			return fmt.Errorf("platform.matrix.homeserver is not a valid URL: %w", err)
		}
		if m.Username == "" {
			return fmt.Errorf("platform.matrix.username is required")
		}
		if m.Password == "" {
			return fmt.Errorf("platform.matrix.password is required")
		}
	}
	if c.Platform.Matrix.MaxLength < 0 {
		return fmt.Errorf("platform.matrix.max_length must not be negative")
	}

	if c.Platform.HTTP.Enabled && c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// Identity returns the selected assistant identity.
func (c *Config) Identity() IdentityConfig {
	return c.Assistant.Identities[c.Assistant.Identity]
}

// Location returns the configured time zone, or time.Local when unset.
func (c *Config) Location() *time.Location {
	if c.Assistant.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Assistant.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"llm.openai.timeout", cfg.LLM.OpenAI.TimeoutRaw, &cfg.LLM.OpenAI.Timeout},
		{"tools.timeout", cfg.Tools.TimeoutRaw, &cfg.Tools.Timeout},
		{"platform.http.token_ttl", cfg.Platform.HTTP.TokenTTLRaw, &cfg.Platform.HTTP.TokenTTL},
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
