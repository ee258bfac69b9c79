// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ASSISTANT_BACKEND_BASE_URL.
const EnvPrefix = "ASSISTANT"

// Config is the top-level assistant configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Responder ResponderConfig `mapstructure:"responder"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BackendConfig locates the assistant backend the client talks to.
type BackendConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ChatPath     string        `mapstructure:"chat_path"`
	SessionsPath string        `mapstructure:"sessions_path"`
	SessionPath  string        `mapstructure:"session_path"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// AssistantConfig tunes the conversation client.
type AssistantConfig struct {
	FailureNotice string `mapstructure:"failure_notice"`
	StrictHandles bool   `mapstructure:"strict_handles"`
}

// ServerConfig configures the reference backend started by `assistant serve`.
type ServerConfig struct {
	Listen      string          `mapstructure:"listen"`
	CORSOrigins []string        `mapstructure:"cors_origins"`
	Auth        AuthConfig      `mapstructure:"auth"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	TitleLength int             `mapstructure:"title_length"`
}

// AuthConfig lists the accepted bearer credentials. With neither static tokens
// nor a JWT secret the server runs unauthenticated.
type AuthConfig struct {
	Tokens    []TokenConfig `mapstructure:"tokens"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
}

// TokenConfig maps a static bearer token to the user it authenticates.
type TokenConfig struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

// RateLimitConfig sets the per-client request budget. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects where the reference backend keeps sessions.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ResponderConfig selects what produces the reference backend's answers.
type ResponderConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// LoggingConfig controls the slog handler installed by the CLI.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel converts Level to a slog.Level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefaults registers every default on v. Keys need a default for
// environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("backend.base_url", "http://127.0.0.1:8787")
	v.SetDefault("backend.chat_path", "/api/v1/assistant/chat")
	v.SetDefault("backend.sessions_path", "/api/v1/assistant/sessions")
	v.SetDefault("backend.session_path", "/api/v1/assistant/sessions/{id}")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 30*time.Second)

	v.SetDefault("assistant.failure_notice", "Sorry, something went wrong. Please try again.")
	v.SetDefault("assistant.strict_handles", false)

	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.auth.tokens", []map[string]string{})
	v.SetDefault("server.auth.jwt_secret", "")
	v.SetDefault("server.auth.jwt_issuer", "safebill")
	v.SetDefault("server.rate_limit.requests_per_second", 5.0)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("server.title_length", 60)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "assistant")

	v.SetDefault("responder.provider", "echo")
	v.SetDefault("responder.model", "")
	v.SetDefault("responder.api_key", "")
	v.SetDefault("responder.base_url", "")
	v.SetDefault("responder.system_prompt", defaultSystemPrompt)
	v.SetDefault("responder.max_tokens", 1024)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

const defaultSystemPrompt = "You are the Safe Bill assistant. Answer questions about projects, " +
	"quotes, milestones, escrow payments and disputes between buyers and professionals. " +
	"Be concise and answer in the language of the question."

// SetupEnv enables ASSISTANT_* environment overrides on v.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from path (or defaults only when path is empty)
// with environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, sberr.Errorf(sberr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sberr.Errorf(sberr.CodeConfigParseInvalidFormat, "decoding config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, sberr.Errorf(sberr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors and returns all of
// them rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateBackend()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateResponder()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func invalid(format string, args ...any) error {
	return sberr.Errorf(sberr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateBackend() []error {
	var errs []error

	u, err := url.Parse(c.Backend.BaseURL)
	switch {
	case c.Backend.BaseURL == "":
		errs = append(errs, invalid("backend.base_url must not be empty"))
	case err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https"):
		errs = append(errs, invalid("backend.base_url must be an absolute http(s) URL, got %q", c.Backend.BaseURL))
	}

	for key, path := range map[string]string{
		"backend.chat_path":     c.Backend.ChatPath,
		"backend.sessions_path": c.Backend.SessionsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, invalid("%s must start with /, got %q", key, path))
		}
	}
	if !strings.Contains(c.Backend.SessionPath, "{id}") {
		errs = append(errs, invalid("backend.session_path must contain {id}, got %q", c.Backend.SessionPath))
	}

	if c.Backend.Timeout < 0 {
		errs = append(errs, invalid("backend.timeout must not be negative, got %s", c.Backend.Timeout))
	}

	if strings.TrimSpace(c.Assistant.FailureNotice) == "" {
		errs = append(errs, invalid("assistant.failure_notice must not be empty"))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %v", c.Server.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %d", port))
	}

	for i, tok := range c.Server.Auth.Tokens {
		if tok.Token == "" || tok.User == "" {
			errs = append(errs, invalid("server.auth.tokens[%d] needs both token and user", i))
		}
	}
	if s := c.Server.Auth.JWTSecret; s != "" && len(s) < 32 {
		errs = append(errs, invalid("server.auth.jwt_secret must be at least 32 bytes"))
	}

	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, invalid("server.rate_limit.requests_per_second must not be negative, got %g",
			c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		errs = append(errs, invalid("server.rate_limit.burst must be greater than 0 when rate limiting is enabled, got %d",
			c.Server.RateLimit.Burst))
	}

	if c.Server.TitleLength <= 0 {
		errs = append(errs, invalid("server.title_length must be greater than 0, got %d", c.Server.TitleLength))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, invalid("storage.redis.addr must not be empty when storage.backend is redis"))
		}
		if c.Storage.Redis.DB < 0 {
			errs = append(errs, invalid("storage.redis.db must not be negative, got %d", c.Storage.Redis.DB))
		}
	default:
		errs = append(errs, invalid("storage.backend must be one of [sqlite, memory, redis], got %q", c.Storage.Backend))
	}

	return errs
}

func (c *Config) validateResponder() []error {
	var errs []error

	switch c.Responder.Provider {
	case "echo":
	case "openai", "anthropic", "google":
		if c.Responder.Model == "" {
			errs = append(errs, invalid("responder.model must be set for provider %q", c.Responder.Provider))
		}
	default:
		errs = append(errs, invalid("responder.provider must be one of [echo, openai, anthropic, google], got %q",
			c.Responder.Provider))
	}

	if c.Responder.MaxTokens <= 0 {
		errs = append(errs, invalid("responder.max_tokens must be greater than 0, got %d", c.Responder.MaxTokens))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}
