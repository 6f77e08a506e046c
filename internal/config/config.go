package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	OIDC    OIDCConfig    `yaml:"oidc"`
	Graph   GraphConfig   `yaml:"graph"`
	Session SessionConfig `yaml:"session"`
	TLS     TLSConfig     `yaml:"tls"`
	Log     LogConfig     `yaml:"log"`
}

// ListenConfig defines where the web server listens for requests
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., ":8080")
}

// OIDCConfig defines OIDC/OAuth2 settings for the identity provider
type OIDCConfig struct {
	Issuer       string   `yaml:"issuer"`        // Identity provider issuer URL
	ClientID     string   `yaml:"client_id"`     // OIDC client ID
	ClientSecret string   `yaml:"client_secret"` // OIDC client secret (empty for public clients)
	RedirectURI  string   `yaml:"redirect_uri"`  // Callback URL; must exactly match the URI registered with the provider
	Scopes       []string `yaml:"scopes"`        // OIDC scopes
}

// GraphConfig defines settings for the downstream Microsoft Graph API
type GraphConfig struct {
	Endpoint       string `yaml:"endpoint"`        // Graph base URL (e.g., "https://graph.microsoft.com")
	RequestTimeout int    `yaml:"request_timeout"` // Per-request timeout in seconds
}

// SessionConfig defines web session behavior and storage
type SessionConfig struct {
	CookieName string      `yaml:"cookie_name"` // Name of the session cookie
	Timeout    int         `yaml:"timeout"`     // Session lifetime in seconds
	Store      string      `yaml:"store"`       // "memory" or "redis"
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig defines the Redis session store backend
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP: ":8080",
		},
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "profile", "email", "offline_access"},
		},
		Graph: GraphConfig{
			Endpoint:       "https://graph.microsoft.com",
			RequestTimeout: 30,
		},
		Session: SessionConfig{
			CookieName: "graphport_session",
			Timeout:    3600, // 1 hour
			Store:      "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "graphport:session:",
			},
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// OIDC overrides
	if v := os.Getenv("GRAPHPORT_OIDC_ISSUER"); v != "" {
		c.OIDC.Issuer = v
	}
	if v := os.Getenv("GRAPHPORT_OIDC_CLIENT_ID"); v != "" {
		c.OIDC.ClientID = v
	}
	if v := os.Getenv("GRAPHPORT_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDC.ClientSecret = v
	}
	if v := os.Getenv("GRAPHPORT_OIDC_REDIRECT_URI"); v != "" {
		c.OIDC.RedirectURI = v
	}

	// Graph overrides
	if v := os.Getenv("GRAPHPORT_GRAPH_ENDPOINT"); v != "" {
		c.Graph.Endpoint = v
	}

	// Session overrides
	if v := os.Getenv("GRAPHPORT_SESSION_STORE"); v != "" {
		c.Session.Store = v
	}
	if v := os.Getenv("GRAPHPORT_REDIS_ADDR"); v != "" {
		c.Session.Redis.Addr = v
	}
	if v := os.Getenv("GRAPHPORT_REDIS_PASSWORD"); v != "" {
		c.Session.Redis.Password = v
	}

	// Log overrides
	if v := os.Getenv("GRAPHPORT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GRAPHPORT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("GRAPHPORT_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate OIDC config
	if c.OIDC.Issuer == "" {
		return fmt.Errorf("oidc.issuer is required")
	}
	if !strings.HasPrefix(c.OIDC.Issuer, "http://") && !strings.HasPrefix(c.OIDC.Issuer, "https://") {
		return fmt.Errorf("oidc.issuer must be a valid HTTP(S) URL")
	}

	if c.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.client_id is required")
	}

	if c.OIDC.RedirectURI == "" {
		return fmt.Errorf("oidc.redirect_uri is required")
	}
	if !strings.HasPrefix(c.OIDC.RedirectURI, "http://") && !strings.HasPrefix(c.OIDC.RedirectURI, "https://") {
		return fmt.Errorf("oidc.redirect_uri must be a valid HTTP(S) URL")
	}

	if len(c.OIDC.Scopes) == 0 {
		return fmt.Errorf("oidc.scopes must contain at least 'openid'")
	}
	hasOpenID := false
	for _, scope := range c.OIDC.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("oidc.scopes must include 'openid'")
	}

	// Validate Graph config
	if c.Graph.Endpoint == "" {
		return fmt.Errorf("graph.endpoint is required")
	}
	if !strings.HasPrefix(c.Graph.Endpoint, "http://") && !strings.HasPrefix(c.Graph.Endpoint, "https://") {
		return fmt.Errorf("graph.endpoint must be a valid HTTP(S) URL")
	}
	if c.Graph.RequestTimeout <= 0 {
		return fmt.Errorf("graph.request_timeout must be positive")
	}

	// Validate session config
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required when session.store is redis")
		}
	default:
		return fmt.Errorf("session.store must be one of: memory, redis")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		// Check if files exist
		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	return nil
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	// Deep copy slices to avoid sharing underlying arrays with the original
	if c.OIDC.Scopes != nil {
		redacted.OIDC.Scopes = make([]string, len(c.OIDC.Scopes))
		copy(redacted.OIDC.Scopes, c.OIDC.Scopes)
	}
	if redacted.OIDC.ClientSecret != "" {
		redacted.OIDC.ClientSecret = "[REDACTED]"
	}
	if redacted.Session.Redis.Password != "" {
		redacted.Session.Redis.Password = "[REDACTED]"
	}
	return &redacted
}
