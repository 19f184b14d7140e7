package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	App     AppConfig
	CORS    CORSConfig
	Search  SearchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" default:"8000"`
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	StaticDir       string        `envconfig:"STATIC_DIR"` // served at / when set
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// StorageConfig selects and sizes the link store. An empty DatabaseURL
// selects the JSON file at DataFile.
type StorageConfig struct {
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	DataFile       string        `envconfig:"DATA_FILE" default:"./data/links.json"`
	MaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns       int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	ConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
	IDVersion      int           `envconfig:"ID_VERSION"` // 4 or 7; 0 keeps the backend default
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.DatabaseURL == "" && c.DataFile == "" {
		return fmt.Errorf("one of DATABASE_URL or DATA_FILE must be set")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	switch c.IDVersion {
	case 0, 4, 7:
	default:
		return fmt.Errorf("id version must be 4 or 7, got %d", c.IDVersion)
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"links"`
	Version     string `envconfig:"APP_VERSION" default:"dev"`
	Environment string `envconfig:"APP_ENV" default:"development"` // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`     // json, text
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}
	return nil
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// SearchConfig configures the web search proxy. The proxy answers 503 until
// both APIKey and CX are set.
type SearchConfig struct {
	APIKey   string        `envconfig:"GOOGLE_API_KEY"`
	CX       string        `envconfig:"GOOGLE_CX"`
	Endpoint string        `envconfig:"SEARCH_ENDPOINT" default:"https://www.googleapis.com/customsearch/v1"`
	Timeout  time.Duration `envconfig:"SEARCH_TIMEOUT" default:"20s"`
	Language string        `envconfig:"SEARCH_LANGUAGE" default:"es"`
	Safe     string        `envconfig:"SEARCH_SAFE" default:"active"`
}

// Enabled reports whether credentials are configured.
func (c *SearchConfig) Enabled() bool {
	return c.APIKey != "" && c.CX != ""
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("search endpoint cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("search timeout must be positive")
	}
	if c.Safe != "active" && c.Safe != "off" {
		return fmt.Errorf("invalid safe search level: %s (must be active or off)", c.Safe)
	}
	return nil
}

// Load loads configuration from environment variables only.
// (.env loading happens in the app package, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load Server config: %w", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Server config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to load Storage config: %w", err)
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Storage config: %w", err)
	}

	if err := envconfig.Process("", &cfg.App); err != nil {
		return nil, fmt.Errorf("failed to load App config: %w", err)
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, fmt.Errorf("invalid App config: %w", err)
	}

	if err := envconfig.Process("", &cfg.CORS); err != nil {
		return nil, fmt.Errorf("failed to load CORS config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Search); err != nil {
		return nil, fmt.Errorf("failed to load Search config: %w", err)
	}
	if err := cfg.Search.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Search config: %w", err)
	}

	return cfg, nil
}
