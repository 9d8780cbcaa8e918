// Package config provides configuration structures for the assistant
// server.
package config

import (
	"fmt"
	"time"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Address         string        `yaml:"address" json:"address"`
	LogLevel        string        `yaml:"log_level" json:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Query execution configuration
	Query QueryConfig `yaml:"query" json:"query"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Retrieval configuration
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// DatabaseConfig represents the expense database and its pool.
type DatabaseConfig struct {
	// Path is the DuckDB file; empty means in-memory.
	Path               string        `yaml:"path" json:"path"`
	ReadOnly           bool          `yaml:"read_only" json:"read_only"`
	MaxOpenConnections int           `yaml:"max_open_connections" json:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections" json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `yaml:"health_check_period" json:"health_check_period"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// QueryConfig represents query validation and execution settings.
type QueryConfig struct {
	// TenantColumn scopes every executed query to one tenant.
	TenantColumn string        `yaml:"tenant_column" json:"tenant_column"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxRows      int64         `yaml:"max_rows" json:"max_rows"`
}

// LLMConfig represents LLM provider configuration.
type LLMConfig struct {
	Provider          string        `yaml:"provider" json:"provider"` // gemini, openai
	Model             string        `yaml:"model" json:"model"`
	APIKey            string        `yaml:"api_key" json:"api_key"`
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetrievalConfig represents similarity-retrieval configuration.
type RetrievalConfig struct {
	// ContextDir seeds the in-process index; see retrieval.LoadDir for
	// the expected layout.
	ContextDir  string `yaml:"context_dir" json:"context_dir"`
	MaxExamples int    `yaml:"max_examples" json:"max_examples"`
	MaxDDL      int    `yaml:"max_ddl" json:"max_ddl"`
	MaxDocs     int    `yaml:"max_docs" json:"max_docs"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Type    string `yaml:"type" json:"type"` // bearer, jwt

	// Bearer token auth: token -> tenant id.
	BearerTokens map[string]string `yaml:"bearer_tokens" json:"bearer_tokens"`

	// JWT auth (HS256); the tenant is the subject claim.
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Validate auth
	if c.Auth.Enabled {
		switch c.Auth.Type {
		case "bearer":
			if len(c.Auth.BearerTokens) == 0 {
				return fmt.Errorf("bearer auth requires tokens")
			}
		case "jwt":
			if c.Auth.JWTSecret == "" {
				return fmt.Errorf("JWT auth requires secret")
			}
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
		}
	}

	// LLM is optional: without a provider the /v1/ask route is
	// disabled and only direct SQL remains.
	if c.LLM.Provider != "" {
		switch c.LLM.Provider {
		case "gemini", "openai":
			if c.LLM.APIKey == "" {
				return fmt.Errorf("llm provider %s requires api key", c.LLM.Provider)
			}
		default:
			return fmt.Errorf("unsupported llm provider: %s", c.LLM.Provider)
		}
	}

	// Set defaults for query execution
	if c.Query.TenantColumn == "" {
		c.Query.TenantColumn = "user_id"
	}
	if c.Query.Timeout <= 0 {
		c.Query.Timeout = 30 * time.Second
	}
	if c.Query.MaxRows <= 0 {
		c.Query.MaxRows = 10000
	}

	// Set defaults for the connection pool
	if c.Database.MaxOpenConnections <= 0 {
		c.Database.MaxOpenConnections = 16
	}
	if c.Database.MaxIdleConnections <= 0 {
		c.Database.MaxIdleConnections = 4
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = 15 * time.Minute
	}
	if c.Database.HealthCheckPeriod <= 0 {
		c.Database.HealthCheckPeriod = 30 * time.Second
	}
	if c.Database.ConnectionTimeout <= 0 {
		c.Database.ConnectionTimeout = 10 * time.Second
	}

	// Set defaults for retrieval bounds
	if c.Retrieval.MaxExamples <= 0 {
		c.Retrieval.MaxExamples = 5
	}
	if c.Retrieval.MaxDDL <= 0 {
		c.Retrieval.MaxDDL = 3
	}
	if c.Retrieval.MaxDocs <= 0 {
		c.Retrieval.MaxDocs = 3
	}

	// Set defaults for metrics
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         "0.0.0.0:8080",
		LogLevel:        "info",
		ShutdownTimeout: 30 * time.Second,
		Database: DatabaseConfig{
			Path:               "",
			MaxOpenConnections: 16,
			MaxIdleConnections: 4,
			ConnMaxLifetime:    time.Hour,
			ConnMaxIdleTime:    15 * time.Minute,
			HealthCheckPeriod:  30 * time.Second,
			ConnectionTimeout:  10 * time.Second,
		},
		Query: QueryConfig{
			TenantColumn: "user_id",
			Timeout:      30 * time.Second,
			MaxRows:      10000,
		},
		LLM: LLMConfig{
			Provider:          "",
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 60,
		},
		Retrieval: RetrievalConfig{
			MaxExamples: 5,
			MaxDDL:      3,
			MaxDocs:     3,
		},
		Auth: AuthConfig{
			Enabled: false,
			Type:    "jwt",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
