package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"miszen/internal/protocol"
	"miszen/internal/zen"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" envDefault:"development"`

	// zen-MCP connection (timeouts and delays in seconds)
	MCPHost       string  `env:"MCP_HOST" envDefault:"localhost"`
	MCPPort       int     `env:"MCP_PORT" envDefault:"8765"`
	MCPTimeoutSec float64 `env:"MCP_TIMEOUT" envDefault:"30"`
	MCPRetryCount int     `env:"MCP_RETRY_COUNT" envDefault:"3"`
	MCPRetryDelay float64 `env:"MCP_RETRY_DELAY" envDefault:"1"`

	// Command adapter
	ZenTimeoutsJSON string `env:"ZEN_MCP_TIMEOUTS"`
	ZenHistoryLimit int    `env:"ZEN_HISTORY_LIMIT" envDefault:"10000"`

	// MIS
	MISAPIURL                 string        `env:"MIS_API_URL" envDefault:"http://localhost:8080"`
	MISAPIToken               string        `env:"MIS_API_TOKEN"`
	MISKnowledgeGraphEndpoint string        `env:"MIS_KG_ENDPOINT" envDefault:"/api/kg"`
	MISMemoryBankEndpoint     string        `env:"MIS_MB_ENDPOINT" envDefault:"/api/memory"`
	MISEventQueue             string        `env:"MIS_EVENT_QUEUE" envDefault:"mis_events"`
	MISRateLimit              float64       `env:"MIS_RATE_LIMIT" envDefault:"5"`
	MISTimeout                time.Duration `env:"MIS_TIMEOUT" envDefault:"30s"`
	MISRecordResults          bool          `env:"MIS_RECORD_RESULTS" envDefault:"true"`
	MISWorkers                int           `env:"MIS_WORKERS" envDefault:"2"`

	// Event routing
	EventMappingPath string `env:"EVENT_MAPPING_CONFIG" envDefault:"config/event_mappings.json"`

	// Ops HTTP API
	HTTPPort int `env:"HTTP_PORT" envDefault:"8090"`

	// Storage, empty URL disables the backend
	RedisURL       string        `env:"REDIS_URL"`
	ResultCacheTTL time.Duration `env:"RESULT_CACHE_TTL" envDefault:"24h"`
	DatabaseURL    string        `env:"DATABASE_URL"`

	// Ingress, empty URL disables the subscriber
	NATSURL string `env:"NATS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Derived after parsing
	Timeouts      map[string]time.Duration
	EventMappings map[string]EventMapping
}

// LoadConfig loads configuration from .env and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		// system env vars still apply
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	cfg.Timeouts = parseTimeouts(cfg.ZenTimeoutsJSON)

	mappings, err := LoadEventMappings(cfg.EventMappingPath)
	if err != nil {
		return nil, err
	}
	cfg.EventMappings = mappings

	return cfg, nil
}

// ParseEnv fills target from its env struct tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// parseTimeouts overlays ZEN_MCP_TIMEOUTS (command -> seconds) on the
// built-in table. Invalid JSON keeps the built-in table.
func parseTimeouts(raw string) map[string]time.Duration {
	timeouts := zen.DefaultTimeouts()
	if strings.TrimSpace(raw) == "" {
		return timeouts
	}

	var overrides map[string]float64
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		slog.Warn("invalid_zen_timeouts_ignored", "error", err)
		return timeouts
	}
	for cmd, secs := range overrides {
		if secs > 0 {
			timeouts[cmd] = time.Duration(secs * float64(time.Second))
		}
	}
	return timeouts
}

// MCPTimeout is the handshake/request timeout for the zen-MCP connection.
func (c *Config) MCPTimeout() time.Duration {
	return time.Duration(c.MCPTimeoutSec * float64(time.Second))
}

// MCPRetryBackoff is the base delay between connection attempts.
func (c *Config) MCPRetryBackoff() time.Duration {
	return time.Duration(c.MCPRetryDelay * float64(time.Second))
}

// CommandTimeout returns the timeout for command, 60s when not configured.
func (c *Config) CommandTimeout(command string) time.Duration {
	if d, ok := c.Timeouts[command]; ok {
		return d
	}
	return zen.DefaultTimeout
}

// EventCommands returns the commands mapped to eventType, nil when unmapped.
func (c *Config) EventCommands(eventType string) []string {
	return c.EventMappings[eventType].Commands
}

// EventConditions returns the conditions mapped to eventType.
func (c *Config) EventConditions(eventType string) map[string]any {
	return c.EventMappings[eventType].Conditions
}

// AdapterOptions maps the zen settings onto zen.Options.
func (c *Config) AdapterOptions(logger *slog.Logger) zen.Options {
	return zen.Options{
		Timeouts:       c.Timeouts,
		DefaultTimeout: zen.DefaultTimeout,
		HistoryLimit:   c.ZenHistoryLimit,
		RetryCount:     c.MCPRetryCount,
		RetryDelay:     c.MCPRetryBackoff(),
		Logger:         logger,
	}
}

// ProtocolOptions maps the connection settings onto protocol.Options.
func (c *Config) ProtocolOptions(logger *slog.Logger) protocol.Options {
	opts := protocol.DefaultOptions()
	opts.Host = c.MCPHost
	opts.Port = c.MCPPort
	opts.HandshakeTimeout = c.MCPTimeout()
	opts.Logger = logger
	return opts
}

// SlogLevel converts LogLevel for slog handlers.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
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

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.MCPPort < 1 || c.MCPPort > 65535 {
		errors = append(errors, "MCP_PORT must be between 1 and 65535")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if c.MCPHost == "" {
		errors = append(errors, "MCP_HOST must not be empty")
	}
	if c.MCPTimeoutSec <= 0 {
		errors = append(errors, "MCP_TIMEOUT must be positive")
	}
	if c.MCPRetryCount < 1 {
		errors = append(errors, "MCP_RETRY_COUNT must be at least 1")
	}
	if c.MCPRetryDelay < 0 {
		errors = append(errors, "MCP_RETRY_DELAY must not be negative")
	}
	if c.ZenHistoryLimit < 1 {
		errors = append(errors, "ZEN_HISTORY_LIMIT must be at least 1")
	}
	if c.MISRateLimit <= 0 {
		errors = append(errors, "MIS_RATE_LIMIT must be positive")
	}
	if c.MISWorkers < 1 {
		errors = append(errors, "MIS_WORKERS must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	for eventType, m := range c.EventMappings {
		if len(m.Commands) == 0 {
			errors = append(errors, fmt.Sprintf("event mapping %s has no commands", eventType))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
