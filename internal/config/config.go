package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aescanero/reactor/pkg/events"
)

// Config holds all configuration for the reactor service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"REACTOR_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"REACTOR_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// LLM configuration
	LLM LLMConfig

	// Auth configuration
	Auth AuthConfig

	// Orchestrator configuration
	Orchestrator OrchestratorConfig

	// Change event configuration
	Events EventsConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration. When disabled, every
// store is kept in memory.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Expiry of stored generation records and key/value items (0 keeps them)
	RecordTTL time.Duration `env:"REDIS_RECORD_TTL" envDefault:"168h"`
	ItemTTL   time.Duration `env:"REDIS_ITEM_TTL" envDefault:"0s"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"static"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-5"`
	DefaultMaxTokens int64  `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"1024"`
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	TokenSecret string        `env:"AUTH_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
	// RequireToken guards the HTTP write endpoints with bearer tokens.
	RequireToken bool `env:"AUTH_REQUIRE_TOKEN" envDefault:"false"`
}

// OrchestratorConfig holds action orchestrator configuration
type OrchestratorConfig struct {
	DefaultWaitTimeout time.Duration `env:"ORCHESTRATOR_WAIT_TIMEOUT" envDefault:"10s"`
	RecordRetention    time.Duration `env:"ORCHESTRATOR_RECORD_RETENTION" envDefault:"1h"`
	MonitorInterval    time.Duration `env:"ORCHESTRATOR_MONITOR_INTERVAL" envDefault:"1m"`
	// InitGate holds events until one of this type is emitted. "none"
	// disables the gate.
	InitGate string `env:"ORCHESTRATOR_INIT_GATE" envDefault:"APP_INIT_DONE"`
}

// Gate returns the init gate change type, or "" when the gate is disabled.
func (o OrchestratorConfig) Gate() events.ChangeType {
	if o.InitGate == "none" {
		return ""
	}
	return events.ChangeType(o.InitGate)
}

// EventsConfig holds change event bus configuration
type EventsConfig struct {
	Debounce    time.Duration `env:"EVENTS_DEBOUNCE" envDefault:"0s"`
	JournalSize int           `env:"EVENTS_JOURNAL_SIZE" envDefault:"256"`

	// Redis Streams mirror (requires Redis)
	StreamMirror bool   `env:"EVENTS_STREAM_MIRROR" envDefault:"false"`
	Stream       string `env:"EVENTS_STREAM" envDefault:"reactor:events"`
	StreamMaxLen int64  `env:"EVENTS_STREAM_MAX_LEN" envDefault:"10000"`
	MirrorBuffer int    `env:"EVENTS_MIRROR_BUFFER" envDefault:"1024"`

	// Per-connection buffer of the WebSocket stream
	WebSocketBuffer int `env:"EVENTS_WS_BUFFER" envDefault:"64"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required for provider anthropic")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or static)", c.LLM.Provider)
	}

	// Validate auth config
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth token secret is required")
	}

	// Validate orchestrator config
	if gate := c.Orchestrator.Gate(); gate != "" {
		if _, err := events.ParseChangeType(string(gate)); err != nil {
			return fmt.Errorf("invalid init gate: %w", err)
		}
	}
	if c.Orchestrator.DefaultWaitTimeout <= 0 {
		return fmt.Errorf("orchestrator wait timeout must be positive")
	}

	// Validate events config
	if c.Events.Debounce < 0 {
		return fmt.Errorf("events debounce must not be negative")
	}
	if c.Events.StreamMirror && !c.Redis.Enabled {
		return fmt.Errorf("event stream mirror requires redis")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
