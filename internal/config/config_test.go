package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/reactor/pkg/events"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "dev-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 168*time.Hour, cfg.Redis.RecordTTL)
	assert.Equal(t, "static", cfg.LLM.Provider)
	assert.Equal(t, int64(1024), cfg.LLM.DefaultMaxTokens)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.DefaultWaitTimeout)
	assert.Equal(t, events.AppInitDone, cfg.Orchestrator.Gate())
	assert.Equal(t, 256, cfg.Events.JournalSize)
	assert.Equal(t, "reactor:events", cfg.Events.Stream)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "dev-secret")
	t.Setenv("REACTOR_HTTP_PORT", "8181")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("EVENTS_STREAM_MIRROR", "true")
	t.Setenv("EVENTS_DEBOUNCE", "300ms")
	t.Setenv("ORCHESTRATOR_INIT_GATE", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.True(t, cfg.Events.StreamMirror)
	assert.Equal(t, 300*time.Millisecond, cfg.Events.Debounce)
	assert.Empty(t, cfg.Orchestrator.Gate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort: 8080,
			GRPCPort: 9090,
			LogLevel: "info",
			Redis:    RedisConfig{Addr: "localhost:6379"},
			LLM:      LLMConfig{Provider: "static"},
			Auth:     AuthConfig{TokenSecret: "s"},
			Orchestrator: OrchestratorConfig{
				DefaultWaitTimeout: time.Second,
				InitGate:           "APP_INIT_DONE",
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }, "invalid gRPC port"},
		{"redis without addr", func(c *Config) { c.Redis = RedisConfig{Enabled: true} }, "redis address is required"},
		{"anthropic without key", func(c *Config) { c.LLM.Provider = "anthropic" }, "LLM API key is required"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mistral" }, "unsupported LLM provider"},
		{"missing secret", func(c *Config) { c.Auth.TokenSecret = "" }, "auth token secret is required"},
		{"unknown gate", func(c *Config) { c.Orchestrator.InitGate = "BOOTED" }, "invalid init gate"},
		{"zero wait timeout", func(c *Config) { c.Orchestrator.DefaultWaitTimeout = 0 }, "wait timeout must be positive"},
		{"negative debounce", func(c *Config) { c.Events.Debounce = -time.Second }, "debounce must not be negative"},
		{"mirror without redis", func(c *Config) { c.Events.StreamMirror = true }, "requires redis"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
