package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/adapters/llm/anthropic"
	"github.com/aescanero/reactor/pkg/ports"
)

// Config holds LLM provider configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
	Timeout   time.Duration
	Metrics   ports.MetricsCollector
	Logger    *zap.Logger
}

// NewProvider creates a new LLM provider based on cfg.Provider
func NewProvider(cfg *Config) (ports.LlmProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		}, cfg.Metrics, cfg.Logger)
	case "static", "":
		return &Static{}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// Static answers every chat with Reply, or with the last user message
// when Reply is empty.
type Static struct {
	Reply string
}

func (s *Static) Chat(ctx context.Context, messages []ports.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ports.RoleUser {
			return strings.TrimSpace(messages[i].Content), nil
		}
	}
	return "", nil
}
