package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/pkg/ports"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Config configures the client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
	Timeout   time.Duration
}

// Client implements ports.LlmProvider on the Anthropic Messages API
type Client struct {
	api       anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

// NewClient creates a new Anthropic client
func NewClient(cfg Config, metrics ports.MetricsCollector, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:       anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Chat sends messages and returns the concatenated text of the reply.
// System messages become the request's system prompt.
func (c *Client) Chat(ctx context.Context, messages []ports.Message) (string, error) {
	params, err := c.params(messages)
	if err != nil {
		return "", err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, params)
	c.metrics.ObserveLLMLatency(c.model, time.Since(start), err)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.String("model", c.model),
			zap.Error(err))
		return "", fmt.Errorf("failed to call anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	c.logger.Debug("llm request completed",
		zap.String("model", c.model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("latency", time.Since(start)))
	return sb.String(), nil
}

func (c *Client) params(messages []ports.Message) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
	}

	for _, m := range messages {
		switch m.Role {
		case ports.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case ports.RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case ports.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return params, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}

	if len(params.Messages) == 0 {
		return params, errors.New("at least one user message is required")
	}
	return params, nil
}
