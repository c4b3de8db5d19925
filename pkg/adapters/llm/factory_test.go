package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/reactor/pkg/adapters/llm/anthropic"
	"github.com/aescanero/reactor/pkg/ports"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(&Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Client{}, p)

	p, err = NewProvider(&Config{})
	require.NoError(t, err)
	assert.IsType(t, &Static{}, p)

	_, err = NewProvider(&Config{Provider: "gemini"})
	assert.ErrorContains(t, err, "unsupported LLM provider")

	_, err = NewProvider(&Config{Provider: "anthropic"})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	msgs := []ports.Message{
		{Role: ports.RoleSystem, Content: "be brief"},
		{Role: ports.RoleUser, Content: " first "},
		{Role: ports.RoleAssistant, Content: "ok"},
		{Role: ports.RoleUser, Content: " second "},
	}

	got, err := (&Static{}).Chat(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	got, err = (&Static{Reply: "fixed"}).Chat(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = (&Static{}).Chat(cancelled, msgs)
	assert.ErrorIs(t, err, context.Canceled)
}
