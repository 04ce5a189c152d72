package app

import (
	"context"
	"testing"

	"clinical-coding/internal/domain/deadletter"
	"clinical-coding/internal/domain/reconcile"
	"clinical-coding/internal/platform/config"
	"clinical-coding/internal/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		Resuggest: config.ResuggestConfig{LockPerEpisode: true},
		DLQ: config.DLQConfig{
			Provider:    config.DLQMemory,
			MaxAttempts: 3,
		},
	}
}

func TestNew_MemoryWiring(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Episodes)
	assert.NotNil(t, a.Reverts)
	assert.NotNil(t, a.Queries)
	assert.NotNil(t, a.Reconciler)
	assert.NotNil(t, a.Consumer)
	assert.Nil(t, a.Verifier, "dev mode without IdP")

	var _ reconcile.Capturer = a.DeadLetters
	var _ deadletter.Reconciler = a.Reconciler
}

func TestNew_OptionalAdapters(t *testing.T) {
	cfg := memoryConfig()
	cfg.IdP = config.IdPConfig{BaseURL: "http://idp.local", APIKey: "k"}
	cfg.OpenAI = config.OpenAIConfig{APIKey: "sk-test"}
	cfg.FlowWebhookURL = "http://flow.local/hook"

	a, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Verifier)
}

func TestNew_InvalidIdPConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.IdP = config.IdPConfig{BaseURL: "http://idp.local"}

	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logger.Nop())
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
