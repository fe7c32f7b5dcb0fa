package secrets

import (
	"context"
	"testing"
	"time"

	"sentra/backend/pkg/config"
	"sentra/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func disabledConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Vault.Enabled = false
	cfg.Vault.CacheTTL = time.Minute
	return cfg
}

func TestVaultManagerEnvironmentFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	m, err := NewVaultManager(disabledConfig(), logger.Nop())
	require.NoError(t, err)

	v, err := m.GetSecret(context.Background(), "openai-api-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v)

	_, err = m.GetSecret(context.Background(), "missing-key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing-key", "fallback"))
}

func TestVaultManagerCacheExpires(t *testing.T) {
	t.Setenv("SOME_TOKEN", "first")

	m, err := NewVaultManager(disabledConfig(), logger.Nop())
	require.NoError(t, err)
	now := time.Now()
	m.now = func() time.Time { return now }

	v, _ := m.GetSecret(context.Background(), "some.token")
	assert.Equal(t, "first", v)

	t.Setenv("SOME_TOKEN", "second")
	v, _ = m.GetSecret(context.Background(), "some.token")
	assert.Equal(t, "first", v)

	now = now.Add(2 * time.Minute)
	v, _ = m.GetSecret(context.Background(), "some.token")
	assert.Equal(t, "second", v)
}

func TestVaultManagerRequiresAddress(t *testing.T) {
	cfg := disabledConfig()
	cfg.Vault.Enabled = true

	_, err := NewVaultManager(cfg, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)
}

func TestStatic(t *testing.T) {
	s := Static{"k": "v"}
	v, err := s.GetSecret(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, "d", s.GetSecretWithDefault(context.Background(), "x", "d"))
}
