package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"sentra/backend/pkg/config"
	"sentra/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
)

type cachedSecret struct {
	value   string
	expires time.Time
}

// VaultManager manages secrets with HashiCorp Vault
type VaultManager struct {
	client *vault.Client
	mount  string
	path   string
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSecret
}

// NewVaultManager creates a Vault-backed manager. With Vault disabled it only reads the environment.
func NewVaultManager(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	vc := cfg.Vault
	m := &VaultManager{
		mount: vc.Mount,
		path:  vc.SecretsPath,
		ttl:   vc.CacheTTL,
		log:   log,
		now:   time.Now,
		cache: make(map[string]cachedSecret),
	}
	if !vc.Enabled {
		return m, nil
	}

	if vc.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if vc.Token == "" {
		return nil, ErrNoVaultToken
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = vc.Address
	vaultConfig.Timeout = vc.Timeout
	vaultConfig.MaxRetries = 3

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(vc.Token)
	if vc.Namespace != "" {
		client.SetNamespace(vc.Namespace)
	}
	m.client = client

	return m, nil
}

// GetSecret retrieves a secret from Vault, with fallback to environment variable
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if v, ok := m.cached(key); ok {
		return v, nil
	}

	if m.client == nil {
		return m.getFromEnvironment(key)
	}

	value, err := m.getFromVault(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
			return m.getFromEnvironment(key)
		}
		return "", err
	}

	m.store(key, value)
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		return defaultValue
	}
	return value
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.mount).Get(ctx, m.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		m.log.Error("Failed to read secret from Vault", "path", m.path, "error", err.Error())
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// getFromEnvironment maps "openai-api-key" or "openai.api_key" to OPENAI_API_KEY
func (m *VaultManager) getFromEnvironment(key string) (string, error) {
	envKey := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))

	value := os.Getenv(envKey)
	if value == "" {
		return "", ErrSecretNotFound
	}

	m.store(key, value)
	return value, nil
}

func (m *VaultManager) cached(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[key]
	if !ok {
		return "", false
	}
	if m.now().After(entry.expires) {
		delete(m.cache, key)
		return "", false
	}
	return entry.value, true
}

func (m *VaultManager) store(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = cachedSecret{value: value, expires: m.now().Add(m.ttl)}
}
