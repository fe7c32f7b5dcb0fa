package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string        `env:"PORT" envDefault:"8081"`
		Env     string        `env:"APP_ENV" envDefault:"development"`
		Version string        `env:"APP_VERSION" envDefault:"dev"`
		Timeout time.Duration `env:"SERVER_TIMEOUT" envDefault:"30s"`
		// GRPCPort serves the gRPC health service. Empty disables it.
		GRPCPort string `env:"GRPC_PORT" envDefault:"9094"`
	}

	// Database configuration
	Database struct {
		Driver   string        `env:"DB_DRIVER" envDefault:"postgres"`
		Host     string        `env:"DB_HOST" envDefault:"localhost"`
		Port     string        `env:"DB_PORT" envDefault:"5432"`
		User     string        `env:"DB_USER" envDefault:"postgres"`
		Password string        `env:"DB_PASSWORD" envDefault:"postgres"`
		Name     string        `env:"DB_NAME" envDefault:"sentra"`
		SSLMode  string        `env:"DB_SSL_MODE" envDefault:"disable"`
		Path     string        `env:"DB_PATH" envDefault:"sentra.db"`
		MaxConns int           `env:"DB_MAX_CONNS" envDefault:"20"`
		Timeout  time.Duration `env:"DB_TIMEOUT" envDefault:"5s"`
		Retries  int           `env:"DB_RETRIES" envDefault:"5"`
	}

	// JWT configuration
	JWT struct {
		Secret string        `env:"JWT_SECRET" envDefault:"default-jwt-secret-do-not-use-in-production"`
		Expiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	}

	// Security configuration
	Security struct {
		RateLimit      float64  `env:"RATE_LIMIT" envDefault:"5"`
		RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"10"`
		AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
		MaxBodySize    int64    `env:"MAX_BODY_SIZE" envDefault:"1048576"`
	}

	// Logging configuration
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}

	// LLM provider configuration
	LLM struct {
		// Provider is "openai" or "fake"; fake answers with a canned reply for local development
		Provider       string        `env:"LLM_PROVIDER" envDefault:"openai"`
		BaseURL        string        `env:"OPENAI_BASE_URL"`
		ChatModel      string        `env:"LLM_CHAT_MODEL" envDefault:"gpt-4o-mini"`
		SummaryModel   string        `env:"LLM_SUMMARY_MODEL" envDefault:"gpt-4o-mini"`
		Temperature    float32       `env:"LLM_TEMPERATURE" envDefault:"0.9"`
		SummaryTokens  int           `env:"LLM_SUMMARY_TOKENS" envDefault:"400"`
		RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"60s"`
	}

	// Gateway configuration
	Gateway struct {
		// URL of a remote streaming gateway. Empty means the orchestrator calls the gateway in-process.
		URL     string        `env:"GATEWAY_URL"`
		Timeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"60s"`
	}

	// Cross-friend memory configuration
	Memory struct {
		UpdateTimeout time.Duration `env:"CFM_UPDATE_TIMEOUT" envDefault:"45s"`
	}

	// In-context example texts loaded once at startup
	Examples struct {
		// Source is either a local directory or a gs://bucket/prefix URL.
		Source        string `env:"EXAMPLES_SOURCE"`
		DialogueKey   string `env:"EXAMPLES_DIALOGUE_KEY" envDefault:"dialogue_example.txt"`
		NarrationKey  string `env:"EXAMPLES_NARRATION_KEY" envDefault:"narration_example.txt"`
		GCSCredential string `env:"GCS_CREDENTIALS_FILE"`
	}

	// Redis configuration
	Redis struct {
		Addr     string `env:"REDIS_URL"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
		Channel  string `env:"REDIS_EVENTS_CHANNEL" envDefault:"sentra:events"`
	}

	// Vault configuration. Disabled means secrets come from the environment only.
	Vault struct {
		Enabled     bool          `env:"VAULT_ENABLED" envDefault:"false"`
		Address     string        `env:"VAULT_ADDR"`
		Token       string        `env:"VAULT_TOKEN"`
		Namespace   string        `env:"VAULT_NAMESPACE"`
		Mount       string        `env:"VAULT_MOUNT" envDefault:"secret"`
		SecretsPath string        `env:"VAULT_SECRETS_PATH" envDefault:"sentra"`
		Timeout     time.Duration `env:"VAULT_TIMEOUT" envDefault:"10s"`
		CacheTTL    time.Duration `env:"VAULT_CACHE_TTL" envDefault:"5m"`
	}

	// Character cache in front of the database
	Cache struct {
		CharacterTTL  time.Duration `env:"CHARACTER_CACHE_TTL" envDefault:"5m"`
		CharacterSize int           `env:"CHARACTER_CACHE_SIZE" envDefault:"1000"`
	}

	// Scheduled jobs
	Jobs struct {
		IndexRepairSpec     string        `env:"INDEX_REPAIR_SCHEDULE" envDefault:"@every 30m"`
		IndexRepairLookback time.Duration `env:"INDEX_REPAIR_LOOKBACK" envDefault:"2h"`
		IndexRepairBatch    int           `env:"INDEX_REPAIR_BATCH" envDefault:"500"`
	}

	// Observability
	Observability struct {
		Tracing     bool   `env:"TRACING_ENABLED" envDefault:"false"`
		ServiceName string `env:"SERVICE_NAME" envDefault:"sentra-chat"`
	}

	// OpenAPIValidation enables request validation against the embedded schema
	OpenAPIValidation bool `env:"OPENAPI_VALIDATION" envDefault:"true"`
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables.
// Uses singleton pattern to ensure only one instance exists.
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()

		cfg, err := Load()
		if err != nil {
			log.Fatalf("failed to parse config: %v", err)
		}
		instance = cfg
	})

	return instance
}

// Load parses a fresh Config from the environment without touching the singleton.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// IsProduction reports whether the server runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
