package di

import (
	"context"
	"fmt"
	"time"

	"sentra/backend/internal/chat"
	"sentra/backend/internal/gateway"
	"sentra/backend/internal/jobs"
	"sentra/backend/internal/llm"
	"sentra/backend/internal/memory"
	"sentra/backend/internal/prompt"
	"sentra/backend/internal/repository"
	"sentra/backend/internal/streamclient"
	"sentra/backend/internal/ws"
	"sentra/backend/pkg/cache"
	"sentra/backend/pkg/config"
	"sentra/backend/pkg/events"
	"sentra/backend/pkg/health"
	"sentra/backend/pkg/jwt"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/objectstore"
	"sentra/backend/pkg/observability"
	"sentra/backend/pkg/resilience"
	"sentra/backend/pkg/secrets"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OpenAIKeySecret is the secret holding the model provider API key
const OpenAIKeySecret = "openai-api-key"

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	JWT     *jwt.Service
	Metrics *observability.Metrics
	Secrets secrets.Manager

	Repos      *repository.Repositories
	Characters repository.CharacterRepository

	Provider  *llm.GuardedProvider
	Gateway   *gateway.Service
	Generator chat.Generator
	Memory    *memory.Service
	Chats     *chat.Service

	Bus       *events.Bus
	Publisher events.Publisher
	Redis     *redis.Client
	RedisBus  *events.RedisBus

	Health   *health.Checker
	Hub      *ws.Hub
	Jobs     *jobs.Scheduler
	Examples objectstore.Store
}

// New wires every service from cfg. The database must already be migrated.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		JWT:    jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry),
		Bus:    events.NewBus(),
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	metrics.SetGlobal()
	c.Metrics = metrics

	sm, err := secrets.NewVaultManager(cfg, log.With("component", "secrets"))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager: %w", err)
	}
	c.Secrets = sm

	c.Repos = repository.New(db)
	c.Characters = repository.NewCachedCharacterRepository(c.Repos.Characters, cache.Options{
		TTL:      cfg.Cache.CharacterTTL,
		MaxItems: cfg.Cache.CharacterSize,
	})

	c.Provider = llm.NewGuarded(c.newProvider(ctx), c.newBreaker())

	c.Examples = c.openExamples(ctx)
	examples := prompt.LoadExamples(ctx, c.Examples, cfg.Examples.DialogueKey, cfg.Examples.NarrationKey, log)

	c.Gateway = gateway.NewService(c.Characters, c.Provider, examples, gateway.Options{
		Model:       cfg.LLM.ChatModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.Gateway.Timeout,
	}, metrics, log)

	if cfg.Gateway.URL != "" {
		c.Generator = streamclient.NewGenerator(streamclient.New(cfg.Gateway.URL, log), c.JWT)
		log.Info("Chat replies go through the remote gateway", "url", cfg.Gateway.URL)
	} else {
		c.Generator = gateway.NewLocalGenerator(c.Gateway)
	}

	c.Memory = memory.NewService(memory.Repos{
		Chats:       c.Repos.Chats,
		Memories:    c.Repos.Memories,
		Users:       c.Repos.Users,
		Friendships: c.Repos.Friendships,
	}, c.Provider, memory.Options{
		Model:         cfg.LLM.SummaryModel,
		MaxTokens:     cfg.LLM.SummaryTokens,
		UpdateTimeout: cfg.Memory.UpdateTimeout,
	}, metrics, log)

	c.Publisher = c.Bus
	if cfg.Redis.Addr != "" {
		c.Redis = events.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		c.RedisBus = events.NewRedisBus(c.Redis, cfg.Redis.Channel, c.Bus, log)
		c.Publisher = c.RedisBus
	}

	c.Chats = chat.NewService(chat.Repos{
		Chats:      c.Repos.Chats,
		Index:      c.Repos.ChatIndex,
		Characters: c.Characters,
		Users:      c.Repos.Users,
	}, c.Memory, c.Generator, c.Publisher, log)

	c.Hub = ws.NewHub(c.Bus, log)

	c.Jobs = jobs.New(log)
	if cfg.Jobs.IndexRepairSpec != "" {
		if err := c.Jobs.AddIndexRepair(c.Chats, jobs.IndexRepairOptions{
			Schedule: cfg.Jobs.IndexRepairSpec,
			Lookback: cfg.Jobs.IndexRepairLookback,
			Batch:    cfg.Jobs.IndexRepairBatch,
		}); err != nil {
			return nil, err
		}
	}

	c.Health = c.newHealthChecker()
	return c, nil
}

func (c *Container) newProvider(ctx context.Context) llm.Provider {
	if c.Config.LLM.Provider == "fake" {
		c.Logger.Warn("Using the canned fake model provider")
		return &llm.Fake{Deltas: []string{"*smiles* ", "Hello! ", "Tell me more."}}
	}

	key := c.Secrets.GetSecretWithDefault(ctx, OpenAIKeySecret, "")
	if key == "" {
		c.Logger.Warn("No model provider API key configured, model calls will fail")
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:       key,
		BaseURL:      c.Config.LLM.BaseURL,
		DefaultModel: c.Config.LLM.ChatModel,
		Temperature:  c.Config.LLM.Temperature,
	})
}

func (c *Container) newBreaker() *resilience.CircuitBreaker {
	cfg := resilience.DefaultConfig("llm")
	cfg.IsFailure = llm.IsProviderFailure
	return resilience.NewCircuitBreaker(cfg, c.Logger)
}

// openExamples opens the configured example store. A broken source only costs the examples.
func (c *Container) openExamples(ctx context.Context) objectstore.Store {
	src := c.Config.Examples.Source
	if src == "" {
		return nil
	}
	store, err := objectstore.Open(ctx, src, c.Config.Examples.GCSCredential, c.Logger)
	if err != nil {
		c.Logger.LogError(err, "Failed to open example store, continuing without examples", "source", src)
		return nil
	}
	return store
}

func (c *Container) newHealthChecker() *health.Checker {
	checker := health.NewChecker(c.Logger.With("component", "health"), 30*time.Second)
	checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.RedisBus != nil {
		checker.RegisterRedisCheck(c.RedisBus.Ping)
	}
	checker.RegisterBreakerCheck("llm", c.Provider.State)
	return checker
}

// Start runs the background parts: health checks, notifications and scheduled jobs
func (c *Container) Start(ctx context.Context) {
	c.Health.Start(ctx)
	go c.Hub.Run(ctx)
	if c.RedisBus != nil {
		go func() {
			if err := c.RedisBus.Run(ctx); err != nil && ctx.Err() == nil {
				c.Logger.LogError(err, "Redis event relay stopped")
			}
		}()
	}
	c.Jobs.Start()
}

// Close releases what Start and New acquired
func (c *Container) Close() {
	c.Jobs.Stop()
	c.Memory.Wait()
	if c.Examples != nil {
		_ = c.Examples.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Metrics != nil && c.Metrics.MeterProvider != nil {
		_ = c.Metrics.MeterProvider.Shutdown(context.Background())
	}
}
