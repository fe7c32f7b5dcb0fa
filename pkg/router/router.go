package router

import (
	"net/http"
	"strings"

	"sentra/backend/internal/api"
	"sentra/backend/internal/ws"
	"sentra/backend/pkg/config"
	"sentra/backend/pkg/di"
	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/middleware"
	"sentra/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates the gin engine with the global middleware chain
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	if cfg.Observability.Tracing {
		engine.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	}
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() error {
	c := r.Container
	jwtAuth := middleware.JWTAuthMiddleware(c.JWT)
	limiter := middleware.NewRateLimiter(r.Logger, middleware.RateLimiterOptions{
		Limit:          rate.Limit(r.Config.Security.RateLimit),
		Burst:          r.Config.Security.RateLimitBurst,
		ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
		KeyFunc:        middleware.UserOrIPKey,
	})

	gatewayHandler := api.NewGatewayHandler(c.Gateway)
	chatHandler := api.NewChatHandler(c.Chats, c.Memory)
	friendHandler := api.NewFriendHandler(c.Memory)
	userController := api.NewUserController(c.Repos.Users, c.Chats)
	characterHandler := api.NewCharacterHandler(c.Characters)
	liveness := api.NewLivenessHandler(r.Config.Server.Version)

	r.Engine.GET("/health", c.Health.Handler())
	r.Engine.GET("/livez", liveness.Live)
	r.Engine.GET("/metrics", gin.WrapH(c.Metrics.Handler()))
	r.Engine.GET("/ws", func(ctx *gin.Context) {
		ws.ServeWs(c.Hub, c.JWT, ctx)
	})

	v1 := r.Engine.Group("/api/v1")
	v1.Use(jwtAuth)
	if r.Config.OpenAPIValidation {
		v, err := validator.NewOpenAPIValidator()
		if err != nil {
			return err
		}
		v1.Use(v.Middleware())
	}

	// Model-backed routes share the per-user rate limit
	chatRoutes := v1.Group("/chat")
	chatRoutes.Use(limiter.Middleware())
	{
		chatRoutes.POST("/stream", gatewayHandler.Stream)
		chatRoutes.POST("/generate", gatewayHandler.Generate)
	}

	chats := v1.Group("/chats")
	{
		chats.POST("", chatHandler.Create)
		chats.GET("", chatHandler.List)
		// Delete also clears index rows whose session is already gone
		chats.DELETE("/:id", chatHandler.Delete)
	}

	owned := chats.Group("/:id")
	owned.Use(middleware.RequireOwner("id", chatHandler.Owner))
	{
		owned.GET("", chatHandler.Get)
		owned.PUT("/title", chatHandler.UpdateTitle)
		owned.POST("/messages", limiter.Middleware(), chatHandler.SendMessage)
		owned.POST("/rewind", limiter.Middleware(), chatHandler.Rewind)
		owned.POST("/cfm", chatHandler.EnableCFM)
	}

	friends := v1.Group("/friends")
	{
		friends.POST("/:friendId", friendHandler.Request)
		friends.PUT("/:friendId", friendHandler.Accept)
		friends.GET("/:friendId/memories/:characterId", friendHandler.Memories)
	}

	users := v1.Group("/users")
	{
		users.GET("", userController.Search)
		users.PUT("/me", userController.UpsertProfile)
		users.GET("/me/settings", userController.GetSettings)
		users.PUT("/me/settings", userController.SetSettings)
	}

	characters := v1.Group("/characters")
	{
		characters.POST("", characterHandler.CreateCharacter)
		characters.GET("/:id", characterHandler.GetCharacter)
	}

	return nil
}

// corsMiddleware allows the configured origins; "*" allows any
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case origin == "":
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case set[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Authorization, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bodyLimit caps request bodies at n bytes
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
