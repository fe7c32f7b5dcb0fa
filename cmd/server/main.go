package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentra/backend/internal/grpcserver"
	"sentra/backend/internal/repository"
	"sentra/backend/pkg/config"
	"sentra/backend/pkg/di"
	"sentra/backend/pkg/logger"
	"sentra/backend/pkg/observability"
	"sentra/backend/pkg/router"
)

func main() {
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", cfg.Server.Version, "env", cfg.Server.Env)

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Observability.Tracing)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}

	db, err := config.NewDB(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	if err := repository.Migrate(db); err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	container.Start(ctx)

	r := router.New(container)
	if err := r.SetupRoutes(); err != nil {
		log.LogError(err, "Failed to set up routes")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	if cfg.Server.GRPCPort != "" {
		grpcSrv := grpcserver.New(container.Health, 15*time.Second, log)
		go func() {
			if err := grpcSrv.ListenAndServe(ctx, cfg.Server.GRPCPort); err != nil {
				log.LogError(err, "gRPC health server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Streams in flight get the grace period to finish and persist their replies
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	container.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	log.Info("Server exited gracefully")
}
