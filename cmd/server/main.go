package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/reelchat/call-service/internal/auth"
	"github.com/reelchat/call-service/internal/config"
	"github.com/reelchat/call-service/internal/handler"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/orchestrator"
	"github.com/reelchat/call-service/internal/repository"
	"github.com/reelchat/call-service/internal/signaling"
	"github.com/reelchat/call-service/pkg/logger"
	"github.com/reelchat/call-service/pkg/redis"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
	}
	defer logger.Sync()

	cfg := config.LoadFromEnv()

	if err := run(cfg); err != nil {
		logger.Base().Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	repos, err := repository.OpenPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer repos.Close()

	redisService, err := redis.NewService(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisService.Close()

	authManager, err := auth.NewManager(cfg.JWTSecret)
	if err != nil {
		return err
	}

	source, err := media.NewCaptureSource()
	if err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}

	bus := signaling.NewBus(redisService, repos)

	hub := handler.NewHub(func(userID string, notifier orchestrator.Notifier) *orchestrator.Orchestrator {
		return orchestrator.New(orchestrator.Config{
			SelfID:        userID,
			STUNServers:   cfg.STUNServers,
			StatsInterval: cfg.StatsInterval,
			RecordingDir:  cfg.RecordingDir,
		}, repos, bus, source, notifier)
	})
	defer hub.Close()

	router := handler.NewRouter(hub, authManager, repos)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("instance_id", cfg.InstanceID))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Base().Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
