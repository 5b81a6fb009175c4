package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"chatkeep/internal/api"
	"chatkeep/internal/auth"
	"chatkeep/internal/config"
	"chatkeep/internal/redis"
	"chatkeep/internal/service/ai"
	"chatkeep/internal/service/assistant"
	"chatkeep/internal/storage"
	"chatkeep/internal/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("CHATKEEP_CONFIG"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	store, err := storage.Open(openCtx, cfg.Store)
	cancelOpen()
	if err != nil {
		slog.Error("open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Error("close store", "error", err)
		}
	}()
	slog.Info("store ready", "driver", cfg.Store.Driver)

	var opts []assistant.Option
	opts = append(opts, assistant.WithLogger(logger))
	health := []api.Pinger{store}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, user cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rdb.Close()
			opts = append(opts, assistant.WithCache(rdb))
			health = append(health, rdb)
			slog.Info("redis user cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	completer, err := ai.NewClient(cfg.Completion.BaseURL,
		ai.WithModel(cfg.Completion.Model),
		ai.WithHTTPClient(&http.Client{Timeout: cfg.CompletionTimeout()}),
		ai.WithLogger(logger),
	)
	if err != nil {
		slog.Error("init completion client", "error", err)
		os.Exit(1)
	}

	dispatcher := worker.NewDispatcher(completer, worker.Config{
		MinWorkers:  cfg.Completion.MinWorkers,
		MaxWorkers:  cfg.Completion.MaxWorkers,
		QueueSize:   cfg.Completion.QueueSize,
		IdleTimeout: cfg.WorkerIdleTimeout(),
		Fallback:    ai.ApologyMessage,
	}, logger)
	defer dispatcher.Close()

	assistantService, err := assistant.NewService(store, auth.NewPasswordHasher(auth.DefaultBcryptCost), dispatcher, opts...)
	if err != nil {
		slog.Error("init assistant service", "error", err)
		os.Exit(1)
	}
	authService, err := auth.NewService(cfg.Auth.SecretKey, cfg.AccessTokenTTL(), cfg.Auth.Issuer)
	if err != nil {
		slog.Error("init auth service", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(assistantService, authService, logger, health...)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.CompletionTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "model", completer.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
