package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yproto/server/internal/auth"
	"github.com/yproto/server/internal/config"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/kernel"
	"github.com/yproto/server/internal/storage"
	"github.com/yproto/server/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	jaegerShutdown, err := telemetry.InitJaeger(cfg.Name, cfg.JaegerEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "err", err)
		jaegerShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "err", err)
		}
	}()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{})
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(db)
	if err != nil {
		slog.Error("failed to initialize document store", "err", err)
		os.Exit(1)
	}

	extensions := []*hooks.Extension{storage.Extension(store)}
	if cfg.JWTSecret != "" {
		extensions = append(extensions, auth.Extension(cfg.JWTSecret))
	} else {
		slog.Warn("JWT_SECRET not set: server will not require authentication")
	}

	k, err := kernel.New(cfg, extensions)
	if err != nil {
		slog.Error("failed to construct kernel", "err", err)
		os.Exit(1)
	}

	go func() {
		if err := k.ListenAndServe(); err != nil {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := k.Destroy(ctx); err != nil {
		slog.Error("kernel shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}
