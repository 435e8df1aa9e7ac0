package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/atopos31/keyrelay/config"
	"github.com/atopos31/keyrelay/handler"
	"github.com/atopos31/keyrelay/models"
	"github.com/atopos31/keyrelay/providers"
	"github.com/atopos31/keyrelay/service/keypool"
	"github.com/atopos31/keyrelay/service/retry"
	"github.com/atopos31/keyrelay/service/rotation"
	"github.com/atopos31/keyrelay/service/settings"
	"github.com/atopos31/keyrelay/service/usage"
	"github.com/gin-gonic/gin"
	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	if err := config.LoadDotEnvIfPresent(".env"); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	if err := run(cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.Config) {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.Open(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return err
	}
	slog.Info("TZ", "time.Local", time.Local.String())

	store := keypool.NewPool(db)
	settingsProvider := settings.NewProvider(db, cfg.SettingsTTL)
	usageLogger := usage.NewLogger(db, 0)
	engine := rotation.NewEngine(store, settingsProvider, usageLogger)

	created, err := keypool.SyncFromConfig(ctx, store, engine, cfg.UpstreamKeys)
	if err != nil {
		slog.Error("Failed to sync keys from config", "error", err)
	} else if len(cfg.UpstreamKeys) > 0 {
		slog.Info("Synced keys from config", "configured", len(cfg.UpstreamKeys), "created", created)
	}

	upstream := &providers.OpenAI{
		BaseURL: cfg.UpstreamBaseURL,
		Model:   cfg.ModelOverride,
		Client:  providers.NewClient(cfg.UpstreamTimeout),
	}
	orch := retry.New(engine, upstream, settingsProvider, usageLogger)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handler.New(engine, orch, settingsProvider, db).Register(router, cfg.Token)
	if cfg.Token == "" {
		slog.Warn("TOKEN is empty, proxy and admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.ListenAddr, "upstream", cfg.UpstreamBaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
	if err := usageLogger.Close(shutdownCtx); err != nil {
		slog.Error("Usage log flush failed", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
