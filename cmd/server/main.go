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

	"github.com/yangwenmai/gitpodcast/internal/api"
	"github.com/yangwenmai/gitpodcast/internal/backend"
	"github.com/yangwenmai/gitpodcast/internal/cache"
	"github.com/yangwenmai/gitpodcast/internal/config"
	"github.com/yangwenmai/gitpodcast/internal/podcast"
	"github.com/yangwenmai/gitpodcast/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Open the cache store.
	s, db, err := store.Open(store.Dialect(cfg.DBDriver), cfg.DBSource())
	if err != nil {
		slog.Error("open store", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Build the generation backend.
	var gen backend.Generator
	if cfg.StubBackend {
		slog.Info("STUB_BACKEND set, using stub generator")
		gen = &backend.Stub{}
	} else {
		slog.Info("using generation backend", "url", cfg.BackendURL, "timeout", cfg.HTTPTimeout.String())
		gen = backend.NewClient(backend.WithBaseURL(cfg.BackendURL), backend.WithTimeout(cfg.HTTPTimeout))
	}

	orch := podcast.New(cache.New(s), gen,
		podcast.WithAudioTrust(cfg.AudioCacheTrust),
		podcast.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := api.New(orch,
		api.WithCORSOrigin(cfg.CORSOrigin),
		api.WithDefaultAudioLength(cfg.AudioLength()),
		api.WithRateLimit(cfg.RateLimitPerMinute),
		api.WithLogger(logger),
	)
	go srv.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("gitpodcast server listening", "addr", "http://localhost:"+cfg.Port, "db_driver", cfg.DBDriver)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
