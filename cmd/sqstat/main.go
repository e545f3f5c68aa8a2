package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/francyfox/sqstat/internal/config"
	"github.com/francyfox/sqstat/internal/ingest"
	"github.com/francyfox/sqstat/internal/metrics"
	"github.com/francyfox/sqstat/internal/parser"
	"github.com/francyfox/sqstat/internal/server"
	"github.com/francyfox/sqstat/internal/store"
	"github.com/francyfox/sqstat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs, err := store.Open(ctx, store.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		Retention: cfg.Retention,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer logs.Close()

	decls, err := parser.IndexSchema(cfg.LogFormat)
	if err != nil {
		logger.Error("failed to resolve index schema", "error", err)
		os.Exit(1)
	}
	if err := logs.EnsureIndex(ctx, decls); err != nil {
		logger.Error("failed to create index", "error", err)
		os.Exit(1)
	}

	// Seed history from the existing file before tailing new lines.
	if _, err := ingest.Backfill(ctx, logs, cfg.LogPath, cfg.LogFormat, cfg.BackfillLines, logger); err != nil {
		logger.Warn("backfill failed", "error", err)
	}

	lines := make(chan string, 10000)

	hub := ws.NewHub(logger)
	tailer := ingest.NewTailer(cfg.LogPath, logs, logger)
	consumer := ingest.NewConsumer(logs, cfg.LogFormat, cfg.LogPath, logger, hub.Broadcast)

	svc := metrics.New(logs, logger, cfg.GeoIPDBPath)
	defer svc.Close()

	srv := server.New(cfg, svc, logs, hub, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go hub.Run(ctx.Done())

	go func() {
		if err := tailer.Run(ctx, lines); err != nil && err != context.Canceled {
			logger.Error("tailer stopped", "error", err)
		}
	}()

	if cfg.UDPEnabled {
		udp := ingest.NewUDPListener(cfg.UDPAddr, logger)
		go func() {
			if err := udp.Run(ctx, lines); err != nil && err != context.Canceled {
				logger.Error("udp listener stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := consumer.Run(ctx, lines); err != nil && err != context.Canceled {
			logger.Error("consumer stopped", "error", err)
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("sqstat starting", "listen", cfg.Listen, "log", cfg.LogPath)
		if err := srv.Start(); err != nil {
			serverErrors <- err
		}
	}()

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case err := <-serverErrors:
		logger.Error("server failed", "error", err)
		cancel()
		os.Exit(1)
	}

	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Give goroutines a moment to finish cleanup.
	time.Sleep(100 * time.Millisecond)

	logger.Info("shutdown complete")
}
