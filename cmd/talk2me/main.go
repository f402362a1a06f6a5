package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"talk2me/internal/config"
	"talk2me/internal/federation"
	"talk2me/internal/handler"
	"talk2me/internal/logging"
	"talk2me/internal/metrics"
	"talk2me/internal/session"
	"talk2me/internal/store"
	"talk2me/internal/transport"
	"talk2me/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	baseKey, err := wire.ParseKey(cfg.Wire.BaseKey)
	if err != nil {
		logger.Fatal("invalid base key", zap.Error(err))
	}

	st, err := store.New(cfg.Store.SnapshotPath, cfg.Server.ChatServers)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	metricsRegistry := metrics.NewRegistry()
	registry := session.NewRegistry(metricsRegistry.ActiveConnections)
	fed := federation.New(baseKey, cfg.Server.DialTimeout, logger)
	h := handler.New(st, fed, cfg.Server.ChatServers, logger, metricsRegistry)
	server := transport.NewServer(cfg, logger, st, h, registry, metricsRegistry, baseKey)

	role := "chat"
	if cfg.Server.IsFront() {
		role = "front"
	}
	logger.Info("talk2me server starting",
		zap.String("role", role),
		zap.Int("chat_servers", len(cfg.Server.ChatServers)),
		zap.Bool("frame_logging", cfg.Logging.Frames))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("transport start failed", zap.Error(err))
	}

	go metrics.NewSampler(metricsRegistry, 10*time.Second).Run(ctx)

	httpErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() {
			httpErrCh <- runHTTPServer(ctx, cfg, role, registry, st, metricsRegistry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	server.Stop()
	logger.Info("transport stopped")
}

func runHTTPServer(ctx context.Context, cfg config.Config, role string, registry *session.Registry, st *store.Store, metricsRegistry *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := st.Stats()
		writeJSON(w, map[string]any{
			"status":      "healthy",
			"role":        role,
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"connections": registry.Count(),
			"users":       stats.NumberOfUsers,
			"chats":       stats.NumberOfChats,
		})
	})

	mux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
