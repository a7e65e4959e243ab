// Relay server - accepts browser audio over WebSocket and relays it to the realtime API
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GriffinCanCode/realtime-relay/internal/config"
	"github.com/GriffinCanCode/realtime-relay/internal/logging"
	"github.com/GriffinCanCode/realtime-relay/internal/metrics"
	"github.com/GriffinCanCode/realtime-relay/internal/protocol"
	"github.com/GriffinCanCode/realtime-relay/internal/relay"
	"github.com/GriffinCanCode/realtime-relay/internal/resilience"
	"github.com/GriffinCanCode/realtime-relay/internal/server"
	"github.com/GriffinCanCode/realtime-relay/internal/upstream"
)

const shutdownTimeout = 5 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "config", cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := []upstream.Option{upstream.WithMetrics(m)}
	if cfg.BreakerThreshold > 0 {
		breaker := resilience.New(upstream.BreakerConfig(cfg.BreakerThreshold, cfg.BreakerReset)).
			WithHook(func(_, to resilience.State) { m.BreakerState(uint32(to)) })
		opts = append(opts, upstream.WithBreaker(breaker))
	}

	driver := upstream.New(upstream.Config{
		URL:          cfg.RealtimeURL,
		APIKey:       cfg.OpenAIAPIKey,
		Session:      protocol.DefaultSessionConfig(),
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ReadLimit:    cfg.UpstreamReadLimit,
		Retry:        resilience.ConnectRetryConfig(cfg.ConnectRetries, cfg.RetryBaseDelay),
	}, opts...)

	handler := relay.NewHandler(driver,
		relay.WithMetrics(m),
		relay.WithWriteTimeout(cfg.WriteTimeout),
	)
	srv := server.New(cfg, handler, server.WithMetrics(m, reg))

	// No WriteTimeout: WebSocket connections outlive any single response.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("relay server starting", "http", cfg.HTTPAddr, "upstream", cfg.RealtimeURL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("websocket shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
