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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/keystonegw/gateway/internal/auth"
	"github.com/keystonegw/gateway/internal/billing"
	"github.com/keystonegw/gateway/internal/cache"
	"github.com/keystonegw/gateway/internal/circuitbreaker"
	"github.com/keystonegw/gateway/internal/config"
	"github.com/keystonegw/gateway/internal/pricing"
	"github.com/keystonegw/gateway/internal/provider"
	"github.com/keystonegw/gateway/internal/provider/anthropic"
	"github.com/keystonegw/gateway/internal/provider/openai"
	"github.com/keystonegw/gateway/internal/server"
	"github.com/keystonegw/gateway/internal/storage/sqlite"
	"github.com/keystonegw/gateway/internal/telemetry"
	"github.com/keystonegw/gateway/internal/worker"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := parseLevel(cfg.Log.Level)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("starting gatewayd", "version", version, "addr", cfg.Server.Addr())

	store, err := sqlite.New(cfg.Store.URI)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("store opened", "uri", cfg.Store.URI)

	bus, err := cache.NewBus(cfg.Cache.BusURI)
	if err != nil {
		return err
	}
	if bus != nil {
		slog.Info("cache invalidation bus connected")
	} else {
		slog.Info("cache invalidation bus disabled, running on TTL alone")
	}

	coherent, err := cache.New(store, bus, cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if err != nil {
		return err
	}

	// Shared DNS cache for the OpenAI driver's HTTP client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		ErrorThreshold: cfg.Breaker.ErrorThreshold,
		MinSamples:     cfg.Breaker.MinSamples,
		WindowSeconds:  cfg.Breaker.WindowSeconds,
		OpenTimeout:    cfg.Breaker.OpenTimeout,
	})

	reg := provider.NewRegistry(
		openai.NewChatDriver(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, dnsResolver),
		openai.NewResponsesDriver(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, dnsResolver),
		anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL),
	).WithBreakers(breakers)

	gate := auth.NewGate(coherent)
	priceEngine := pricing.New(coherent)
	ledger := billing.New(store, priceEngine, coherent)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.MetricsEnabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	ctx := context.Background()
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.TracingEnabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.TracingEndpoint, cfg.Telemetry.TracingSampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("gateway/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", cfg.Telemetry.TracingEndpoint)
		}
	}

	handler := server.New(server.Deps{
		Auth:      gate,
		Providers: reg,
		Ledger:    ledger,
		Store:     store,
		Cache:     coherent,

		AdminKey: cfg.Admin.Key,

		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	if bus != nil {
		runner := worker.NewRunner(coherent)
		go func() { workerDone <- runner.Run(workerCtx) }()
	} else {
		close(workerDone)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gatewayd ready", "addr", cfg.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("gatewayd stopped")
	return nil
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
