// Command scribe-authz serves the scribe authorization API.
//
// Configuration comes from SCRIBE_* environment variables, optionally layered
// over the YAML file named by SCRIBE_CONFIG_FILE. See pkg/config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/platinummonkey/scribe/pkg/api"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/config"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	seedPath := flag.String("seed", "", "YAML file of users and resources to load at startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe-authz: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Observability)
	if err := run(cfg, logger, *seedPath); err != nil {
		logger.WithError(err).Error("scribe-authz stopped with an error")
		os.Exit(1)
	}
}

func newLogger(cfg config.ObservabilityConfig) *observability.Logger {
	if cfg.LogFormat == "text" {
		return observability.NewTextLogger(cfg.Level(), os.Stdout)
	}
	return observability.NewLogger(cfg.Level(), os.Stdout)
}

func run(cfg *config.Config, logger *observability.Logger, seedPath string) error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// background routines outlive runCtx until shutdown reaches them
	bgCtx, cancelBackground := context.WithCancel(observability.WithLogger(context.Background(), logger))
	defer cancelBackground()

	otelProviders, err := observability.InitOTel(runCtx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("init opentelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	store, err := openBackend(bgCtx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	caches, err := openCache(runCtx, cfg.Cache, logger)
	if err != nil {
		store.close(context.Background())
		return fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}
	auditLog, auditSearch, err := openAudit(cfg.Audit, store.primary, logger)
	if err != nil {
		store.close(context.Background())
		return fmt.Errorf("open audit sinks: %w", err)
	}
	abort := func(err error) error {
		auditLog.Close()
		if caches.cache != nil {
			caches.cache.Close()
		}
		store.close(context.Background())
		return err
	}

	if seedPath != "" {
		users, resources, err := loadSeed(runCtx, seedPath, store.writer, store.resources)
		if err != nil {
			return abort(err)
		}
		logger.WithFields(map[string]interface{}{"users": users, "resources": resources}).Info("seed data loaded")
	}

	users, resources := store.bounded(cfg.Store.WorkerLimit, metrics)
	svc, err := authz.NewService(authz.Options{
		Users:       users,
		Resources:   resources,
		Cache:       caches.cache,
		Audit:       auditLog,
		AuditSearch: auditSearch,
		Logger:      logger,
		Metrics:     metrics,
		Config:      cfg.ServiceConfig(),
	})
	if err != nil {
		return abort(err)
	}

	apiServer := api.NewServer(api.Options{
		Service:                  svc,
		Logger:                   logger,
		Metrics:                  metrics,
		AdminLimiter:             adminLimiter(bgCtx, cfg.Server, caches.redis, logger),
		ConcealResourceExistence: cfg.Authz.ConcealResourceExistence,
	})
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(store.primary, caches.redis)
	health.SetVersion(version)
	if store.primary == nil && store.ping != nil {
		health.AddCheck("store", true, store.ping)
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	if caches.sweeper != nil {
		caches.sweeper.Start()
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("background routines", func(context.Context) error {
		cancelBackground()
		if caches.sweeper != nil {
			caches.sweeper.Stop()
		}
		return nil
	})
	shutdown.RegisterShutdownFunc("authz service", func(context.Context) error { return svc.Close() })
	shutdown.RegisterShutdownFunc("audit sinks", func(context.Context) error { return auditLog.Close() })
	shutdown.RegisterShutdownFunc("store", store.close)
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErrs := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		go func() {
			defer observability.RecoverPanic(logger, name)
			logger.WithFields(map[string]interface{}{"addr": srv.Addr, "server": name}).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrs <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}
	serve("api server", httpServer)
	serve("health server", healthServer)

	logger.WithFields(map[string]interface{}{
		"version": version,
		"store":   cfg.Store.Type,
		"cache":   cfg.Cache.Backend,
	}).Info("scribe-authz started")

	shutdownErr := shutdown.Run(runCtx)
	select {
	case err := <-serveErrs:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}
