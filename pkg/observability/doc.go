// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Logging
//
// Logger wraps logrus and emits JSON by default:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("resource_id", id).WithError(err).Warn("share conflict")
//
// FromContext returns the request logger enriched with request_id and user_id.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(decision.Allowed, decision.Reason.String())
//
// A nil *Metrics records nothing.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("mongo", true, func(ctx context.Context) error {
//		return mongoClient.Ping(ctx, nil)
//	})
//	observability.RegisterHealthRoutes(mux, checker)
package observability
