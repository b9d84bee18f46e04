// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing for drivewatch.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("component", "role_manager").Info("catalog loaded")
//
// Request-scoped loggers carry request_id and actor:
//
//	observability.FromContext(ctx).Warn("audit write failed")
//
// # Decision Metrics
//
// Metrics and OTelMetrics both satisfy the rbac decision recorder; combine
// them with Recorders:
//
//	prom := observability.NewMetrics(registry)
//	rec := observability.Recorders{prom, otelMetrics}
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "drivewatch-rbac",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
