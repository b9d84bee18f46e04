package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/drivewatch/pkg/adminemails"
	"github.com/platinummonkey/drivewatch/pkg/audit"
	"github.com/platinummonkey/drivewatch/pkg/config"
	"github.com/platinummonkey/drivewatch/pkg/middleware"
	"github.com/platinummonkey/drivewatch/pkg/observability"
	"github.com/platinummonkey/drivewatch/pkg/rbac"
	"github.com/platinummonkey/drivewatch/pkg/users"
)

var version = "dev"

func main() {
	boot := setupLogger(os.Getenv("DRIVEWATCH_LOG_LEVEL"))
	boot.Infof("Starting drivewatch-rbac %s", version)

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg, boot); err != nil {
		boot.Fatalf("drivewatch-rbac stopped with error: %v", err)
	}
	boot.Info("drivewatch-rbac stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// backends holds the connections opened for the configured user store
type backends struct {
	store rbac.UserStore
	db    *sql.DB
	redis *redis.Client
	close func() error
}

func openUserStore(ctx context.Context, cfg config.StoreConfig) (*backends, error) {
	switch cfg.Type {
	case config.StorePostgres, config.StoreSQLite:
		driver, dsn := "postgres", cfg.PostgresURL
		if cfg.Type == config.StoreSQLite {
			driver, dsn = "sqlite3", cfg.SQLitePath
		}
		s, err := users.OpenSQLStore(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		if driver == "sqlite3" {
			s.DB().SetMaxOpenConns(1)
		} else {
			s.DB().SetMaxOpenConns(25)
			s.DB().SetMaxIdleConns(5)
			s.DB().SetConnMaxLifetime(5 * time.Minute)
		}
		return &backends{store: s, db: s.DB(), close: s.Close}, nil
	case config.StoreRedis:
		s, err := users.OpenRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return &backends{store: s, redis: s.Client(), close: s.Close}, nil
	default:
		s := users.NewMemoryStore()
		return &backends{store: s, close: s.Close}, nil
	}
}

func connectPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func run(cfg *config.Config, boot *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "drivewatch-rbac")
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	// Tracing and OTel metrics
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    1.0,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	recorders := observability.Recorders{metrics}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelMetrics)
	}

	// User store
	be, err := openUserStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s user store: %w", cfg.Store.Type, err)
	}
	shutdown.Register("user store", func(context.Context) error { return be.close() })
	boot.Infof("User store: %s", cfg.Store.Type)

	// Admin emails
	var (
		admins     rbac.AdminEmailSource = adminemails.Static(cfg.Access.AdminEmails)
		fileSource *adminemails.FileSource
	)
	if cfg.Access.AdminEmailsFile != "" {
		fileSource, err = adminemails.NewFileSource(cfg.Access.AdminEmailsFile, logger, metrics.RecordAdminEmailReload)
		if err != nil {
			return err
		}
		admins = fileSource
	} else {
		metrics.RecordAdminEmailReload(len(cfg.Access.AdminEmails), nil)
	}

	catalog, err := rbac.LoadCatalog(cfg.Access.CatalogFile)
	if err != nil {
		return err
	}

	// Audit trail
	var (
		auditLoggers []audit.Logger
		dbLogger     *audit.DBLogger
	)
	if cfg.Audit.FileDir != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.FileDir,
			Rotate:   cfg.Audit.FileRotate,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			return err
		}
		auditLoggers = append(auditLoggers, fileLogger)
	}
	if cfg.Audit.DBEnabled {
		auditDB := be.db
		if cfg.Store.Type != config.StorePostgres {
			auditDB, err = connectPostgres(ctx, cfg.Store.PostgresURL)
			if err != nil {
				return fmt.Errorf("failed to connect audit database: %w", err)
			}
			shutdown.Register("audit database", func(context.Context) error { return auditDB.Close() })
		}
		dbLogger, err = audit.NewDBLogger(auditDB)
		if err != nil {
			return err
		}
		if be.db == nil {
			be.db = auditDB
		}
		auditLoggers = append(auditLoggers, dbLogger)
	}

	var (
		auditLog      audit.Logger
		auditSearcher audit.Searcher
	)
	if len(auditLoggers) > 0 {
		multi := audit.NewMultiLogger(auditLoggers...)
		auditLog, auditSearcher = multi, multi
	} else {
		logger.Warn("no audit destination configured; audit events are discarded")
	}
	sink := audit.NewSink(auditLog, logger,
		audit.WithRecorder(metrics),
		audit.WithWriters(cfg.Audit.Writers, cfg.Audit.QueueSize),
		audit.WithDrainTimeout(cfg.Server.ShutdownTimeout),
	)

	access, err := rbac.NewAccessControl(rbac.Dependencies{
		Catalog: catalog,
		Admins:  admins,
		Users:   be.store,
		Audit:   sink,
		Metrics: recorders,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// Rate limiting shares Redis with the user store when there is one
	limiterRedis := be.redis
	if limiterRedis == nil && cfg.Store.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		limiterRedis = redis.NewClient(opts)
		shutdown.Register("rate limit redis", func(context.Context) error { return limiterRedis.Close() })
	}

	// HTTP API
	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.Identity(middleware.IdentityConfig{
		Header:   cfg.Access.IdentityHeader,
		Required: cfg.Access.RequireIdentity,
		Exempt:   []string{"/api/v1/roles/hierarchy"},
	}))
	if cfg.RateLimit.Enabled {
		rl := newRateLimiter(ctx, cfg.RateLimit, limiterRedis, logger)
		rl.SetRecorder(metrics)
		router.Use(rl.Handler)
	}
	router.Use(rbac.EnsureRegistered(access, cfg.Access.ApprovedDomains))
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics, rbac.RouteName))
	}
	rbac.NewHandlers(access, auditSearcher).RegisterRoutes(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "drivewatch-rbac"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics
	checker := observability.NewHealthChecker(be.db, limiterRedis, version)
	checker.RedisCritical = cfg.Store.Type == config.StoreRedis
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	// Audit retention
	if dbLogger != nil && cfg.Audit.RetentionDays > 0 {
		c := cron.New()
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		_, err := c.AddFunc(cfg.Audit.RetentionSchedule, func() {
			defer observability.RecoverPanic(logger, "audit retention")
			purgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			n, err := dbLogger.Purge(purgeCtx, retention)
			if err != nil {
				logger.WithError(err).Error("audit retention purge failed")
				return
			}
			logger.WithFields(map[string]interface{}{
				"deleted":        n,
				"retention_days": cfg.Audit.RetentionDays,
			}).Info("audit retention purge completed")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule audit retention: %w", err)
		}
		c.Start()
		boot.Infof("Audit retention: %d days, schedule %q", cfg.Audit.RetentionDays, cfg.Audit.RetentionSchedule)
		shutdown.Register("audit retention", func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		boot.Infof("API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		boot.Infof("Health and metrics listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	if fileSource != nil {
		g.Go(func() error { return fileSource.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		boot.Info("Shutting down gracefully...")

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(server.Shutdown(stopCtx), healthServer.Shutdown(stopCtx))
	})

	runErr := g.Wait()

	// pending audit writes must land before their backends close
	if err := sink.Close(); err != nil {
		logger.WithError(err).Warn("failed to close audit log")
	}
	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
	return runErr
}

func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, logger *observability.Logger) *middleware.RateLimitMiddleware {
	actorCfg := middleware.PerActorRateLimitConfig()
	actorCfg.RequestsPerWindow = cfg.ActorPerMinute
	anonCfg := middleware.DefaultRateLimitConfig()
	anonCfg.RequestsPerWindow = cfg.AnonymousPerMinute

	if client != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(client, actorCfg, "drivewatch:ratelimit:actor"),
			middleware.NewDistributedRateLimiter(client, anonCfg, "drivewatch:ratelimit:anon"),
			logger,
		)
	}

	actor := middleware.NewRateLimiter(actorCfg)
	anon := middleware.NewRateLimiter(anonCfg)
	actor.StartCleanup(ctx)
	anon.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(actor, anon, logger)
}
