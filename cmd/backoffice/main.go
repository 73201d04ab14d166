package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/authz"
	"github.com/platinummonkey/backoffice/pkg/config"
	"github.com/platinummonkey/backoffice/pkg/httputil"
	"github.com/platinummonkey/backoffice/pkg/middleware"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/orgs"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Service exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", observability.Version).Info("Starting backoffice")

	ctx := context.Background()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := openRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// orgs owns the tables authz references, so its migrations run first.
	if err := orgs.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("orgs migrations: %w", err)
	}
	if err := authz.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("authz migrations: %w", err)
	}
	if err := audit.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("audit migrations: %w", err)
	}

	authzStore := authz.NewStore(db)
	if err := authz.SeedSystemRoles(ctx, authzStore); err != nil {
		return fmt.Errorf("seed system roles: %w", err)
	}
	if cfg.Authz.SeedFile != "" {
		if err := authz.LoadSeedFile(ctx, authzStore, cfg.Authz.SeedFile); err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	cache := authz.NewDecisionCache(redisClient, cfg.Authz.CacheTTL)
	engine := authz.NewEngine(authzStore, cache)
	if metrics != nil {
		engine.OnDecision = metrics.ObserveDecision
		if cache != nil {
			cache.OnHit = func() { metrics.CacheHitsTotal.WithLabelValues("decision").Inc() }
			cache.OnMiss = func() { metrics.CacheMissesTotal.WithLabelValues("decision").Inc() }
		}
	}

	auditLogger := audit.NewDBLogger(db, logger)
	defer auditLogger.Close()

	orgsStore := orgs.NewStore(db)
	orgsHandlers := orgs.NewHandlers(orgsStore, orgs.LogNotifier{Log: logger}, auditLogger)
	orgsHandlers.InvitationTTL = cfg.Invitations.TTL
	if metrics != nil {
		orgsHandlers.OnInvitationCreated = metrics.InvitationsCreatedTotal.Inc
		orgsHandlers.OnInvitationAccepted = metrics.InvitationsAcceptedTotal.Inc
	}
	authzHandlers := authz.NewHandlers(authzStore, engine, cache, auditLogger)

	router := buildRouter(logger, metrics, redisClient, engine, orgsHandlers, authzHandlers)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := buildHealthServer(cfg, db, redisClient, registry)

	scheduler := startCleanupScheduler(cfg, orgsStore, metrics, logger)
	defer scheduler.Stop()

	if metrics != nil {
		go pollDBStats(ctx, db, metrics)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sm := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(healthServer.Shutdown)
	sm.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
	})
	if err := sm.WaitForShutdown(); err != nil {
		return err
	}
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis connects the decision cache backend. Redis is optional: a missing
// or unreachable instance logs a warning and the service runs uncached.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) *redis.Client {
	if cfg.URL == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable, running without decision cache")
		client.Close()
		return nil
	}
	return client
}

func buildRouter(
	logger *logrus.Logger,
	metrics *observability.Metrics,
	redisClient *redis.Client,
	engine *authz.Engine,
	orgsHandlers *orgs.Handlers,
	authzHandlers *authz.Handlers,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.LoggingMiddleware(logger))
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	if redisClient != nil {
		router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient).Handler)
	} else {
		router.Use(middleware.NewRateLimitMiddleware().Handler)
	}
	router.Use(middleware.NewIdentityMiddleware(true).Handler)
	router.Use(httputil.ContentTypeMiddleware)
	router.Use(httputil.MaxBytesMiddleware(1 << 20))

	pm := authz.NewPermissionMiddleware(engine)
	orgsHandlers.RegisterRoutes(router, pm.RequirePermission(authz.KindOrganization, authz.ActionManageMembers))
	authzHandlers.RegisterRoutes(router, pm)
	return router
}

func buildHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, registry *prometheus.Registry) *http.Server {
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}

// startCleanupScheduler runs the invitation reaper on the configured cron
// schedule. Expired invitations are already invisible to acceptance; the
// reaper just keeps the table from growing without bound.
func startCleanupScheduler(cfg *config.Config, store *orgs.Store, metrics *observability.Metrics, logger *logrus.Logger) *cron.Cron {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(cfg.Invitations.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := store.CleanupExpiredInvitations(ctx)
		if err != nil {
			logger.WithError(err).Error("Invitation cleanup failed")
			return
		}
		if removed > 0 {
			logger.WithField("removed", removed).Info("Cleaned up expired invitations")
			if metrics != nil {
				metrics.InvitationsExpiredCleaned.Add(float64(removed))
			}
		}
	})
	if err != nil {
		logger.WithError(err).WithField("schedule", cfg.Invitations.CleanupSchedule).
			Error("Invalid cleanup schedule, invitation reaper disabled")
	}
	scheduler.Start()
	return scheduler
}

func pollDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(db)
		}
	}
}
