package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/pomo-api/internal/config"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/phrazzld/pomo-api/internal/platform/postgres"
	snapshotcache "github.com/phrazzld/pomo-api/internal/platform/redis"
	"github.com/phrazzld/pomo-api/internal/push"
	"github.com/phrazzld/pomo-api/internal/service/auth"
	"github.com/phrazzld/pomo-api/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	logger *slog.Logger
	db     *sql.DB
	redis  *goredis.Client

	registry   *prometheus.Registry
	jwtService auth.JWTService

	emitter     *events.InMemoryEventEmitter
	engine      *session.Engine
	gateway     *push.Gateway
	coordinator *session.Coordinator
}

// sessionEventHandlers lists the emitter handlers in dispatch order. Handlers
// run on the session goroutine, so clients are served before the advisory
// cache write.
func sessionEventHandlers(gateway *push.Gateway, cache *snapshotcache.SnapshotCache) []events.EventHandler {
	handlers := []events.EventHandler{gateway}
	if cache != nil {
		handlers = append(handlers, cache)
	}
	return handlers
}

// newApplication wires the session engine, push gateway and their stores.
// The database connection must already be established.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	sessionStore := postgres.NewPostgresSessionStore(db, logger)
	taskStore := postgres.NewPostgresTaskStore(db, logger)
	app.emitter = events.NewInMemoryEventEmitter(logger)

	opts := []session.Option{session.WithMetrics(session.NewMetrics(app.registry))}
	var snapshots *snapshotcache.SnapshotCache

	if cfg.Redis.URL != "" {
		app.redis, err = snapshotcache.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache := snapshotcache.NewSnapshotCache(
			app.redis,
			time.Duration(cfg.Redis.SnapshotTTLSeconds)*time.Second,
			logger,
		)
		snapshots = cache
		opts = append(opts, session.WithSnapshotReader(cache))
		logger.Info("session snapshot cache enabled")
	}

	app.engine, err = session.NewEngine(
		session.NewConfig(cfg.Session),
		sessionStore,
		taskStore,
		app.emitter,
		logger,
		opts...,
	)
	if err != nil {
		app.closeRedis()
		return nil, fmt.Errorf("failed to create session engine: %w", err)
	}

	app.gateway = push.NewGateway(app.engine, push.NewMetrics(app.registry), logger)
	for _, h := range sessionEventHandlers(app.gateway, snapshots) {
		app.emitter.RegisterHandler(h)
	}

	app.coordinator = session.NewCoordinator(
		app.engine,
		time.Duration(cfg.Session.BroadcastIntervalMs)*time.Millisecond,
		logger,
	)

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run recovers orphaned sessions, starts the heartbeat and serves until ctx
// is canceled.
func (app *application) Run(ctx context.Context) error {
	if _, err := app.coordinator.Recover(ctx); err != nil {
		app.cleanup(context.WithoutCancel(ctx))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go app.coordinator.RunHeartbeat(heartbeatCtx)

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// shutdownTimeout bounds the HTTP drain and the session flush together.
func (app *application) shutdownTimeout() time.Duration {
	if app.config.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(app.config.Server.ShutdownTimeoutSeconds) * time.Second
}

// cleanup flushes live sessions and releases external connections.
func (app *application) cleanup(ctx context.Context) {
	if app.coordinator != nil {
		if err := app.coordinator.Shutdown(ctx); err != nil {
			app.logger.Error("Error flushing sessions", "error", err)
		}
	}

	app.closeRedis()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

func (app *application) closeRedis() {
	if app.redis == nil {
		return
	}
	if err := app.redis.Close(); err != nil {
		app.logger.Error("Error closing redis connection", "error", err)
	}
	app.redis = nil
}
