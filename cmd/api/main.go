// Command api runs the courses service: course CRUD plus membership
// synchronization against the users service.
//
// Usage:
//
//	api                  serve HTTP
//	api -migrate up      apply pending migrations and exit
//	api -migrate down    roll back the last migration and exit
//	api -migrate status  print migration state and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nohelyvillegas/micro-cursos/config"
	"github.com/nohelyvillegas/micro-cursos/internal/application/catalog"
	"github.com/nohelyvillegas/micro-cursos/internal/application/membership"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/course"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/infrastructure/external/users"
	"github.com/nohelyvillegas/micro-cursos/internal/infrastructure/messaging"
	"github.com/nohelyvillegas/micro-cursos/internal/infrastructure/persistence/memory"
	"github.com/nohelyvillegas/micro-cursos/internal/infrastructure/persistence/postgres"
	redisstore "github.com/nohelyvillegas/micro-cursos/internal/infrastructure/persistence/redis"
	httpapi "github.com/nohelyvillegas/micro-cursos/internal/interface/http"
	"github.com/nohelyvillegas/micro-cursos/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	migrate := flag.String("migrate", "", "run migrations (up, down, status) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrate); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, migrate string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting course service",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"store", cfg.Store.Driver,
		"events", cfg.Events.Driver,
	)

	if migrate != "" {
		return runMigrations(ctx, cfg, log, migrate)
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Redis (store and/or event fan-out)
	// ─────────────────────────────────────────────────────────────────────────
	var redisClient *redisstore.Client
	if cfg.UsesRedis() {
		log.Info("connecting to Redis...", "addr", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		redisClient, err = redisstore.NewClient(ctx, redisConfig(cfg))
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing Redis connection...")
			_ = redisClient.Close()
		}()
		health.AddCheck("redis", handlers.NewPingCheck(redisClient))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Course store
	// ─────────────────────────────────────────────────────────────────────────
	var store course.Repository
	switch cfg.Store.Driver {
	case config.StorePostgres:
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(conn, log).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		store = postgres.NewCourseRepository(conn)
		health.AddCheck("postgres", handlers.NewPingCheck(conn))

	case config.StoreRedis:
		store = redisstore.NewCourseStore(redisClient)

	case config.StoreMemory:
		log.Warn("using in-memory course store, data is lost on restart")
		store = memory.NewCourseStore()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Event bus
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	if err := bus.SubscribeAll(auditHandler(log)); err != nil {
		return fmt.Errorf("subscribe audit log: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Users service client
	// ─────────────────────────────────────────────────────────────────────────
	usersConfig := users.DefaultClientConfig(cfg.Users.BaseURL)
	usersConfig.Timeout = cfg.Users.Timeout
	usersConfig.MaxAttempts = cfg.Users.MaxAttempts
	usersConfig.InitialBackoff = cfg.Users.InitialBackoff
	usersConfig.BreakerFailureThreshold = cfg.Users.BreakerThreshold
	usersConfig.BreakerTimeout = cfg.Users.BreakerTimeout
	usersConfig.RateLimit = cfg.Users.RateLimit
	usersConfig.RateBurst = cfg.Users.RateBurst
	usersConfig.Logger = log
	usersClient := users.NewClient(usersConfig)

	// The catalog keeps working while the users service is down.
	health.AddOptionalCheck("users_service", handlers.NewPingCheck(usersClient))

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Application services
	// ─────────────────────────────────────────────────────────────────────────
	syncer := membership.NewSynchronizer(store, usersClient, bus, membership.Config{
		MaxConflictRetries: cfg.Membership.MaxConflictRetries,
		Logger:             log,
	})
	courses := catalog.NewService(store, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpapi.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.EnableCORS = cfg.HTTP.EnableCORS
	serverConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins

	server := httpapi.NewServer(serverConfig, httpapi.Dependencies{
		Catalog:       courses,
		Memberships:   syncer,
		Users:         usersClient,
		HealthChecker: health,
		Logger:        log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || (cfg.IsDevelopment() && cfg.Observability.LogFormat == "") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)

	return log
}

func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	pgConfig := postgres.DefaultConfig()
	pgConfig.URL = cfg.Database.URL
	pgConfig.Host = cfg.Database.Host
	pgConfig.Port = cfg.Database.Port
	pgConfig.Database = cfg.Database.Name
	pgConfig.User = cfg.Database.User
	pgConfig.Password = cfg.Database.Password
	pgConfig.SSLMode = cfg.Database.SSLMode
	pgConfig.MaxConns = int32(cfg.Database.MaxConns)
	pgConfig.MinConns = int32(cfg.Database.MinConns)
	pgConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgConfig.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, pgConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

func redisConfig(cfg *config.Config) redisstore.Config {
	rc := redisstore.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	return rc
}

func newEventBus(cfg *config.Config, redisClient *redisstore.Client, log *slog.Logger) (shared.EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = cfg.Events.Async
	if cfg.Events.Workers > 0 {
		local.WorkerPoolSize = cfg.Events.Workers
	}
	local.Logger = log

	if cfg.Events.Driver != config.EventsRedis {
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisPubSub(redisClient.Redis()),
		ChannelName:    cfg.Events.Channel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}
	return bus, nil
}

// auditHandler writes every membership event to the log.
func auditHandler(log *slog.Logger) shared.EventHandler {
	log = log.With("component", "audit")
	return func(event shared.Event) error {
		attrs := []any{
			"event_type", event.EventType(),
			"course_id", event.AggregateID(),
			"occurred_at", event.OccurredAt().Format(time.RFC3339),
		}
		for k, v := range event.Payload() {
			attrs = append(attrs, k, v)
		}
		log.Info("membership event", attrs...)
		return nil
	}
}

func runMigrations(ctx context.Context, cfg *config.Config, log *slog.Logger, action string) error {
	if cfg.Store.Driver != config.StorePostgres {
		return errors.New("migrations only apply to the postgres store")
	}

	conn, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn, log)

	switch action {
	case "up":
		return migrator.Migrate(ctx)
	case "down":
		return migrator.Rollback(ctx)
	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			state := "pending"
			if m.IsApplied {
				state = "applied " + m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%03d %-24s %s\n", m.Version, m.Name, state)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}
