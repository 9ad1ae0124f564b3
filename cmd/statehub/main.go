// Package main - точка входа координатора Academic State Hub.
//
// Процесс владеет хабом состояний учеников: агенты присылают ему команды
// (онбординг, частичные обновления профиля, дельты подсостояний, чтение
// снимков) в виде JSON-строк на stdin и получают по одной JSON-строке
// ответа на stdout. Логи пишутся в stderr.
//
// Хранилище: PostgreSQL при заданном DATABASE_URL, иначе память процесса.
// Redis (опционально): кеш снимков и рассылка событий между процессами.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alem-hub/academic-state-hub/config"
	"github.com/alem-hub/academic-state-hub/internal/application/command"
	"github.com/alem-hub/academic-state-hub/internal/application/query"
	"github.com/alem-hub/academic-state-hub/internal/application/statestore"
	"github.com/alem-hub/academic-state-hub/internal/domain/academic"
	"github.com/alem-hub/academic-state-hub/internal/domain/shared"
	"github.com/alem-hub/academic-state-hub/internal/infrastructure/messaging"
	"github.com/alem-hub/academic-state-hub/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/academic-state-hub/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/academic-state-hub/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/academic-state-hub/pkg/circuitbreaker"
	"github.com/alem-hub/academic-state-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	slog.SetDefault(log)
	log.Info("starting academic state hub",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"config_sources", cfg.LoadedFrom,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. РЕПОЗИТОРИЙ СОСТОЯНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	repo, closeRepo, err := setupRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально): кеш снимков и транспорт событий
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache    *redis.Cache
		snapshotCache academic.SnapshotCache
	)
	if !cfg.Redis.Disabled {
		redisCache, err = connectRedis(ctx, cfg, log)
		if err != nil {
			log.Warn("redis unavailable, snapshot cache and event fan-out disabled", "error", err)
		} else {
			defer func() {
				log.Info("closing redis connection...")
				_ = redisCache.Close()
			}()
			breaker := circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			})
			snapshotCache = redis.NewSnapshotCache(redisCache, cfg.Store.SnapshotTTL, redis.WithBreaker(breaker))
			log.Info("redis connection established", "addr", redisAddr(cfg))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := setupEventBus(cfg, redisCache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
		reportEventMetrics(log, bus)
	}()

	if err := bus.SubscribeAll(logEvent(log)); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ХАБ СОСТОЯНИЙ
	// ─────────────────────────────────────────────────────────────────────────
	hub, err := statestore.NewHub(statestore.Config{
		Repository:    repo,
		Cache:         snapshotCache,
		Events:        bus,
		Logger:        log,
		SubmitTimeout: cfg.Store.SubmitTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create state hub: %w", err)
	}
	defer func() { _ = hub.Close() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	d := &dispatcher{
		onboard:      command.NewOnboardStudentHandler(hub),
		submitUpdate: command.NewSubmitUpdateHandler(hub),
		applyDelta:   command.NewApplyDeltaHandler(hub),
		snapshot:     query.NewGetSnapshotHandler(hub),
		history:      query.NewGetHistoryHandler(hub),
		agenda:       query.NewAgendaHandler(hub),
		historyLimit: cfg.Store.HistoryLimit,
		logger:       log,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ОБРАБОТКА КОМАНД ДО EOF ИЛИ СИГНАЛА
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("academic state hub is running, reading commands from stdin")

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Serve(ctx, in, out)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("command stream: %w", err)
		}
		log.Info("command stream closed")
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("shutting down...", "timeout", cfg.App.ShutdownTimeout.String())
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timeout exceeded, in-flight command abandoned")
	}

	log.Info("academic state hub stopped", "open_stores", len(hub.Learners()))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.App.Debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With("app", cfg.App.Name)
}

func setupRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (academic.Repository, func(), error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty, using in-memory repository")
		return memory.NewStateRepository(), func() {}, nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	// Ошибка в DSN не лечится повторными попытками.
	if _, err := pgCfg.PoolConfig(); err != nil {
		return nil, nil, fmt.Errorf("invalid database config: %w", err)
	}

	log.Info("connecting to database...")
	conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if postgres.IsConnectRejected(err) {
			return nil, retry.Permanent(err)
		}
		return conn, err
	}, retry.DatabaseConnectOptions(func(attempt int, err error, delay time.Duration) {
		log.Warn("database connection failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeConn := func() {
		log.Info("closing database connection...")
		conn.Close()
	}

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		status, err := migrator.Status(ctx)
		if err != nil {
			log.Warn("failed to get migration status", "error", err)
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			log.Info("migrations completed", "applied", applied, "total", len(status))
		}
	}

	log.Info("database connection established")
	return postgres.NewStateRepository(conn), closeConn, nil
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) (*redis.Cache, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	log.Info("connecting to redis...", "addr", redisCfg.Addr())
	return retry.DoWithData(ctx, func(context.Context) (*redis.Cache, error) {
		return redis.NewCache(redisCfg)
	}, retry.CacheConnectOptions(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis connection failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})...)
}

func setupEventBus(cfg *config.Config, redisCache *redis.Cache, log *slog.Logger) (shared.EventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.AsyncMode = cfg.Events.Async
	local.WorkerPoolSize = cfg.Events.Workers
	local.Logger = log

	if redisCache == nil {
		log.Info("using in-memory event bus", "async", local.AsyncMode)
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         redis.NewPubSub(redisCache),
		ChannelName:    redis.PubSubChannel(cfg.Events.Channel),
		PublishTimeout: cfg.Store.SubmitTimeout,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis event bus: %w", err)
	}
	log.Info("using redis event bus", "channel", cfg.Events.Channel, "instance_id", bus.InstanceID())
	return bus, nil
}

// reportEventMetrics logs the counters the bus collected since start.
func reportEventMetrics(log *slog.Logger, bus shared.EventBus) {
	m, ok := bus.(interface {
		Metrics() *messaging.EventBusMetrics
	})
	if !ok || m.Metrics() == nil {
		return
	}
	log.Info("event bus metrics", "events", m.Metrics().Snapshot())
}

// logEvent records every state event at debug level, including those
// forwarded from other processes.
func logEvent(log *slog.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		log.Debug("state event",
			"event_type", event.EventType(),
			"learner_id", event.AggregateID(),
			"correlation_id", event.Correlation(),
			"payload", event.Payload(),
		)
		return nil
	}
}
