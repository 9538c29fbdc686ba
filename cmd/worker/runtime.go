package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fundhub/fundhub-engine/config"
	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/internal/application/eventhandler"
	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/messaging"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/postgres"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/redis"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/scheduler/jobs"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/service"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/metrics"
	"github.com/fundhub/fundhub-engine/pkg/retry"
	"github.com/fundhub/fundhub-engine/pkg/timeutil"
	"github.com/google/uuid"
)

// eventBus is what both bus flavours offer the worker.
type eventBus interface {
	shared.EventBus
	Wait()
	Close() error
}

// runtime holds the wired engine for one process.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	clock   timeutil.Clock

	db    *postgres.Connection
	cache *redis.Cache // nil without Redis

	events       *postgres.EventRepository
	achievements *postgres.AchievementRepository
	users        *postgres.UserRepository
	catalogue    achievement.Catalogue

	bus        eventBus
	deadLetter *messaging.DeadLetterQueue
	checker    *command.ConditionChecker
	tracker    *command.ProgressTracker
	locker     jobs.Locker
}

// runtimeOptions tunes newRuntime per command.
type runtimeOptions struct {
	// Async runs handlers on the bus worker pool. One-shot commands keep it
	// off so every reaction finishes before the process exits.
	Async bool

	// Handlers subscribes the engine handlers to the bus.
	Handlers bool
}

func newRuntime(ctx context.Context, cfg *config.Config, log *logger.Logger, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:        cfg,
		log:        log,
		clock:      timeutil.SystemClock{},
		deadLetter: messaging.NewDeadLetterQueue(1000),
	}
	if cfg.Observability.MetricsEnabled {
		rt.metrics = metrics.New()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────────

	db, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	rt.db = db
	rt.events = postgres.NewEventRepository(db)
	rt.achievements = postgres.NewAchievementRepository(db)
	rt.users = postgres.NewUserRepository(db)

	var catalogue achievement.Catalogue = achievement.NewRepositoryCatalogue(rt.achievements)
	if cfg.RedisEnabled() {
		cache, err := redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, running as a single instance", logger.Err(err))
		} else {
			rt.cache = cache
			rt.locker = redis.NewLocker(cache)
			catalogue = redis.NewCatalogueCache(catalogue, cache, cfg.Redis.CatalogueTTL, log)
		}
	}
	rt.catalogue = catalogue

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────

	local := messaging.InMemoryEventBusConfig{
		AsyncMode:      opts.Async,
		WorkerPoolSize: cfg.Engine.HandlerWorkers,
		Logger:         log,
		Middlewares:    rt.middlewares(),
	}
	if rt.cache != nil {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(rt.cache),
			ChannelName:    cfg.Redis.EventChannel,
			InstanceID:     instanceID(),
			LocalBusConfig: local,
			Logger:         log,
			// engine handlers mutate state, so only unlock notices travel
			ForwardTypes: []shared.EventType{shared.EventAchievementUnlocked},
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("start redis event bus: %w", err)
		}
		rt.bus = bus
	} else {
		rt.bus = messaging.NewInMemoryEventBus(local)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Engine
	// ─────────────────────────────────────────────────────────────────────────

	rt.checker = command.NewConditionChecker(rt.events, rt.bus, rt.clock, log, rt.metrics, command.DefaultConditionCheckerConfig())
	rt.tracker = command.NewProgressTracker(
		rt.catalogue,
		rt.achievements,
		service.NewUnlockPublisher(rt.bus, log),
		rt.clock, log, rt.metrics,
	)

	if opts.Handlers {
		if err := rt.subscribe(); err != nil {
			rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// middlewares wraps every handler. Dead-lettering sits outside the retry so
// only events that exhausted their attempts are recorded.
func (rt *runtime) middlewares() []messaging.Middleware {
	engine := rt.cfg.Engine
	return []messaging.Middleware{
		messaging.RecoveryMiddleware(rt.log),
		messaging.LoggingMiddleware(rt.log),
		messaging.MetricsMiddleware(rt.metrics),
		messaging.DeadLetterMiddleware(rt.deadLetter),
		messaging.RetryMiddleware(retry.New(
			retry.WithMaxAttempts(engine.HandlerRetries),
			retry.WithRetryIf(shared.IsRetryable),
		)),
		messaging.TimeoutMiddleware(engine.HandlerTimeout),
	}
}

func (rt *runtime) subscribe() error {
	trigger := eventhandler.NewConditionTrigger(rt.checker, rt.log, eventhandler.ConditionTriggerConfig{
		SweepOnCreate: rt.cfg.Engine.CheckTimeOnCreate,
	})
	if err := trigger.Subscribe(rt.bus); err != nil {
		return fmt.Errorf("subscribe condition trigger: %w", err)
	}

	manager := eventhandler.NewCriterionManager(rt.tracker, rt.log, eventhandler.CriterionManagerConfig{
		AutoInitialize: rt.cfg.Engine.AutoInitialize,
	})
	if err := manager.Subscribe(rt.bus); err != nil {
		return fmt.Errorf("subscribe criterion manager: %w", err)
	}

	// unlocks from every instance arrive here
	unlocks := rt.log.With(logger.Component("unlocks"))
	return rt.bus.Subscribe(shared.EventAchievementUnlocked, func(_ context.Context, evt shared.Event) error {
		unlocks.Info("achievement unlocked",
			logger.UserID(shared.PayloadString(evt, "user_id")),
			logger.AchievementID(shared.PayloadString(evt, "achievement_id")),
		)
		return nil
	})
}

// drain waits for in-flight handlers and reports what was dead-lettered.
func (rt *runtime) drain() {
	rt.bus.Wait()
	for _, entry := range rt.deadLetter.Entries() {
		rt.log.Error("event handler gave up",
			logger.String("event_type", string(entry.Event.EventType())),
			logger.String("aggregate_id", entry.Event.AggregateID()),
			logger.Err(entry.Error),
		)
	}
}

// Close releases everything newRuntime opened.
func (rt *runtime) Close() {
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			rt.log.Warn("failed to close event bus", logger.Err(err))
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.log.Warn("failed to close redis", logger.Err(err))
		}
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = c.URL
	pc.Host = c.Host
	pc.Port = c.Port
	pc.Database = c.Name
	pc.User = c.User
	pc.Password = c.Password
	pc.SSLMode = c.SSLMode
	pc.MaxConns = c.MaxConns
	pc.MinConns = c.MinConns
	pc.MaxConnLifetime = c.ConnMaxLifetime
	pc.MaxConnIdleTime = c.ConnMaxIdleTime
	pc.ConnectTimeout = c.ConnectTimeout
	return pc
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

func newLogger(c config.ObservabilityConfig) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(c.LogLevel)
	if logger.Format(c.LogFormat) == logger.FormatConsole {
		opts.Format = logger.FormatConsole
	}
	return logger.New(opts)
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
