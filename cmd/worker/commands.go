package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fundhub/fundhub-engine/config"
	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/internal/application/query"
	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/postgres"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/persistence/redis"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/scheduler"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/scheduler/jobs"
	"github.com/fundhub/fundhub-engine/internal/interface/ops"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

func runAction(cctx *cli.Context) error {
	cfg, log, err := setup(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting worker", logger.String("version", cfg.App.Version))

	rt, err := newRuntime(cctx.Context, cfg, log, runtimeOptions{
		Async:    cfg.Engine.AsyncHandlers,
		Handlers: true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := rt.scheduler()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cctx.Context)

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return sched.Stop()
		})
	} else {
		log.Warn("scheduler disabled, time conditions are only checked on event creation")
	}

	if rt.metrics != nil {
		srv := rt.opsServer(sched)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	log.Info("worker started",
		logger.Bool("redis", rt.cache != nil),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
		logger.Bool("async_handlers", cfg.Engine.AsyncHandlers),
	)

	<-ctx.Done()
	log.Info("shutting down")

	err = g.Wait()
	rt.drain()
	log.Info("worker stopped")
	return err
}

// opsServer exposes probes, metrics, job state and dead letters.
func (rt *runtime) opsServer(sched *scheduler.Scheduler) *ops.Server {
	health := ops.NewHealthChecker(rt.cfg.App.Version)
	health.AddCheck("postgres", ops.PingCheck(rt.db))
	if rt.cache != nil {
		health.AddCheck("redis", ops.PingCheck(rt.cache))
	}

	cfg := ops.DefaultConfig()
	cfg.Addr = rt.cfg.Observability.MetricsAddr
	return ops.NewServer(cfg, ops.Dependencies{
		Logger:      rt.log,
		Health:      health,
		Metrics:     rt.metrics.Handler(),
		Jobs:        sched,
		DeadLetters: rt.deadLetter,
	})
}

// scheduler registers both sweeps on their configured schedules.
func (rt *runtime) scheduler() (*scheduler.Scheduler, error) {
	sc := rt.cfg.Scheduler
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   rt.log,
		Metrics:  rt.metrics,
		Timezone: rt.cfg.App.Location,
	})

	timeCfg := jobs.DefaultCheckTimeConditionsConfig()
	timeCfg.Timeout = sc.TimeConditionsTimeout
	sweepCfg := jobs.DefaultSweepActiveEventsConfig()
	sweepCfg.Timeout = sc.SweepTimeout

	entries := []struct {
		job  scheduler.Job
		spec string
	}{
		{jobs.NewCheckTimeConditionsJob(rt.checker, rt.locker, rt.log, timeCfg), sc.TimeConditionsSchedule},
		{jobs.NewSweepActiveEventsJob(rt.checker, rt.locker, rt.log, sweepCfg), sc.SweepSchedule},
	}
	for _, e := range entries {
		schedule, err := scheduler.ParseSchedule(e.spec)
		if err != nil {
			return nil, fmt.Errorf("schedule for %s: %w", e.job.Name(), err)
		}
		if err := s.Register(e.job, schedule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func sweepAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		sched, err := rt.scheduler()
		if err != nil {
			return err
		}

		names := []string{"check_time_conditions"}
		if !cctx.Bool("time-only") {
			names = append(names, "sweep_active_events")
		}

		var errs []error
		for _, name := range names {
			result, err := sched.RunNow(ctx, name)
			if err != nil {
				return err
			}
			rt.log.Info("sweep finished",
				logger.String("job", name),
				logger.Latency(result.Duration),
				logger.Bool("success", result.Success),
			)
			if result.Error != nil {
				errs = append(errs, result.Error)
			}
		}
		return errors.Join(errs...)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DATABASE
// ══════════════════════════════════════════════════════════════════════════════

func migrateAction(cctx *cli.Context) error {
	cfg, log, err := setup(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cctx.Context
	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)

	switch {
	case cctx.Bool("status"):
		migrations, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			state := "pending"
			if m.IsApplied {
				state = m.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(cctx.App.Writer, "%03d  %-30s %s\n", m.Version, m.Name, state)
		}
		return nil

	case cctx.Bool("rollback"):
		if err := migrator.Rollback(ctx); err != nil {
			return err
		}
		log.Info("rolled back latest migration")
		return nil
	}

	if err := migrator.Migrate(ctx); err != nil {
		return err
	}
	log.Info("migrations applied")

	path := cctx.String("catalogue")
	if path == "" {
		path = cfg.Engine.CataloguePath
	}
	if path == "" {
		return nil
	}

	catalogue, err := loadCatalogueFile(path)
	if err != nil {
		return err
	}
	repo := postgres.NewAchievementRepository(conn)
	if err := repo.UpsertAchievements(ctx, catalogue...); err != nil {
		return fmt.Errorf("install catalogue: %w", err)
	}
	log.Info("achievement catalogue installed",
		logger.String("path", path), logger.Int("achievements", len(catalogue)))

	if cfg.RedisEnabled() {
		invalidateCatalogue(ctx, cfg, achievement.NewRepositoryCatalogue(repo), log)
	}
	return nil
}

// invalidateCatalogue drops the shared copy so running instances reload the
// new catalogue. On failure they pick it up once the cache ttl expires.
func invalidateCatalogue(ctx context.Context, cfg *config.Config, loader achievement.Catalogue, log *logger.Logger) {
	cache, err := redis.NewCache(redisConfig(cfg.Redis))
	if err != nil {
		log.Warn("cached catalogue not invalidated", logger.Err(err),
			logger.Duration("ttl", cfg.Redis.CatalogueTTL))
		return
	}
	defer cache.Close()

	if err := redis.NewCatalogueCache(loader, cache, cfg.Redis.CatalogueTTL, log).Invalidate(ctx); err != nil {
		log.Warn("cached catalogue not invalidated", logger.Err(err),
			logger.Duration("ttl", cfg.Redis.CatalogueTTL))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// eventFile is the JSON shape accepted by "event create".
type eventFile struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Policy  string `json:"policy"`
	Start   bool   `json:"start"`
	Groups  []struct {
		Type       string `json:"type"`
		Conditions []struct {
			Parameter string `json:"parameter"`
			Operator  string `json:"operator"`
			Value     string `json:"value"`
		} `json:"conditions"`
	} `json:"groups"`
}

func (f eventFile) command() command.CreateEventCommand {
	cmd := command.CreateEventCommand{
		OwnerID: f.OwnerID,
		Title:   f.Title,
		Type:    f.Type,
		Policy:  f.Policy,
		Start:   f.Start,
	}
	for _, g := range f.Groups {
		group := command.GroupInput{Type: g.Type}
		for _, c := range g.Conditions {
			group.Conditions = append(group.Conditions, command.ConditionInput{
				Parameter: c.Parameter,
				Operator:  c.Operator,
				Value:     c.Value,
			})
		}
		cmd.Groups = append(cmd.Groups, group)
	}
	return cmd
}

func createEventAction(cctx *cli.Context) error {
	data, err := readInput(cctx.String("file"))
	if err != nil {
		return err
	}
	var def eventFile
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("decode event definition: %w", err)
	}

	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		lifecycle := command.NewEventLifecycleHandler(rt.events, rt.bus, rt.clock, rt.log)
		evt, err := lifecycle.Create(ctx, def.command())
		if err != nil {
			return err
		}
		return printJSON(cctx, map[string]string{"id": evt.ID, "status": string(evt.Status)})
	})
}

func startEventAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		return command.NewEventLifecycleHandler(rt.events, rt.bus, rt.clock, rt.log).Start(ctx, cctx.String("id"))
	})
}

func cancelEventAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		return command.NewEventLifecycleHandler(rt.events, rt.bus, rt.clock, rt.log).Cancel(ctx, cctx.String("id"))
	})
}

func participateAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		h := command.NewRecordParticipationHandler(rt.events, rt.bus, rt.clock, rt.log)
		p, err := h.Handle(ctx, command.RecordParticipationCommand{
			EventID: cctx.String("event"),
			UserID:  cctx.String("user"),
			Amount:  cctx.String("amount"),
		})
		if err != nil {
			return err
		}
		return printJSON(cctx, map[string]string{"id": p.ID, "amount": p.Amount.String()})
	})
}

func activityAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		cmd := command.RecordActivityCommand{UserID: cctx.String("user")}
		if at := cctx.Timestamp("at"); at != nil {
			cmd.Timestamp = *at
		}
		h := command.NewRecordActivityHandler(rt.users, rt.bus, rt.clock, rt.cfg.App.Location, rt.log)
		result, err := h.Handle(ctx, cmd)
		if err != nil {
			return err
		}
		return printJSON(cctx, map[string]int{"current_streak": result.CurrentStreak, "best_streak": result.BestStreak})
	})
}

func balanceAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		h := command.NewChangeBalanceHandler(rt.users, rt.bus, rt.clock, rt.log)
		balance, err := h.Handle(ctx, command.ChangeBalanceCommand{
			UserID:  cctx.String("user"),
			Balance: cctx.String("amount"),
		})
		if err != nil {
			return err
		}
		return printJSON(cctx, map[string]string{"balance": balance.String()})
	})
}

func achievementsAction(cctx *cli.Context) error {
	return withRuntime(cctx, func(ctx context.Context, rt *runtime) error {
		views, err := query.NewGetUserAchievementsHandler(rt.catalogue, rt.achievements).Handle(ctx, query.GetUserAchievementsQuery{
			UserID:       cctx.String("user"),
			UnlockedOnly: cctx.Bool("unlocked"),
		})
		if err != nil {
			return err
		}
		return printJSON(cctx, views)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func printJSON(cctx *cli.Context, v any) error {
	enc := json.NewEncoder(cctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
