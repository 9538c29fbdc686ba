// Command worker runs the fundhub engine: it reacts to event deposits,
// sweeps time conditions on a schedule and tracks achievement progress.
// One-shot subcommands expose the same operations for operators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundhub/fundhub-engine/config"
	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fundhub-worker"
	app.Usage = "fundraising event engine and achievement tracker"
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env-file",
			Usage:   "dotenv files loaded before the environment is read",
			Value:   cli.NewStringSlice(".env"),
			EnvVars: []string{"FUNDHUB_ENV_FILE"},
		},
	}

	app.Commands = []*cli.Command{
		{
			Action:   runAction,
			Name:     "run",
			Usage:    "Run the engine until interrupted",
			Category: "engine",
			Description: "Subscribes the engine handlers, starts the time-condition and " +
				"active-event sweeps and serves /metrics when enabled.",
		},
		{
			Action:   sweepAction,
			Name:     "sweep",
			Usage:    "Run the scheduled sweeps once and exit",
			Category: "engine",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "time-only", Usage: "only check time conditions"},
			},
		},
		{
			Action:   migrateAction,
			Name:     "migrate",
			Usage:    "Apply database migrations and install the achievement catalogue",
			Category: "database",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "rollback", Usage: "roll back the latest migration"},
				&cli.BoolFlag{Name: "status", Usage: "print applied migrations"},
				&cli.StringFlag{Name: "catalogue", Usage: "catalogue JSON file (defaults to ENGINE_CATALOGUE_PATH)"},
			},
		},
		{
			Name:     "event",
			Usage:    "Manage fundraising events",
			Category: "operations",
			Subcommands: []*cli.Command{
				{
					Action: createEventAction,
					Name:   "create",
					Usage:  "Create an event from a JSON definition",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "file", Usage: "event definition, - for stdin", Required: true},
					},
				},
				{
					Action: startEventAction,
					Name:   "start",
					Usage:  "Move a pending event to IN_PROGRESS",
					Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				},
				{
					Action: cancelEventAction,
					Name:   "cancel",
					Usage:  "Cancel an event",
					Flags:  []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				},
				{
					Action: participateAction,
					Name:   "participate",
					Usage:  "Record a deposit into an event",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "event", Required: true},
						&cli.StringFlag{Name: "user", Required: true},
						&cli.StringFlag{Name: "amount", Required: true},
					},
				},
			},
		},
		{
			Name:     "user",
			Usage:    "Feed user signals",
			Category: "operations",
			Subcommands: []*cli.Command{
				{
					Action: activityAction,
					Name:   "activity",
					Usage:  "Record a daily activity signal",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "user", Required: true},
						&cli.TimestampFlag{Name: "at", Layout: "2006-01-02T15:04:05Z07:00", Usage: "signal time (default now)"},
					},
				},
				{
					Action: balanceAction,
					Name:   "balance",
					Usage:  "Record a new wallet balance",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "user", Required: true},
						&cli.StringFlag{Name: "amount", Required: true},
					},
				},
			},
		},
		{
			Action:   achievementsAction,
			Name:     "achievements",
			Usage:    "Print a user's achievements as JSON",
			Category: "operations",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Required: true},
				&cli.BoolFlag{Name: "unlocked", Usage: "only unlocked achievements"},
			},
		},
	}

	return app
}

// setup loads configuration and the logger shared by every command.
func setup(cctx *cli.Context) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cctx.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.Observability).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	return cfg, log, nil
}

// withRuntime wires a synchronous engine for one-shot commands and drains it
// before returning.
func withRuntime(cctx *cli.Context, fn func(context.Context, *runtime) error) error {
	cfg, log, err := setup(cctx)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rt, err := newRuntime(cctx.Context, cfg, log, runtimeOptions{Handlers: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	err = fn(cctx.Context, rt)
	rt.drain()
	return err
}
