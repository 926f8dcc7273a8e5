package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/nudge/internal/config"
	"github.com/dohr-michael/nudge/internal/delivery"
	"github.com/dohr-michael/nudge/internal/events"
	"github.com/dohr-michael/nudge/internal/gateway"
	"github.com/dohr-michael/nudge/internal/heartbeat"
	"github.com/dohr-michael/nudge/internal/notify"
	"github.com/dohr-michael/nudge/internal/recovery"
	"github.com/dohr-michael/nudge/internal/recurring"
	"github.com/dohr-michael/nudge/internal/reminder"
	"github.com/dohr-michael/nudge/internal/scheduler"
	"github.com/dohr-michael/nudge/internal/store"
	"github.com/dohr-michael/nudge/internal/task"
)

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the reminder engine",
		Action: runEngine,
	}
}

func runEngine(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(config.NudgePath(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	names := cfg.RecipientNames()
	engine := delivery.NewEngine(delivery.NewLogTransport(), names,
		cfg.Reminder.DeliveryTimeout.Duration())

	reg := task.NewRegistry(st)
	sched := scheduler.New(scheduler.Config{
		Registry: reg,
		Engine:   engine,
		Bus:      bus,
		Period:   cfg.Reminder.SweepInterval.Duration(),
	})

	recipients := make(map[string]reminder.Recipient, len(cfg.Recipients))
	for sel, r := range cfg.Recipients {
		recipients[sel] = reminder.Recipient{Name: r.Name, Address: r.Address}
	}

	svc := reminder.New(reminder.Config{
		Registry:        reg,
		Scheduler:       sched,
		Engine:          engine,
		Bus:             bus,
		Notifier:        notify.New(engine, names),
		Recipients:      recipients,
		Operator:        cfg.Operator,
		DefaultInterval: cfg.Reminder.DefaultInterval.Duration(),
		Location:        loc,
	})

	gen, err := recurring.New(recurring.Config{
		Rules:    cfg.RecurringRules(),
		Creator:  svc,
		Firings:  st,
		Bus:      bus,
		Location: loc,
		DailyAt:  cfg.Reminder.DailyRulesAt,
	})
	if err != nil {
		return err
	}

	// Reconciliation must finish before the sweep starts so nothing
	// armed in the past is missed.
	rearmed, err := recovery.Reconcile(reg, st, nil)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	slog.Info("recovery complete", "tasks", reg.Len(), "rearmed", rearmed)

	sched.Start()
	defer sched.Stop()
	gen.Start()
	defer gen.Stop()

	hb := heartbeat.NewWriter(config.HeartbeatPath())
	hb.Start()
	defer hb.Stop()

	svc.AnnounceStartup(ctx)

	srv := gateway.NewServer(svc, reg, bus, cfg.Gateway.Host, cfg.Gateway.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
