// Package reminder wires the task registry, scheduler, and delivery
// engine into the task lifecycle operations: create, complete,
// unblock.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/nudge/internal/delivery"
	"github.com/dohr-michael/nudge/internal/events"
	"github.com/dohr-michael/nudge/internal/notify"
	"github.com/dohr-michael/nudge/internal/scheduler"
	"github.com/dohr-michael/nudge/internal/task"
)

// Completion errors.
var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyInactive = errors.New("task is not active")
)

// ErrUnknownSelector is returned when a recipient-rule selector has no
// configured recipient.
var ErrUnknownSelector = errors.New("unknown recipient selector")

// Recipient is one entry of the recipient directory.
type Recipient struct {
	Name    string
	Address string
}

// Config holds dependencies for the service.
type Config struct {
	Registry  *task.Registry
	Scheduler *scheduler.Scheduler
	Engine    *delivery.Engine
	Bus       *events.Bus
	Notifier  *notify.Notifier

	// Recipients maps recipient-rule selectors to directory entries.
	Recipients map[string]Recipient

	// Operator receives completion notices for assigned tasks and the
	// startup notice.
	Operator string

	// DefaultInterval is the standing reminder cadence for new tasks.
	DefaultInterval time.Duration

	Location *time.Location

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Service implements the inbound task lifecycle interface.
type Service struct {
	reg      *task.Registry
	sched    *scheduler.Scheduler
	engine   *delivery.Engine
	bus      *events.Bus
	notifier *notify.Notifier

	recipients map[string]Recipient
	operator   string
	interval   time.Duration
	loc        *time.Location
	now        func() time.Time
}

// New creates the service.
func New(cfg Config) *Service {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 30 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		reg:        cfg.Registry,
		sched:      cfg.Scheduler,
		engine:     cfg.Engine,
		bus:        cfg.Bus,
		notifier:   cfg.Notifier,
		recipients: cfg.Recipients,
		operator:   cfg.Operator,
		interval:   cfg.DefaultInterval,
		loc:        cfg.Location,
		now:        cfg.Now,
	}
}

// CreateAssignedTask routes a payload to the recipient behind the
// given selector, delivers it immediately, and arms the standing
// reminder cadence. The operator is notified when the task completes.
func (s *Service) CreateAssignedTask(ctx context.Context, selector string, payload task.Payload) (string, error) {
	rec, ok := s.recipients[selector]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSelector, selector)
	}

	t := task.Task{
		Recipient:       rec.Address,
		Payload:         payload,
		Interval:        s.interval,
		Origin:          task.OriginAssigned,
		OriginRecipient: s.operator,
		Selector:        selector,
	}
	if err := s.create(ctx, &t); err != nil {
		return "", err
	}
	return t.ID, s.deliverNew(ctx, t)
}

// CreateSelfReminder schedules a reminder the recipient set for
// themselves. The first delivery happens when the requested time
// arrives; afterwards the task repeats on the standing cadence until
// completed.
func (s *Service) CreateSelfReminder(ctx context.Context, recipient, description, when string) (string, error) {
	if description == "" {
		return "", ErrEmptyDescription
	}
	target, err := ParseWhen(when, s.now().In(s.loc))
	if err != nil {
		return "", err
	}

	t := task.Task{
		Recipient: recipient,
		Payload:   task.TextPayload("\U0001f5d3 Your reminder: " + description),
		Interval:  s.interval,
		Origin:    task.OriginSelf,
		NextDue:   &target,
	}
	if err := s.create(ctx, &t); err != nil {
		return "", err
	}

	slog.Info("service: self reminder scheduled", "id", t.ID,
		"recipient", recipient, "due", target.Format(time.RFC3339))
	return t.ID, nil
}

// CreateRecurring is the creation path used by the recurring-task
// generator. The created task is independent of the rule: completing
// or deleting it does not affect future firings.
func (s *Service) CreateRecurring(ctx context.Context, rule, selector, body string) (string, error) {
	rec, ok := s.recipients[selector]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSelector, selector)
	}

	t := task.Task{
		Recipient: rec.Address,
		Payload:   task.TextPayload(body),
		Interval:  s.interval,
		Origin:    task.RuleOrigin(rule),
		Selector:  selector,
	}
	if err := s.create(ctx, &t); err != nil {
		return "", err
	}
	return t.ID, s.deliverNew(ctx, t)
}

// create inserts and persists a new task and announces it on the bus.
func (s *Service) create(_ context.Context, t *task.Task) error {
	if err := s.reg.Create(t); err != nil {
		return err
	}
	s.bus.Publish(events.NewEvent(events.EventTaskCreated, events.SourceService, map[string]any{
		"task_id":   t.ID,
		"recipient": t.Recipient,
		"origin":    string(t.Origin),
	}))
	return nil
}

// deliverNew performs the first delivery of a task and arms the
// standing cadence. A transient send failure still arms the task so
// the sweep keeps retrying; a permanent failure blocks it instead.
func (s *Service) deliverNew(ctx context.Context, t task.Task) error {
	ref, err := s.engine.Deliver(ctx, t, false)
	switch {
	case err == nil:
		t.LastMessage = string(ref)
		if uerr := s.reg.Update(t); uerr != nil {
			slog.Warn("service: record first delivery", "id", t.ID, "error", uerr)
		}
	case delivery.Permanent(err):
		t.Status = task.StatusBlocked
		t.NextDue = nil
		if uerr := s.reg.Update(t); uerr != nil {
			slog.Error("service: persist block", "id", t.ID, "error", uerr)
		}
		s.bus.Publish(events.NewEvent(events.EventTaskBlocked, events.SourceService, map[string]any{
			"task_id": t.ID,
			"cause":   err.Error(),
		}))
		return err
	default:
		slog.Warn("service: first delivery failed, sweep will retry",
			"id", t.ID, "error", err)
	}

	return s.sched.Arm(t, nil)
}

// MarkDone completes a task: the delivered message is retracted, the
// record is removed from registry and store, and the origin recipient
// (if any) gets exactly one completion notice. Safe to call
// concurrently with an in-flight re-send for the same id.
func (s *Service) MarkDone(ctx context.Context, id, actor string) error {
	t, ok := s.reg.Get(id)
	if !ok {
		return ErrNotFound
	}
	if t.Status != task.StatusActive {
		return ErrAlreadyInactive
	}

	s.engine.Retract(ctx, t)

	// Remove is the linearization point: of two racing completions
	// only one passes, so the notice below goes out exactly once.
	if err := s.reg.Remove(id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	slog.Info("service: task completed", "id", id, "actor", actor, "origin", string(t.Origin))
	s.bus.Publish(events.NewEvent(events.EventTaskCompleted, events.SourceService, map[string]any{
		"task_id": id,
		"actor":   actor,
	}))

	s.notifier.TaskCompleted(ctx, t)
	return nil
}

// Unblock reactivates a delivery-blocked task and arms it for
// immediate delivery on the next sweep.
func (s *Service) Unblock(_ context.Context, id string) error {
	t, ok := s.reg.Get(id)
	if !ok {
		return ErrNotFound
	}
	if t.Status != task.StatusBlocked {
		return ErrAlreadyInactive
	}

	t.Status = task.StatusActive
	due := s.now()
	t.NextDue = &due
	if err := s.reg.Update(t); err != nil {
		return err
	}

	slog.Info("service: task unblocked", "id", id)
	s.bus.Publish(events.NewEvent(events.EventTaskUnblocked, events.SourceService, map[string]any{
		"task_id": id,
	}))
	return nil
}

// AnnounceStartup sends the best-effort "engine started" notice to the
// operator.
func (s *Service) AnnounceStartup(ctx context.Context) {
	if s.operator == "" {
		return
	}
	if err := s.engine.Notify(ctx, s.operator, "Reminder engine started."); err != nil {
		slog.Warn("service: startup notice failed", "error", err)
	}
	s.bus.Publish(events.NewEvent(events.EventEngineStarted, events.SourceService, nil))
}
