// Package scheduler arms reminder times and runs the periodic sweep
// that re-delivers due tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dohr-michael/nudge/internal/delivery"
	"github.com/dohr-michael/nudge/internal/events"
	"github.com/dohr-michael/nudge/internal/task"
)

// DefaultSweepPeriod is how often the sweep scans for due tasks.
const DefaultSweepPeriod = 30 * time.Second

// Config holds dependencies for the scheduler.
type Config struct {
	Registry *task.Registry
	Engine   *delivery.Engine
	Bus      *events.Bus
	Period   time.Duration // sweep period (DefaultSweepPeriod when zero)

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Scheduler computes next-due times and periodically re-delivers
// tasks that have come due.
type Scheduler struct {
	reg    *task.Registry
	engine *delivery.Engine
	bus    *events.Bus
	period time.Duration
	now    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}

	done chan struct{}
	once sync.Once
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultSweepPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		reg:      cfg.Registry,
		engine:   cfg.Engine,
		bus:      cfg.Bus,
		period:   cfg.Period,
		now:      cfg.Now,
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Scheduler) Start() {
	slog.Info("scheduler started", "period", s.period)
	go s.sweepLoop()
}

// Stop halts the sweep loop. In-flight deliveries finish on their own
// bounded timeouts.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
	slog.Info("scheduler stopped")
}

// Arm schedules the next delivery of a task and persists it. With no
// override the task's standing interval applies. A zero override means
// "due immediately", but is honored only for self reminders and
// operator assignments; for every other origin a zero override falls
// back to the standing interval so an accidental zero cannot spin a
// task into immediate repeated delivery.
func (s *Scheduler) Arm(t task.Task, override *time.Duration) error {
	interval := t.Interval
	if override != nil {
		interval = *override
		if interval == 0 && t.Origin != task.OriginSelf && t.Origin != task.OriginAssigned {
			interval = t.Interval
		}
	}

	due := s.now().Add(interval)
	t.NextDue = &due
	if err := s.reg.Update(t); err != nil {
		return err
	}

	slog.Info("scheduler: armed", "id", t.ID, "due", due.Format(time.RFC3339))
	return nil
}

func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep scans a snapshot of active tasks and processes every task
// whose next-due time has passed. Each due task is handled in its own
// goroutine so one slow delivery does not delay the rest; a task is
// never processed by two sweeps at once.
func (s *Scheduler) Sweep() {
	now := s.now()
	for _, t := range s.reg.Active() {
		if t.NextDue == nil || t.NextDue.After(now) {
			continue
		}
		if !s.acquire(t.ID) {
			continue
		}
		go s.process(t.ID)
	}
}

func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// process re-delivers one due task: retract the previous message
// (best effort), send the reminder, then re-arm on success. A
// transient failure leaves next_due untouched so the task is retried
// on every sweep until it succeeds or is blocked.
func (s *Scheduler) process(id string) {
	defer s.release(id)
	ctx := context.Background()

	// Re-read: the task may have been completed or blocked since the
	// snapshot was taken.
	t, ok := s.reg.Get(id)
	if !ok || t.Status != task.StatusActive {
		return
	}
	if t.NextDue == nil || t.NextDue.After(s.now()) {
		return
	}

	s.engine.Retract(ctx, t)

	ref, err := s.engine.Deliver(ctx, t, true)
	if err != nil {
		if delivery.Permanent(err) {
			s.block(t, err)
			return
		}
		slog.Warn("scheduler: delivery failed, will retry next sweep",
			"id", t.ID, "error", err)
		return
	}

	// The recipient may have completed the task while the send was in
	// flight; Update refuses to resurrect a removed task.
	cur, ok := s.reg.Get(id)
	if !ok || cur.Status != task.StatusActive {
		slog.Info("scheduler: task finished mid-delivery, not re-arming", "id", id)
		return
	}
	cur.LastMessage = string(ref)
	due := s.now().Add(cur.Interval)
	cur.NextDue = &due
	if err := s.reg.Update(cur); err != nil {
		slog.Warn("scheduler: re-arm failed", "id", id, "error", err)
		return
	}

	s.bus.Publish(events.NewEvent(events.EventTaskDelivered, events.SourceScheduler, map[string]any{
		"task_id":   cur.ID,
		"recipient": cur.Recipient,
		"next_due":  due.Format(time.RFC3339),
	}))
}

// block marks a task permanently undeliverable. Blocked tasks are kept
// in the store but excluded from every future sweep until an operator
// clears them.
func (s *Scheduler) block(t task.Task, cause error) {
	t.Status = task.StatusBlocked
	t.NextDue = nil
	if err := s.reg.Update(t); err != nil {
		slog.Error("scheduler: persist block", "id", t.ID, "error", err)
		return
	}

	slog.Warn("scheduler: task blocked", "id", t.ID,
		"recipient", t.Recipient, "cause", cause)
	s.bus.Publish(events.NewEvent(events.EventTaskBlocked, events.SourceScheduler, map[string]any{
		"task_id":   t.ID,
		"recipient": t.Recipient,
		"cause":     cause.Error(),
	}))
}
