package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/nudge/internal/events"
)

// Creator funnels a fired rule into the normal task creation path.
// Implemented by reminder.Service.
type Creator interface {
	CreateRecurring(ctx context.Context, rule, selector, body string) (string, error)
}

// FiringLog records the last date each rule fired so a rule fires at
// most once per calendar day, even across restarts. Implemented by
// store.Store.
type FiringLog interface {
	LastFired(rule string) (string, error)
	MarkFired(rule, date string) error
}

// DefaultDailyAt is when the monthly rules are evaluated each day.
const DefaultDailyAt = "10:01"

// Config holds dependencies for the generator.
type Config struct {
	Rules    Rules
	Creator  Creator
	Firings  FiringLog
	Bus      *events.Bus
	Location *time.Location
	DailyAt  string // HH:MM of the daily monthly evaluation

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type compiledWeekly struct {
	rule WeeklyRule
	expr *CronExpr
}

// Generator runs the calendar evaluators.
type Generator struct {
	weekly    []compiledWeekly
	monthly   []MonthlyRule
	creator   Creator
	firings   FiringLog
	bus       *events.Bus
	loc       *time.Location
	dailyHour int
	dailyMin  int
	now       func() time.Time

	done chan struct{}
	once sync.Once
}

// New compiles the rule set into a generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DailyAt == "" {
		cfg.DailyAt = DefaultDailyAt
	}

	hour, min, err := parseClock(cfg.DailyAt)
	if err != nil {
		return nil, fmt.Errorf("daily evaluation time: %w", err)
	}

	g := &Generator{
		monthly:   cfg.Rules.Monthly,
		creator:   cfg.Creator,
		firings:   cfg.Firings,
		bus:       cfg.Bus,
		loc:       cfg.Location,
		dailyHour: hour,
		dailyMin:  min,
		now:       cfg.Now,
		done:      make(chan struct{}),
	}

	for _, r := range cfg.Rules.Weekly {
		expr, err := ParseCron(r.Spec)
		if err != nil {
			return nil, fmt.Errorf("weekly rule %s: %w", r.Name, err)
		}
		g.weekly = append(g.weekly, compiledWeekly{rule: r, expr: expr})
	}
	return g, nil
}

// Start begins the calendar loop.
func (g *Generator) Start() {
	slog.Info("recurring generator started",
		"weekly_rules", len(g.weekly), "monthly_rules", len(g.monthly))
	go g.loop()
}

// Stop halts the calendar loop.
func (g *Generator) Stop() {
	g.once.Do(func() { close(g.done) })
	slog.Info("recurring generator stopped")
}

func (g *Generator) loop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick checks the weekly triggers and, at the daily evaluation point,
// the monthly rules. The firing log makes every check idempotent
// within a calendar day, so overlapping ticks or a restart cannot
// double-fire a rule.
func (g *Generator) Tick() {
	now := g.now().In(g.loc)

	for _, cw := range g.weekly {
		if !cw.expr.Matches(now) {
			continue
		}
		g.fire(cw.rule.Name, cw.rule.Selector, cw.rule.Body, now)
	}

	if now.Hour() == g.dailyHour && now.Minute() == g.dailyMin {
		g.EvaluateMonthly(now)
	}
}

// EvaluateMonthly fires every monthly rule that matches the given
// date. Runs once per day in normal operation; extra invocations are
// harmless because fired rules are skipped.
func (g *Generator) EvaluateMonthly(now time.Time) {
	now = now.In(g.loc)
	day := now.Day()
	last := lastDayOfMonth(now)
	slog.Info("recurring: daily monthly evaluation",
		"date", now.Format("2006-01-02"), "last_day", last)

	for _, r := range g.monthly {
		if r.LastDay {
			if day != last {
				continue
			}
		} else if r.Day != day {
			continue
		}

		body := renderBody(r.Body, day)
		for _, selector := range r.Selectors {
			g.fire(r.Name+":"+selector, selector, body, now)
		}
	}
}

// fire creates one task for a rule occurrence unless it already fired
// today.
func (g *Generator) fire(key, selector, body string, now time.Time) {
	date := now.Format("2006-01-02")

	fired, err := g.firings.LastFired(key)
	if err != nil {
		slog.Error("recurring: read firing log", "rule", key, "error", err)
		return
	}
	if fired == date {
		return
	}

	ruleName, _, _ := strings.Cut(key, ":")
	taskID, err := g.creator.CreateRecurring(context.Background(), ruleName, selector, body)
	if err != nil {
		slog.Warn("recurring: rule skipped", "rule", key, "error", err)
		return
	}

	if err := g.firings.MarkFired(key, date); err != nil {
		slog.Error("recurring: record firing", "rule", key, "error", err)
	}

	slog.Info("recurring: rule fired", "rule", key, "selector", selector, "task_id", taskID)
	g.bus.Publish(events.NewEvent(events.EventRuleFired, events.SourceRecurring, map[string]any{
		"rule":     key,
		"selector": selector,
		"task_id":  taskID,
	}))
}

func parseClock(s string) (hour, min int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	min, err = strconv.Atoi(mm)
	if err != nil || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, min, nil
}
