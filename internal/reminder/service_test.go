package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/nudge/internal/delivery"
	"github.com/dohr-michael/nudge/internal/events"
	"github.com/dohr-michael/nudge/internal/notify"
	"github.com/dohr-michael/nudge/internal/scheduler"
	"github.com/dohr-michael/nudge/internal/task"
)

type noopStore struct{}

func (noopStore) Save(task.Task) error { return nil }
func (noopStore) Delete(string) error  { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []delivery.Message
	retracted []delivery.MessageRef
	sendErr   error
}

func (f *fakeTransport) Send(_ context.Context, msg delivery.Message) (delivery.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, msg)
	return delivery.MessageRef(fmt.Sprintf("ref-%d", len(f.sent))), nil
}

func (f *fakeTransport) Retract(_ context.Context, _ string, ref delivery.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retracted = append(f.retracted, ref)
	return nil
}

func (f *fakeTransport) messages() []delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Message(nil), f.sent...)
}

func (f *fakeTransport) messagesTo(recipient string) []delivery.Message {
	var out []delivery.Message
	for _, m := range f.messages() {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

// harness wires a full lifecycle stack over fakes.
type harness struct {
	svc   *Service
	sched *scheduler.Scheduler
	reg   *task.Registry
	tr    *fakeTransport
	clock *fakeClock
}

const operatorChat = "chat-operator"

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)}
	tr := &fakeTransport{}

	names := map[string]string{"lead": "Alice", "sales_a": "Bob"}
	recipients := map[string]Recipient{
		"lead":    {Name: "Alice", Address: "chat-lead"},
		"sales_a": {Name: "Bob", Address: "chat-sales-a"},
	}

	reg := task.NewRegistry(noopStore{})
	engine := delivery.NewEngine(tr, names, time.Second)
	bus := events.NewBus(64)
	sched := scheduler.New(scheduler.Config{
		Registry: reg,
		Engine:   engine,
		Bus:      bus,
		Now:      clock.Now,
	})
	svc := New(Config{
		Registry:        reg,
		Scheduler:       sched,
		Engine:          engine,
		Bus:             bus,
		Notifier:        notify.New(engine, names),
		Recipients:      recipients,
		Operator:        operatorChat,
		DefaultInterval: 30 * time.Minute,
		Now:             clock.Now,
	})
	return &harness{svc: svc, sched: sched, reg: reg, tr: tr, clock: clock}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCreateAssignedTask(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("review the mockups"))
	if err != nil {
		t.Fatalf("CreateAssignedTask: %v", err)
	}

	sent := h.tr.messagesTo("chat-lead")
	if len(sent) != 1 {
		t.Fatalf("expected immediate delivery, got %d messages", len(sent))
	}
	if !strings.HasPrefix(sent[0].Text, delivery.AssignmentBanner("Alice")) {
		t.Errorf("expected assignment banner, got %q", sent[0].Text)
	}
	if strings.Contains(sent[0].Text, delivery.ReminderBanner) {
		t.Errorf("first delivery must not carry the reminder banner: %q", sent[0].Text)
	}

	got, ok := h.reg.Get(id)
	if !ok {
		t.Fatal("task missing from registry")
	}
	if got.OriginRecipient != operatorChat {
		t.Errorf("OriginRecipient: got %q", got.OriginRecipient)
	}
	want := h.clock.Now().Add(30 * time.Minute)
	if got.NextDue == nil || !got.NextDue.Equal(want) {
		t.Errorf("NextDue: got %v, want %v", got.NextDue, want)
	}
	if got.LastMessage == "" {
		t.Error("LastMessage not recorded")
	}
}

func TestCreateAssignedTaskUnknownSelector(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateAssignedTask(context.Background(), "designer", task.TextPayload("x"))
	if !errors.Is(err, ErrUnknownSelector) {
		t.Fatalf("expected ErrUnknownSelector, got %v", err)
	}
	if len(h.tr.messages()) != 0 {
		t.Error("nothing may be sent for a rejected selector")
	}
	if h.reg.Len() != 0 {
		t.Error("no task may be created for a rejected selector")
	}
}

func TestCreateSelfReminder(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateSelfReminder(context.Background(), "chat-9", "call the dentist", "15:30")
	if err != nil {
		t.Fatalf("CreateSelfReminder: %v", err)
	}

	// No delivery until the requested time arrives.
	if len(h.tr.messages()) != 0 {
		t.Fatalf("premature delivery: %d messages", len(h.tr.messages()))
	}

	got, _ := h.reg.Get(id)
	want := time.Date(2026, 3, 16, 15, 30, 0, 0, time.UTC)
	if got.NextDue == nil || !got.NextDue.Equal(want) {
		t.Errorf("NextDue: got %v, want %v", got.NextDue, want)
	}
	if !strings.Contains(got.Payload.Text, "call the dentist") {
		t.Errorf("payload: %q", got.Payload.Text)
	}

	// The requested time arrives; delivery happens on the sweep.
	h.clock.Advance(3*time.Hour + 31*time.Minute)
	h.sched.Sweep()
	waitFor(t, func() bool { return len(h.tr.messagesTo("chat-9")) == 1 }, "reminder not delivered")
}

func TestCreateSelfReminderValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.svc.CreateSelfReminder(context.Background(), "chat-9", "", "15:30"); !errors.Is(err, ErrEmptyDescription) {
		t.Errorf("empty description: got %v", err)
	}
	if _, err := h.svc.CreateSelfReminder(context.Background(), "chat-9", "x", "soon"); !errors.Is(err, ErrBadWhen) {
		t.Errorf("bad when: got %v", err)
	}
	if _, err := h.svc.CreateSelfReminder(context.Background(), "chat-9", "x", "01.01 10:00"); !errors.Is(err, ErrPastWhen) {
		t.Errorf("past date: got %v", err)
	}
	if h.reg.Len() != 0 {
		t.Error("rejected requests must not create tasks")
	}
}

func TestReminderCadence(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("ship the release"))
	if err != nil {
		t.Fatalf("CreateAssignedTask: %v", err)
	}

	// Not due yet.
	h.clock.Advance(29 * time.Minute)
	h.sched.Sweep()
	time.Sleep(50 * time.Millisecond)
	if n := len(h.tr.messagesTo("chat-lead")); n != 1 {
		t.Fatalf("early re-send: %d messages", n)
	}

	// Cadence point passes: the old message is replaced by a reminder.
	h.clock.Advance(2 * time.Minute)
	h.sched.Sweep()
	waitFor(t, func() bool { return len(h.tr.messagesTo("chat-lead")) == 2 }, "first reminder missing")

	second := h.tr.messagesTo("chat-lead")[1]
	if !strings.Contains(second.Text, delivery.ReminderBanner) {
		t.Errorf("re-send lacks reminder banner: %q", second.Text)
	}

	h.tr.mu.Lock()
	retracted := len(h.tr.retracted)
	h.tr.mu.Unlock()
	if retracted != 1 {
		t.Errorf("previous message not retracted: %d retractions", retracted)
	}

	// And again half an hour later.
	waitFor(t, func() bool {
		got, _ := h.reg.Get(id)
		return got.NextDue != nil && got.NextDue.After(h.clock.Now())
	}, "task not re-armed")
	h.clock.Advance(31 * time.Minute)
	h.sched.Sweep()
	waitFor(t, func() bool { return len(h.tr.messagesTo("chat-lead")) == 3 }, "second reminder missing")
}

func TestMarkDone(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("review the mockups"))
	if err != nil {
		t.Fatalf("CreateAssignedTask: %v", err)
	}

	if err := h.svc.MarkDone(context.Background(), id, "chat-lead"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	if _, ok := h.reg.Get(id); ok {
		t.Error("completed task still in registry")
	}

	notices := h.tr.messagesTo(operatorChat)
	if len(notices) != 1 {
		t.Fatalf("completion notices: got %d, want 1", len(notices))
	}
	if !strings.Contains(notices[0].Text, "Alice completed the task") {
		t.Errorf("notice text: %q", notices[0].Text)
	}
	if !strings.Contains(notices[0].Text, "review the mockups") {
		t.Errorf("notice missing summary: %q", notices[0].Text)
	}

	// Completion is terminal: the second attempt reports not found and
	// sends nothing.
	if err := h.svc.MarkDone(context.Background(), id, "chat-lead"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkDone: got %v", err)
	}
	if len(h.tr.messagesTo(operatorChat)) != 1 {
		t.Error("duplicate completion notice")
	}

	// No reminders for a completed task, ever.
	h.clock.Advance(2 * time.Hour)
	h.sched.Sweep()
	time.Sleep(50 * time.Millisecond)
	if n := len(h.tr.messagesTo("chat-lead")); n != 1 {
		t.Errorf("completed task re-delivered: %d messages", n)
	}
}

func TestMarkDoneSelfReminderNoNotice(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateSelfReminder(context.Background(), "chat-9", "water the plants", "23:00")
	if err != nil {
		t.Fatalf("CreateSelfReminder: %v", err)
	}
	if err := h.svc.MarkDone(context.Background(), id, "chat-9"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if len(h.tr.messagesTo(operatorChat)) != 0 {
		t.Error("self reminders have no origin recipient to notify")
	}
}

func TestFirstDeliveryPermanentFailureBlocks(t *testing.T) {
	h := newHarness(t)
	h.tr.sendErr = fmt.Errorf("api: %w", delivery.ErrRecipientUnreachable)

	id, err := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("x"))
	if err == nil {
		t.Fatal("expected error for unreachable recipient")
	}
	if id == "" {
		t.Fatal("task id must still be returned for the created record")
	}

	got, ok := h.reg.Get(id)
	if !ok {
		t.Fatal("blocked task must be retained")
	}
	if got.Status != task.StatusBlocked {
		t.Errorf("Status: got %q, want %q", got.Status, task.StatusBlocked)
	}
	if got.NextDue != nil {
		t.Errorf("blocked task must be disarmed, NextDue=%v", got.NextDue)
	}
}

func TestFirstDeliveryTransientFailureStillArms(t *testing.T) {
	h := newHarness(t)
	h.tr.sendErr = errors.New("rate limited")

	id, err := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("x"))
	if err != nil {
		t.Fatalf("transient failure must not fail creation: %v", err)
	}

	got, _ := h.reg.Get(id)
	if got.Status != task.StatusActive {
		t.Fatalf("Status: got %q", got.Status)
	}
	if got.NextDue == nil {
		t.Fatal("task must be armed for the sweep to retry")
	}

	// The sweep picks it up once the transport recovers.
	h.tr.mu.Lock()
	h.tr.sendErr = nil
	h.tr.mu.Unlock()
	h.clock.Advance(31 * time.Minute)
	h.sched.Sweep()
	waitFor(t, func() bool { return len(h.tr.messagesTo("chat-lead")) == 1 }, "retry missing")
}

func TestUnblock(t *testing.T) {
	h := newHarness(t)
	h.tr.sendErr = fmt.Errorf("api: %w", delivery.ErrRecipientUnreachable)

	id, _ := h.svc.CreateAssignedTask(context.Background(), "lead", task.TextPayload("x"))

	h.tr.mu.Lock()
	h.tr.sendErr = nil
	h.tr.mu.Unlock()

	if err := h.svc.Unblock(context.Background(), id); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	got, _ := h.reg.Get(id)
	if got.Status != task.StatusActive {
		t.Errorf("Status: got %q", got.Status)
	}
	if got.NextDue == nil || got.NextDue.After(h.clock.Now()) {
		t.Errorf("unblocked task must be due immediately, NextDue=%v", got.NextDue)
	}

	// Unblocking an active task is rejected.
	if err := h.svc.Unblock(context.Background(), id); !errors.Is(err, ErrAlreadyInactive) {
		t.Errorf("second Unblock: got %v", err)
	}

	// The next sweep delivers it.
	h.sched.Sweep()
	waitFor(t, func() bool { return len(h.tr.messagesTo("chat-lead")) == 1 }, "unblocked task not delivered")
}

func TestCreateRecurring(t *testing.T) {
	h := newHarness(t)

	id, err := h.svc.CreateRecurring(context.Background(), "invoice_clients", "sales_a", "send invoices")
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}

	got, _ := h.reg.Get(id)
	if !got.Origin.IsRule() {
		t.Errorf("Origin: got %q", got.Origin)
	}
	if got.OriginRecipient != "" {
		t.Errorf("rule tasks have no origin recipient, got %q", got.OriginRecipient)
	}

	sent := h.tr.messagesTo("chat-sales-a")
	if len(sent) != 1 {
		t.Fatalf("expected immediate delivery, got %d", len(sent))
	}
	if !strings.HasPrefix(sent[0].Text, delivery.NewTaskBanner) {
		t.Errorf("expected new-task banner, got %q", sent[0].Text)
	}

	if _, err := h.svc.CreateRecurring(context.Background(), "invoice_clients", "designer", "x"); !errors.Is(err, ErrUnknownSelector) {
		t.Errorf("unknown selector: got %v", err)
	}
}

func TestAnnounceStartup(t *testing.T) {
	h := newHarness(t)

	h.svc.AnnounceStartup(context.Background())
	notices := h.tr.messagesTo(operatorChat)
	if len(notices) != 1 || !strings.Contains(notices[0].Text, "started") {
		t.Errorf("startup notice: %+v", notices)
	}
}
