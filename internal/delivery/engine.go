package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/nudge/internal/task"
)

// DefaultTimeout bounds a single transport call.
const DefaultTimeout = 10 * time.Second

// Engine renders and sends tasks through the transport.
type Engine struct {
	transport Transport
	names     map[string]string // selector -> display name
	timeout   time.Duration
}

// NewEngine creates a delivery engine. names maps recipient-rule
// selectors to display names used in assignment banners; timeout
// bounds each transport call (DefaultTimeout when zero).
func NewEngine(transport Transport, names map[string]string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if names == nil {
		names = map[string]string{}
	}
	return &Engine{transport: transport, names: names, timeout: timeout}
}

// Deliver renders and sends the task, returning a reference to the
// sent message. The error taxonomy is the transport's: use Permanent
// to decide whether the task must be blocked. Deliver never mutates
// task state; that is the caller's job.
func (e *Engine) Deliver(ctx context.Context, t task.Task, reminder bool) (MessageRef, error) {
	msg := e.Render(t, reminder)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ref, err := e.transport.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("deliver task %s: %w", t.ID, err)
	}

	slog.Info("delivery: sent", "id", t.ID, "recipient", t.Recipient,
		"kind", msg.Kind, "reminder", reminder)
	return ref, nil
}

// Retract removes a previously delivered message. Best effort: the
// error is logged, never raised, since the message may already be gone.
func (e *Engine) Retract(ctx context.Context, t task.Task) {
	if t.LastMessage == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.transport.Retract(ctx, t.Recipient, MessageRef(t.LastMessage)); err != nil {
		slog.Warn("delivery: retract failed", "id", t.ID,
			"ref", t.LastMessage, "error", err)
	}
}

// Notify sends a plain text message outside the task lifecycle, such
// as completion notices and the startup message.
func (e *Engine) Notify(ctx context.Context, recipient, text string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	_, err := e.transport.Send(ctx, Message{
		Recipient: recipient,
		Kind:      task.KindText,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("notify %s: %w", recipient, err)
	}
	return nil
}
