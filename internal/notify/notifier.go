// Package notify sends completion summaries to the party that
// originated a task.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dohr-michael/nudge/internal/delivery"
	"github.com/dohr-michael/nudge/internal/task"
)

const maxSummaryLen = 200

// Notifier emits completion notices through the delivery engine.
type Notifier struct {
	engine *delivery.Engine
	names  map[string]string // selector -> display name
}

// New creates a notifier. names maps recipient-rule selectors to
// display names used in the notice text.
func New(engine *delivery.Engine, names map[string]string) *Notifier {
	if names == nil {
		names = map[string]string{}
	}
	return &Notifier{engine: engine, names: names}
}

// TaskCompleted sends a completion notice to the task's origin
// recipient. No-op when the task has none. Best effort: a failed
// notice is logged, not raised.
func (n *Notifier) TaskCompleted(ctx context.Context, t task.Task) {
	if t.OriginRecipient == "" {
		return
	}

	who := n.names[t.Selector]
	if who == "" {
		who = t.Recipient
	}

	text := fmt.Sprintf("✅ %s completed the task:\n%s", who, n.summary(t))
	if err := n.engine.Notify(ctx, t.OriginRecipient, text); err != nil {
		slog.Error("notify: completion notice failed",
			"task_id", t.ID, "recipient", t.OriginRecipient, "error", err)
		return
	}
	slog.Info("notify: completion notice sent",
		"task_id", t.ID, "recipient", t.OriginRecipient)
}

// summary builds a truncated preview of the task content with any
// delivery banners stripped.
func (n *Notifier) summary(t task.Task) string {
	var content string
	if t.Payload.Kind == task.KindText {
		content = t.Payload.Text
	} else {
		content = t.Payload.Caption
		if content == "" {
			content = fmt.Sprintf("(%s)", string(t.Payload.Kind))
		}
	}
	if content == "" {
		content = "(empty message)"
	}

	for _, banner := range []string{
		delivery.AssignmentBanner(n.names[t.Selector]),
		delivery.AssignmentBanner(t.Recipient),
		delivery.NewTaskBanner,
		delivery.ReminderBanner,
	} {
		content = strings.TrimPrefix(content, banner)
	}
	content = strings.TrimSpace(content)

	if r := []rune(content); len(r) > maxSummaryLen {
		content = string(r[:maxSummaryLen-3]) + "..."
	}
	return content
}
