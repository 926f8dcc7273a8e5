package delivery

import (
	"fmt"

	"github.com/dohr-michael/nudge/internal/task"
)

// Banners prefixed to outbound messages. Exported so the completion
// notifier can strip them from previews.
const (
	ReminderBanner = "‼️ Reminder ‼️\n"
	NewTaskBanner  = "\U0001f514 New task \U0001f514\n"
)

// AssignmentBanner builds the banner for an operator-assigned task.
func AssignmentBanner(recipientName string) string {
	return fmt.Sprintf("\U0001f514 New assignment for %s \U0001f514\n", recipientName)
}

// banner builds the prefix for a delivery. Assigned tasks carry the
// assignment banner on every send; everything else gets the new-task
// banner on first delivery and the reminder banner on re-sends.
func (e *Engine) banner(t task.Task, reminder bool) string {
	prefix := ""
	if reminder {
		prefix = ReminderBanner
	}
	switch {
	case t.Origin == task.OriginAssigned:
		return AssignmentBanner(e.recipientName(t)) + prefix
	case !reminder:
		return NewTaskBanner
	}
	return prefix
}

func (e *Engine) recipientName(t task.Task) string {
	if name, ok := e.names[t.Selector]; ok && name != "" {
		return name
	}
	return t.Recipient
}

// Render turns a task into a send instruction. Unknown payload kinds
// fall back to a text rendering that names the kind instead of
// failing.
func (e *Engine) Render(t task.Task, reminder bool) Message {
	prefix := e.banner(t, reminder)
	msg := Message{
		Recipient:   t.Recipient,
		Kind:        t.Payload.Kind.Normalize(),
		CompleteRef: CompleteRef(t.ID),
	}

	switch msg.Kind {
	case task.KindText:
		msg.Text = prefix + t.Payload.Text
	case task.KindPhoto, task.KindDocument, task.KindVideo:
		msg.Text = prefix + t.Payload.Caption
		msg.Attachment = t.Payload.Attachment
	default:
		msg.Kind = task.KindText
		msg.Text = prefix + fmt.Sprintf("[unhandled content kind %q]\n", string(t.Payload.Kind)) + t.Payload.Text
	}
	return msg
}
