package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// LogTransport writes outbound messages to the log instead of a real
// messaging channel. It is the default transport for standalone runs;
// production deployments plug in a chat transport.
type LogTransport struct {
	seq atomic.Uint64
}

// NewLogTransport creates a log-backed transport.
func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

// Send logs the message and returns a synthetic reference.
func (l *LogTransport) Send(_ context.Context, msg Message) (MessageRef, error) {
	ref := MessageRef(fmt.Sprintf("log-%d", l.seq.Add(1)))
	slog.Info("transport: send", "recipient", msg.Recipient, "kind", msg.Kind,
		"text", msg.Text, "attachment", msg.Attachment, "ref", ref)
	return ref, nil
}

// Retract logs the retraction.
func (l *LogTransport) Retract(_ context.Context, recipient string, ref MessageRef) error {
	slog.Info("transport: retract", "recipient", recipient, "ref", ref)
	return nil
}
