// Package delivery renders tasks into outbound messages and sends them
// through a pluggable transport.
package delivery

import (
	"context"
	"errors"

	"github.com/dohr-michael/nudge/internal/task"
)

// MessageRef is an opaque reference to a delivered message, used to
// retract it before a re-send.
type MessageRef string

// Message is a transport-agnostic send instruction. Exactly one of
// Text-only or Attachment+Text (caption) is populated depending on the
// payload kind.
type Message struct {
	Recipient  string    `json:"recipient"`
	Kind       task.Kind `json:"kind"`
	Text       string    `json:"text"`
	Attachment string    `json:"attachment,omitempty"`

	// CompleteRef identifies the completion control attached to the
	// message; the transport invokes it when the recipient marks the
	// task done.
	CompleteRef string `json:"complete_ref"`
}

// Transport is the external messaging channel. Implementations must
// honor context cancellation; both calls are given a bounded timeout
// by the caller.
type Transport interface {
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Retract(ctx context.Context, recipient string, ref MessageRef) error
}

// ErrRecipientUnreachable marks a permanent delivery failure: the
// recipient is blocked, deactivated, or nonexistent. Transports wrap
// it so the engine can stop retrying the task.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Permanent reports whether a delivery error is unrecoverable. Every
// other failure is treated as transient and retried on the next sweep.
func Permanent(err error) bool {
	return errors.Is(err, ErrRecipientUnreachable)
}

// CompleteRef builds the completion control reference for a task.
func CompleteRef(taskID string) string {
	return "done:" + taskID
}
