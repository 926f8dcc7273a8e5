// Package task defines the reminder task model and the in-memory registry.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
//
// There is no "done" status: completing a task removes it from the
// registry and the store. Blocked tasks are kept until an operator
// clears them.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "delivery_blocked"
)

// Origin records how a task was created. Recurring rules use their
// rule name prefixed with "rule:".
type Origin string

const (
	OriginAssigned Origin = "assigned" // routed to a recipient by the operator
	OriginSelf     Origin = "self"     // self-service reminder
)

// RuleOrigin builds the origin tag for a recurring rule.
func RuleOrigin(rule string) Origin {
	return Origin("rule:" + rule)
}

// IsRule reports whether the origin came from a recurring rule.
func (o Origin) IsRule() bool {
	return strings.HasPrefix(string(o), "rule:")
}

// Task is a unit of work or reminder addressed to one recipient,
// tracked until completion.
type Task struct {
	ID        string  `json:"id"`
	Recipient string  `json:"recipient"`
	Payload   Payload `json:"payload"`

	// Interval is the cadence between repeated deliveries once active.
	Interval time.Duration `json:"interval"`

	// NextDue is the next scheduled delivery, nil until armed.
	NextDue *time.Time `json:"next_due,omitempty"`

	Status Status `json:"status"`

	// LastMessage references the most recently delivered message so it
	// can be retracted before a re-send. Best effort; may be empty.
	LastMessage string `json:"last_message,omitempty"`

	Origin Origin `json:"origin"`

	// OriginRecipient, when set, is notified once the task completes.
	OriginRecipient string `json:"origin_recipient,omitempty"`

	// Selector is the recipient-rule selector the task was routed
	// through, kept for audit and completion notices.
	Selector string `json:"selector,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
