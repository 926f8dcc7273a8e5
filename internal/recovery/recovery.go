// Package recovery reloads persisted tasks on startup and re-arms
// anything still active.
package recovery

import (
	"log/slog"
	"time"

	"github.com/dohr-michael/nudge/internal/task"
)

// Loader is the store side of recovery. Implemented by store.Store.
type Loader interface {
	LoadAll() ([]task.Task, error)
}

// Reconcile loads every persisted task into the registry. Active tasks
// that were never armed, or whose next-due time has already passed,
// are re-armed for immediate delivery so nothing is silently lost
// across a restart. Blocked tasks are loaded untouched.
//
// The immediate re-arm bypasses the scheduler's zero-override rule on
// purpose: recovery applies to every origin.
func Reconcile(reg *task.Registry, loader Loader, now func() time.Time) (int, error) {
	if now == nil {
		now = time.Now
	}

	loaded, err := loader.LoadAll()
	if err != nil {
		return 0, err
	}
	reg.Load(loaded)
	slog.Info("recovery: tasks loaded", "count", len(loaded))

	rearmed := 0
	at := now()
	for _, t := range loaded {
		switch t.Status {
		case task.StatusActive:
			if t.NextDue == nil || t.NextDue.Before(at) {
				due := at
				t.NextDue = &due
				if err := reg.Update(t); err != nil {
					slog.Error("recovery: re-arm failed", "id", t.ID, "error", err)
					continue
				}
				rearmed++
				slog.Info("recovery: task re-armed for immediate delivery", "id", t.ID)
			}
		case task.StatusBlocked:
			slog.Warn("recovery: task remains delivery-blocked", "id", t.ID,
				"recipient", t.Recipient)
		}
	}

	return rearmed, nil
}
