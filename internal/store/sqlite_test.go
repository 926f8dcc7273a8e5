package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/nudge/internal/task"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStoreRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	due := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	in := task.Task{
		ID:        "task_abc123",
		Recipient: "chat-7",
		Payload: task.Payload{
			Kind:       task.KindPhoto,
			Attachment: "file-id-9",
			Caption:    "receipt",
		},
		Interval:        30 * time.Minute,
		NextDue:         &due,
		Status:          task.StatusActive,
		LastMessage:     "msg-44",
		Origin:          task.OriginAssigned,
		Selector:        "lead",
		OriginRecipient: "chat-1",
		CreatedAt:       created,
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll: got %d tasks, want 1", len(loaded))
	}
	got := loaded[0]

	if got.ID != in.ID || got.Recipient != in.Recipient {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Payload != in.Payload {
		t.Errorf("Payload: got %+v, want %+v", got.Payload, in.Payload)
	}
	if got.Interval != in.Interval {
		t.Errorf("Interval: got %v, want %v", got.Interval, in.Interval)
	}
	if got.NextDue == nil || !got.NextDue.Equal(due) {
		t.Errorf("NextDue: got %v, want %v", got.NextDue, due)
	}
	if got.Status != in.Status || got.Origin != in.Origin {
		t.Errorf("status/origin: got %q/%q", got.Status, got.Origin)
	}
	if got.LastMessage != in.LastMessage || got.Selector != in.Selector ||
		got.OriginRecipient != in.OriginRecipient {
		t.Errorf("field mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created)
	}
}

func TestStoreUpsert(t *testing.T) {
	s, _ := openTestStore(t)

	tk := task.Task{ID: "task_x", Recipient: "a", Payload: task.TextPayload("one"),
		Status: task.StatusActive, Origin: task.OriginSelf}
	if err := s.Save(tk); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tk.Payload.Text = "two"
	tk.Status = task.StatusBlocked
	if err := s.Save(tk); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	loaded, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d tasks, want 1", len(loaded))
	}
	if loaded[0].Payload.Text != "two" || loaded[0].Status != task.StatusBlocked {
		t.Errorf("upsert not applied: %+v", loaded[0])
	}
}

func TestStoreDeleteAbsent(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Delete("task_nope"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestStoreSkipsMalformedTimestamp(t *testing.T) {
	s, _ := openTestStore(t)

	good := task.Task{ID: "task_good", Recipient: "a", Payload: task.TextPayload("ok"),
		Status: task.StatusActive, Origin: task.OriginSelf}
	if err := s.Save(good); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, recipient, kind, interval_sec, next_due, status, origin)
		VALUES ('task_bad', 'b', 'text', 0, 'not-a-timestamp', 'active', 'self')`)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	loaded, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "task_good" {
		t.Fatalf("expected only the intact record, got %+v", loaded)
	}
}

func TestStoreMigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			kind TEXT NOT NULL,
			attachment TEXT,
			body TEXT,
			caption TEXT,
			interval_sec INTEGER NOT NULL,
			next_due TEXT,
			status TEXT NOT NULL,
			last_message TEXT,
			origin TEXT NOT NULL,
			selector TEXT
		);
		INSERT INTO tasks (id, recipient, kind, interval_sec, status, origin)
		VALUES ('task_old', 'a', 'text', 1800, 'active', 'self')`)
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open over old schema: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "task_old" {
		t.Fatalf("expected migrated record, got %+v", loaded)
	}

	// The added columns are now writable.
	up := loaded[0]
	up.OriginRecipient = "chat-1"
	up.CreatedAt = time.Now().UTC()
	if err := s.Save(up); err != nil {
		t.Fatalf("Save with added columns: %v", err)
	}
}

func TestStoreFiringLog(t *testing.T) {
	s, _ := openTestStore(t)

	fired, err := s.LastFired("monday_push_clients")
	if err != nil {
		t.Fatalf("LastFired: %v", err)
	}
	if fired != "" {
		t.Errorf("expected empty for never-fired rule, got %q", fired)
	}

	if err := s.MarkFired("monday_push_clients", "2026-03-16"); err != nil {
		t.Fatalf("MarkFired: %v", err)
	}
	fired, err = s.LastFired("monday_push_clients")
	if err != nil {
		t.Fatalf("LastFired: %v", err)
	}
	if fired != "2026-03-16" {
		t.Errorf("LastFired: got %q, want 2026-03-16", fired)
	}

	// Re-marking moves the date forward.
	if err := s.MarkFired("monday_push_clients", "2026-03-23"); err != nil {
		t.Fatalf("MarkFired again: %v", err)
	}
	fired, _ = s.LastFired("monday_push_clients")
	if fired != "2026-03-23" {
		t.Errorf("LastFired after update: got %q", fired)
	}
}
