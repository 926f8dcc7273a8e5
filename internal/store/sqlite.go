// Package store persists tasks and recurring-rule firings in sqlite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dohr-michael/nudge/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
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
	selector TEXT,
	origin_recipient TEXT,
	created_at TEXT
);
CREATE TABLE IF NOT EXISTS rule_firings (
	rule TEXT PRIMARY KEY,
	fired_on TEXT NOT NULL
);`

// columns added after the first release. Databases created by older
// versions gain them on open, so upgrades never lose data.
var addedColumns = map[string]string{
	"origin_recipient": "ALTER TABLE tasks ADD COLUMN origin_recipient TEXT",
	"created_at":       "ALTER TABLE tasks ADD COLUMN created_at TEXT",
}

// Store is the sqlite-backed task store. Single-process access; safe
// for concurrent use by in-process callers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path and brings the
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY between the sweep and the gateway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureColumns(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureColumns adds columns missing from databases created by older
// versions.
func (s *Store) ensureColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(tasks)`)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("inspect schema: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("inspect schema: %w", err)
	}
	rows.Close()

	for col, ddl := range addedColumns {
		if present[col] {
			continue
		}
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
		slog.Info("store: added column", "column", col)
	}
	return nil
}

// Save upserts a task by id.
func (s *Store) Save(t task.Task) error {
	var nextDue any
	if t.NextDue != nil {
		nextDue = t.NextDue.Format(time.RFC3339Nano)
	}
	var createdAt any
	if !t.CreatedAt.IsZero() {
		createdAt = t.CreatedAt.Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, recipient, kind, attachment, body, caption, interval_sec,
			 next_due, status, last_message, origin, selector, origin_recipient, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recipient = excluded.recipient,
			kind = excluded.kind,
			attachment = excluded.attachment,
			body = excluded.body,
			caption = excluded.caption,
			interval_sec = excluded.interval_sec,
			next_due = excluded.next_due,
			status = excluded.status,
			last_message = excluded.last_message,
			origin = excluded.origin,
			selector = excluded.selector,
			origin_recipient = excluded.origin_recipient,
			created_at = excluded.created_at`,
		t.ID, t.Recipient, string(t.Payload.Kind), t.Payload.Attachment,
		t.Payload.Text, t.Payload.Caption, int64(t.Interval/time.Second),
		nextDue, string(t.Status), t.LastMessage, string(t.Origin),
		t.Selector, t.OriginRecipient, createdAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Delete removes a task by id. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every persisted task. A record with a malformed
// timestamp is skipped and logged rather than aborting the load.
func (s *Store) LoadAll() ([]task.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, recipient, kind, attachment, body, caption, interval_sec,
		       next_due, status, last_message, origin, selector,
		       origin_recipient, created_at
		FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var (
			t           task.Task
			kind        string
			attachment  sql.NullString
			body        sql.NullString
			caption     sql.NullString
			intervalSec int64
			nextDue     sql.NullString
			status      string
			lastMsg     sql.NullString
			origin      string
			selector    sql.NullString
			originRcpt  sql.NullString
			createdAt   sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Recipient, &kind, &attachment, &body,
			&caption, &intervalSec, &nextDue, &status, &lastMsg, &origin,
			&selector, &originRcpt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Payload = task.Payload{
			Kind:       task.Kind(kind).Normalize(),
			Attachment: attachment.String,
			Text:       body.String,
			Caption:    caption.String,
		}
		t.Interval = time.Duration(intervalSec) * time.Second
		t.Status = task.Status(status)
		t.LastMessage = lastMsg.String
		t.Origin = task.Origin(origin)
		t.Selector = selector.String
		t.OriginRecipient = originRcpt.String

		if nextDue.Valid && nextDue.String != "" {
			due, err := time.Parse(time.RFC3339Nano, nextDue.String)
			if err != nil {
				slog.Error("store: malformed next_due, skipping task",
					"id", t.ID, "value", nextDue.String, "error", err)
				continue
			}
			t.NextDue = &due
		}
		if createdAt.Valid && createdAt.String != "" {
			created, err := time.Parse(time.RFC3339Nano, createdAt.String)
			if err != nil {
				slog.Error("store: malformed created_at, skipping task",
					"id", t.ID, "value", createdAt.String, "error", err)
				continue
			}
			t.CreatedAt = created
		}

		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return out, nil
}

// LastFired returns the date (YYYY-MM-DD) a recurring rule last fired,
// or "" if it never has.
func (s *Store) LastFired(rule string) (string, error) {
	var fired string
	err := s.db.QueryRow(`SELECT fired_on FROM rule_firings WHERE rule = ?`, rule).Scan(&fired)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last fired %s: %w", rule, err)
	}
	return fired, nil
}

// MarkFired records that a recurring rule fired on the given date.
func (s *Store) MarkFired(rule, date string) error {
	_, err := s.db.Exec(`
		INSERT INTO rule_firings (rule, fired_on) VALUES (?, ?)
		ON CONFLICT(rule) DO UPDATE SET fired_on = excluded.fired_on`,
		rule, date)
	if err != nil {
		return fmt.Errorf("mark fired %s: %w", rule, err)
	}
	return nil
}
