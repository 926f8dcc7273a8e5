// Package heartbeat provides liveness detection for the running engine.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Interval between heartbeat writes.
const Interval = 30 * time.Second

// Status represents the liveness state of the engine.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path    string
	started time.Time

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a heartbeat writer for path.
func NewWriter(path string) *Writer {
	return &Writer{
		path: path,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start writes an immediate heartbeat, then keeps writing every
// Interval until Stop is called.
func (w *Writer) Start() {
	w.started = time.Now()
	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the writer and removes the heartbeat file.
func (w *Writer) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
	os.Remove(w.path)
}

func (w *Writer) write() {
	data, err := json.Marshal(Heartbeat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	})
	if err != nil {
		return
	}

	// Atomic write: tmp + rename
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// Check reads a heartbeat file and returns the liveness status.
// maxAge determines how old a heartbeat can be before it counts as
// stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}
	return StatusAlive, &hb, nil
}
