// Package telemetry records operational counters to a local JSON sink.
// Transport is deliberately out of scope; the file is the whole pipeline.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"nbgather/internal/logging"
)

// Data is the persisted telemetry document.
type Data struct {
	Version   string         `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
	Counts    map[string]int `json:"counts"`
}

// Tracker accumulates event counts and persists them to disk.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
	enabled  bool
	dirty    bool
}

// NewTracker creates a tracker persisting to the given path. Existing
// counts are loaded; a corrupt or missing file starts empty. A disabled
// tracker accepts counts and drops them.
func NewTracker(path string, enabled bool) (*Tracker, error) {
	t := &Tracker{
		filePath: path,
		enabled:  enabled,
		data: Data{
			Version: "1.0",
			Counts:  make(map[string]int),
		},
	}

	if !enabled {
		return t, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}

	if err := t.load(); err != nil {
		logging.Telemetry("starting with empty counts: %v", err)
	}
	return t, nil
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var loaded Data
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	if loaded.Counts == nil {
		loaded.Counts = make(map[string]int)
	}
	t.data = loaded
	return nil
}

// Count adds n occurrences of the event.
func (t *Tracker) Count(event string, n int) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Counts[event] += n
	t.dirty = true
}

// Get returns the accumulated count for an event.
func (t *Tracker) Get(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Counts[event]
}

// Snapshot returns a copy of all counts.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.data.Counts))
	for k, v := range t.data.Counts {
		out[k] = v
	}
	return out
}

// Flush writes the counts to disk if anything changed since the last write.
func (t *Tracker) Flush() error {
	if !t.enabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.dirty {
		return nil
	}

	t.data.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	// Write-then-rename so a crash never truncates the sink.
	tmp := t.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	if err := os.Rename(tmp, t.filePath); err != nil {
		return fmt.Errorf("replace telemetry: %w", err)
	}

	t.dirty = false
	logging.Telemetry("flushed %d counters", len(t.data.Counts))
	return nil
}

// Close flushes and shuts the tracker down.
func (t *Tracker) Close() error {
	return t.Flush()
}
