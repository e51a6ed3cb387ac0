package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TimingEntry struct {
	RunID    string    `json:"run_id"`
	Stage    string    `json:"stage"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration string    `json:"duration,omitempty"`
}

// Timing records per-stage wall-clock durations across runs of a spec.
type Timing struct {
	mu      sync.Mutex
	Entries []TimingEntry `json:"entries"`
}

func timingPath(runDir string) string {
	return filepath.Join(runDir, "timing.json")
}

// LoadTiming reads timing data from the run directory.
func LoadTiming(runDir string) (*Timing, error) {
	data, err := os.ReadFile(timingPath(runDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Timing{}, nil
		}
		return nil, err
	}
	var t Timing
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// AddStart appends a new timing entry for the given stage.
func (t *Timing) AddStart(runID, stage string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TimingEntry{RunID: runID, Stage: stage, Start: at})
}

// AddEnd closes the most recent open entry for the stage and returns its duration.
func (t *Timing) AddEnd(runID, stage string, at time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		e := &t.Entries[i]
		if e.RunID == runID && e.Stage == stage && e.End.IsZero() {
			e.End = at
			d := e.End.Sub(e.Start)
			e.Duration = FormatDuration(d)
			return d
		}
	}
	return 0
}

// Last returns the formatted duration of the latest completed entry for a stage.
func (t *Timing) Last(stage string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Stage == stage && t.Entries[i].Duration != "" {
			return t.Entries[i].Duration
		}
	}
	return ""
}

// Flush writes the in-memory timing data to disk.
func (t *Timing) Flush(runDir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	return WriteJSONAtomic(timingPath(runDir), t)
}

// FormatDuration renders d as "Xm YYs".
func FormatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
