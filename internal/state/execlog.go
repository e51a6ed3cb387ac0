package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Execution event types.
const (
	EventRunStart        = "RunStart"
	EventStage0Start     = "Stage0Start"
	EventStage0Complete  = "Stage0Complete"
	EventStageStart      = "StageStart"
	EventStageComplete   = "StageComplete"
	EventPhaseTransition = "PhaseTransition"
	EventCompletionCheck = "CompletionCheck"
	EventRunComplete     = "RunComplete"
)

// ExecEvent is one line of the append-only execution log.
type ExecEvent struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	SpecID    string         `json:"spec_id"`
	Stage     string         `json:"stage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ExecLog appends execution events as JSON lines.
type ExecLog struct {
	mu   sync.Mutex
	path string
}

// OpenExecLog returns the execution log stored in runDir.
func OpenExecLog(runDir string) *ExecLog {
	return &ExecLog{path: filepath.Join(runDir, "execution.jsonl")}
}

// Path returns the log file location.
func (l *ExecLog) Path() string { return l.path }

// Append writes one event, stamping the time if unset.
func (l *ExecLog) Append(ev ExecEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// ReadExecLog returns every event in the log, or the events of one run when
// runID is non-empty. A missing log yields no events. Malformed lines are skipped.
func ReadExecLog(runDir, runID string) ([]ExecEvent, error) {
	f, err := os.Open(filepath.Join(runDir, "execution.jsonl"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []ExecEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev ExecEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if runID == "" || ev.RunID == runID {
			events = append(events, ev)
		}
	}
	return events, scanner.Err()
}
