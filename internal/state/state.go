package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusHalted    = "halted"
	StatusCancelled = "cancelled"
)

// State is the persisted snapshot of the most recent run for a spec. It is a
// read-only projection for status and doctor; the live run state is owned by
// the pipeline coordinator.
type State struct {
	SpecID     string    `json:"spec_id"`
	RunID      string    `json:"run_id,omitempty"`
	Branch     string    `json:"branch,omitempty"`
	Stages     []string  `json:"stages,omitempty"`
	StageIndex int       `json:"stage_index"`
	Phase      string    `json:"phase,omitempty"`
	Status     string    `json:"status"` // idle, running, paused, completed, halted, cancelled
	HaltReason string    `json:"halt_reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunDir returns the per-spec directory under the state root.
func RunDir(stateDir, specID string) string {
	return filepath.Join(stateDir, "runs", specID)
}

func statePath(runDir string) string {
	return filepath.Join(runDir, "state.json")
}

// Load reads the snapshot from a run directory. Returns an idle state if not found.
func Load(runDir string) (*State, error) {
	path := statePath(runDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{Status: StatusIdle}, nil
		}
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the snapshot to the run directory.
func (s *State) Save(runDir string) error {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	return WriteJSONAtomic(statePath(runDir), s)
}

// CurrentStage returns the stage at StageIndex, or "" once complete.
func (s *State) CurrentStage() string {
	if s.StageIndex < 0 || s.StageIndex >= len(s.Stages) {
		return ""
	}
	return s.Stages[s.StageIndex]
}
