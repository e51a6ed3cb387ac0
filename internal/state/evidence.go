package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Evidence locates the per-spec evidence tree.
type Evidence struct {
	Root string
}

// CommandsDir holds guardrail telemetry for a spec.
func (e Evidence) CommandsDir(specID string) string {
	return filepath.Join(e.Root, "commands", specID)
}

// ConsensusDir holds consensus artifacts and synthesis exports for a spec.
func (e Evidence) ConsensusDir(specID string) string {
	return filepath.Join(e.Root, "consensus", specID)
}

// SpecDir holds run-level artifacts such as briefs, milestone frames and
// the verification report.
func (e Evidence) SpecDir(specID string) string {
	return filepath.Join(e.Root, "specs", specID)
}

// EnsureDir creates the evidence directories for a spec.
func (e Evidence) EnsureDir(specID string) error {
	for _, d := range []string{e.CommandsDir(specID), e.ConsensusDir(specID), e.SpecDir(specID)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating evidence dir %s: %w", d, err)
		}
	}
	return nil
}

// Size returns the total size in bytes of regular files under the evidence root.
// A missing root has size zero.
func (e Evidence) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(e.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == e.Root && os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// ErrEvidenceLimit is returned when the evidence tree exceeds its budget.
type ErrEvidenceLimit struct {
	Size, Limit int64
}

func (e *ErrEvidenceLimit) Error() string {
	return fmt.Sprintf("evidence footprint %.1f MB exceeds the %d MB limit",
		float64(e.Size)/(1024*1024), e.Limit/(1024*1024))
}

// CheckLimit returns *ErrEvidenceLimit when the tree is larger than limitMB.
// A limit of zero disables the check.
func (e Evidence) CheckLimit(limitMB int) error {
	if limitMB <= 0 {
		return nil
	}
	size, err := e.Size()
	if err != nil {
		return fmt.Errorf("measuring evidence: %w", err)
	}
	limit := int64(limitMB) * 1024 * 1024
	if size > limit {
		return &ErrEvidenceLimit{Size: size, Limit: limit}
	}
	return nil
}

// SkipRecord is the telemetry written for a stage disabled by pipeline.toml.
type SkipRecord struct {
	Command       string `json:"command"`
	SpecID        string `json:"specId"`
	Stage         string `json:"stage"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
	ConfigSource  string `json:"configSource"`
	Timestamp     string `json:"timestamp"`
	SchemaVersion string `json:"schemaVersion"`
}

// WriteSkipRecord writes speckit-<stage>_SKIPPED.json into the spec's
// commands dir and returns its path.
func (e Evidence) WriteSkipRecord(specID, stage, reason string, at time.Time) (string, error) {
	dir := e.CommandsDir(specID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	rec := SkipRecord{
		Command:       "speckit-" + stage,
		SpecID:        specID,
		Stage:         stage,
		Action:        "skipped",
		Reason:        reason,
		ConfigSource:  "pipeline.toml",
		Timestamp:     at.UTC().Format(time.RFC3339),
		SchemaVersion: "1.0",
	}
	path := filepath.Join(dir, fmt.Sprintf("speckit-%s_SKIPPED.json", stage))
	return path, WriteJSONAtomic(path, rec)
}
