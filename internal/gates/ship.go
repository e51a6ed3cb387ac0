package gates

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/state"
)

const aceMilestonePrefix = "ace_milestone_"

// ShipStatus classifies the ship gate result.
type ShipStatus int

const (
	ShipAllowed ShipStatus = iota
	ShipBlockedPrivateScratch
	ShipBlockedMissingArtifact
)

// ShipResult explains a ship gate decision.
type ShipResult struct {
	Status   ShipStatus
	Artifact string // missing artifact name when blocked on one
}

// Reason renders the block reason; empty when allowed.
func (r ShipResult) Reason() string {
	switch r.Status {
	case ShipBlockedPrivateScratch:
		return "Private scratch mode: switch capture mode to prompts_only/full_io to ship"
	case ShipBlockedMissingArtifact:
		return fmt.Sprintf("Ship blocked: missing required artifact: %s", r.Artifact)
	}
	return ""
}

// Decision converts the result to a gate decision. The ship gate never
// pauses.
func (r ShipResult) Decision() Decision {
	if r.Status == ShipAllowed {
		return Decision{Verdict: Allow}
	}
	return Decision{Verdict: Abort, Reason: r.Reason()}
}

// CheckShip enforces that a run only ships with durable capture, a
// clarification record and an ACE milestone frame.
func CheckShip(mode config.CaptureMode, evidence state.Evidence, specID string) ShipResult {
	if mode == config.CaptureNone {
		return ShipResult{Status: ShipBlockedPrivateScratch}
	}
	if !HasMaieutic(evidence, specID) {
		return ShipResult{Status: ShipBlockedMissingArtifact, Artifact: "Maieutic Spec"}
	}
	if !hasPrefixedJSON(evidence.SpecDir(specID), aceMilestonePrefix) {
		return ShipResult{Status: ShipBlockedMissingArtifact, Artifact: "ACE milestone frame"}
	}
	return ShipResult{Status: ShipAllowed}
}

// MilestoneFrame summarises a run at a shippable milestone.
type MilestoneFrame struct {
	SpecID    string    `json:"spec_id"`
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Completed []string  `json:"completed_stages"`
	Notes     []string  `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteMilestone persists an ace_milestone_<ts>.json frame and returns its
// path. Capture mode none writes nothing.
func WriteMilestone(mode config.CaptureMode, evidence state.Evidence, f MilestoneFrame) (string, error) {
	if !mode.Persists() {
		return "", nil
	}
	dir := evidence.SpecDir(f.SpecID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, aceMilestonePrefix+f.Timestamp.UTC().Format("20060102_150405")+".json")
	return path, state.WriteJSONAtomic(path, f)
}
