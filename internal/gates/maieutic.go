package gates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/state"
)

// MaieuticVersion is the schema version of persisted clarification records.
const MaieuticVersion = "1.0"

const maieuticPrefix = "maieutic_spec_"

// ElicitationMode records how clarification answers were collected.
type ElicitationMode string

const (
	ElicitInteractive ElicitationMode = "interactive"
	ElicitPreSupplied ElicitationMode = "pre_supplied"
)

// DelegationBounds is what automation may do without asking.
type DelegationBounds struct {
	AutoApproveFileWrites     bool     `json:"auto_approve_file_writes"`
	AutoApproveCommands       []string `json:"auto_approve_commands"`
	RequireApprovalFor        []string `json:"require_approval_for"`
	MaxIterationsWithoutCheck int      `json:"max_iterations_without_check"`
}

// BoundsFromAnswer maps a delegation answer (option letter or option text)
// to bounds. Unrecognised answers yield zero bounds.
func BoundsFromAnswer(answer string) DelegationBounds {
	a := strings.ToUpper(strings.TrimSpace(answer))
	if len(a) == 1 {
		a = map[string]string{"A": "FILE WRITES", "B": "FMT", "C": "ALL SAFE", "D": "NOTHING"}[a]
	}
	switch {
	case strings.Contains(a, "FILE WRITES"):
		return DelegationBounds{
			AutoApproveFileWrites:     true,
			AutoApproveCommands:       []string{"go fmt", "go vet"},
			RequireApprovalFor:        []string{"git push", "rm -rf"},
			MaxIterationsWithoutCheck: 5,
		}
	case strings.Contains(a, "FMT"):
		return DelegationBounds{
			AutoApproveCommands:       []string{"go fmt", "go vet"},
			RequireApprovalFor:        []string{},
			MaxIterationsWithoutCheck: 3,
		}
	case strings.Contains(a, "ALL SAFE"):
		return DelegationBounds{
			AutoApproveFileWrites:     true,
			AutoApproveCommands:       []string{"go fmt", "go vet", "go build", "go test"},
			RequireApprovalFor:        []string{"git push"},
			MaxIterationsWithoutCheck: 10,
		}
	case strings.Contains(a, "NOTHING"):
		return DelegationBounds{
			AutoApproveCommands: []string{},
			RequireApprovalFor:  []string{"*"},
		}
	}
	return DelegationBounds{}
}

// MaieuticSpec is the pre-flight clarification record: the goal,
// constraints and delegation contract for an automated run.
type MaieuticSpec struct {
	SpecID             string           `json:"spec_id"`
	RunID              string           `json:"run_id"`
	Timestamp          time.Time        `json:"timestamp"`
	Version            string           `json:"version"`
	Goal               string           `json:"goal"`
	Constraints        []string         `json:"constraints"`
	AcceptanceCriteria []string         `json:"acceptance_criteria"`
	Risks              []string         `json:"risks"`
	DelegationBounds   DelegationBounds `json:"delegation_bounds"`
	ElicitationMode    ElicitationMode  `json:"elicitation_mode"`
	DurationMS         int64            `json:"duration_ms"`
}

// SpecFromAnswers builds a record from answers keyed by question id.
// List answers are comma separated.
func SpecFromAnswers(specID, runID string, answers map[string]string, mode ElicitationMode, took time.Duration, at time.Time) *MaieuticSpec {
	goal := strings.TrimSpace(answers["goal"])
	if goal == "" {
		goal = "Not specified"
	}
	acceptance := splitList(answers["acceptance"])
	if len(acceptance) == 0 {
		acceptance = []string{"All tests pass"}
	}
	return &MaieuticSpec{
		SpecID:             specID,
		RunID:              runID,
		Timestamp:          at.UTC(),
		Version:            MaieuticVersion,
		Goal:               goal,
		Constraints:        splitList(answers["constraints"]),
		AcceptanceCriteria: acceptance,
		Risks:              splitList(answers["risks"]),
		DelegationBounds:   BoundsFromAnswer(answers["delegation"]),
		ElicitationMode:    mode,
		DurationMS:         took.Milliseconds(),
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects records too thin to drive automation.
func (m *MaieuticSpec) Validate() error {
	if strings.TrimSpace(m.Goal) == "" {
		return fmt.Errorf("clarification record missing goal")
	}
	if len(m.AcceptanceCriteria) == 0 {
		return fmt.Errorf("clarification record missing acceptance criteria")
	}
	return nil
}

// PersistMaieutic writes the record according to the capture mode and
// returns the evidence path. Capture mode none keeps the record in memory
// only and returns "". The capsule event is best-effort when store is nil.
func PersistMaieutic(m *MaieuticSpec, mode config.CaptureMode, evidence state.Evidence, store capsule.Store) (string, error) {
	if !mode.Persists() {
		return "", nil
	}
	dir := evidence.SpecDir(m.SpecID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, maieuticPrefix+m.Timestamp.Format("20060102_150405")+".json")
	if err := state.WriteJSONAtomic(path, m); err != nil {
		return "", fmt.Errorf("writing clarification record: %w", err)
	}
	if store == nil {
		return path, nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return path, err
	}
	if _, err := store.PutBytes(m.SpecID, m.RunID, capsule.ObjectArtifact, "maieutic/spec.json", payload); err != nil {
		return path, fmt.Errorf("storing clarification record: %w", err)
	}
	if _, err := store.EmitEvent(capsule.Event{
		Type:      capsule.EventMaieuticCompleted,
		SpecID:    m.SpecID,
		RunID:     m.RunID,
		Timestamp: m.Timestamp,
		Payload:   payload,
	}); err != nil {
		return path, fmt.Errorf("emitting clarification event: %w", err)
	}
	return path, nil
}

// HasMaieutic reports whether any clarification record exists in the
// spec's evidence dir.
func HasMaieutic(evidence state.Evidence, specID string) bool {
	return hasPrefixedJSON(evidence.SpecDir(specID), maieuticPrefix)
}

func hasPrefixedJSON(dir, prefix string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.json"))
	return err == nil && len(matches) > 0
}

// CheckClarification pauses for the pre-flight interview unless answers are
// attached or a record already exists.
func CheckClarification(evidence state.Evidence, specID string, answersAttached bool) Decision {
	if answersAttached || HasMaieutic(evidence, specID) {
		return Decision{Verdict: Allow}
	}
	return Decision{
		Verdict: Pause,
		Reason:  fmt.Sprintf("Clarification required for %s before automation starts", specID),
	}
}

// Option is one answer choice of a clarification question.
type Option struct {
	Label  rune
	Text   string
	Custom bool
}

// Question is one clarification prompt.
type Question struct {
	ID          string
	Category    string
	Text        string
	Options     []Option
	Required    bool
	MultiSelect bool
}

// DefaultQuestions is the fast-path clarification questionnaire.
func DefaultQuestions() []Question {
	return []Question{
		{
			ID: "goal", Category: "Goal", Required: true,
			Text: "What is the primary objective of this automation?",
			Options: []Option{
				{Label: 'A', Text: "Implement the full feature as specified"},
				{Label: 'B', Text: "Create a prototype/proof-of-concept"},
				{Label: 'C', Text: "Refactor existing code"},
				{Label: 'D', Text: "Custom...", Custom: true},
			},
		},
		{
			ID: "constraints", Category: "Constraints", Required: true, MultiSelect: true,
			Text: "What constraints are non-negotiable? (select all that apply)",
			Options: []Option{
				{Label: 'A', Text: "Must not modify existing public APIs"},
				{Label: 'B', Text: "Must maintain backward compatibility"},
				{Label: 'C', Text: "Must pass all existing tests"},
				{Label: 'D', Text: "Custom...", Custom: true},
			},
		},
		{
			ID: "acceptance", Category: "Acceptance", Required: true,
			Text: "How will you verify success?",
			Options: []Option{
				{Label: 'A', Text: "All tests pass (go test ./...)"},
				{Label: 'B', Text: "Manual verification"},
				{Label: 'C', Text: "Code review approval"},
				{Label: 'D', Text: "Custom...", Custom: true},
			},
		},
		{
			ID: "risks", Category: "Risks", MultiSelect: true,
			Text: "What risks concern you most?",
			Options: []Option{
				{Label: 'A', Text: "Breaking existing functionality"},
				{Label: 'B', Text: "Security vulnerabilities"},
				{Label: 'C', Text: "Performance regression"},
				{Label: 'D', Text: "None / Custom...", Custom: true},
			},
		},
		{
			ID: "delegation", Category: "Delegation", Required: true,
			Text: "What should run automatically without asking?",
			Options: []Option{
				{Label: 'A', Text: "File writes within docs/SPEC-*/"},
				{Label: 'B', Text: "go fmt and go vet"},
				{Label: 'C', Text: "All safe operations"},
				{Label: 'D', Text: "Nothing - approve everything"},
			},
		},
	}
}

// ResolveAnswer turns an option letter into its text. Custom and
// free-form answers are returned unchanged. Multi-select letters are
// comma separated ("A,C").
func (q Question) ResolveAnswer(answer string) string {
	answer = strings.TrimSpace(answer)
	if q.ID == "delegation" {
		return answer
	}
	var out []string
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 1 {
			if opt, ok := q.option(rune(strings.ToUpper(part)[0])); ok && !opt.Custom {
				out = append(out, opt.Text)
				continue
			}
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ", ")
}

func (q Question) option(label rune) (Option, bool) {
	for _, o := range q.Options {
		if o.Label == label {
			return o, true
		}
	}
	return Option{}, false
}
