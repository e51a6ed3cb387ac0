package stages

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is one step of the spec-to-ship pipeline.
type Stage string

const (
	Plan      Stage = "plan"
	Tasks     Stage = "tasks"
	Implement Stage = "implement"
	Validate  Stage = "validate"
	Audit     Stage = "audit"
	Unlock    Stage = "unlock"
)

var order = []Stage{Plan, Tasks, Implement, Validate, Audit, Unlock}

// All returns the full pipeline in execution order.
func All() []Stage {
	out := make([]Stage, len(order))
	copy(out, order)
	return out
}

// PlanningOnly returns the stages of a planning-only run.
func PlanningOnly() []Stage {
	return []Stage{Plan, Tasks}
}

// From returns the catalog starting at the given stage.
func From(s Stage) ([]Stage, error) {
	for i, st := range order {
		if st == s {
			out := make([]Stage, len(order)-i)
			copy(out, order[i:])
			return out, nil
		}
	}
	return nil, fmt.Errorf("unknown stage %q", s)
}

// Parse resolves a stage name case-insensitively.
func Parse(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	for _, st := range order {
		if st == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q (must be one of plan, tasks, implement, validate, audit, unlock)", name)
}

// String returns the lowercase stage name.
func (s Stage) String() string { return string(s) }

// DisplayName returns the title-cased stage name used in documents and notices.
func (s Stage) DisplayName() string {
	return cases.Title(language.English).String(string(s))
}

// HighRisk reports whether the stage changes or verifies code, so its
// agent proposals are always exported.
func (s Stage) HighRisk() bool { return s == Implement || s == Validate }

// IsTerminal reports whether s is the last stage of a full run.
func (s Stage) IsTerminal() bool { return s == Unlock }

// GuardrailCommand is the command name a stage's guardrail telemetry must carry.
func (s Stage) GuardrailCommand() string {
	return "spec-ops-" + string(s)
}

// TelemetryPrefix is the filename prefix of the stage's guardrail telemetry.
func (s Stage) TelemetryPrefix() string {
	return string(s) + "_"
}

// SkipCommand is the command name written to skip telemetry.
func (s Stage) SkipCommand() string {
	return "speckit-" + string(s)
}

// DocumentName is the synthesized consensus document for the stage.
func (s Stage) DocumentName() string {
	return string(s) + ".md"
}

// ProducesFiles reports whether the stage's guardrail must point at evidence
// artifacts on disk.
func (s Stage) ProducesFiles() bool {
	switch s {
	case Plan, Tasks, Implement, Audit, Unlock:
		return true
	}
	return false
}
