// Package gates decides whether a run may start, must pause for human input,
// or may ship.
package gates

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/jorge-barreto/speckit/internal/config"
)

// Verdict is the outcome of a gate check.
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Pause
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Warn:
		return "warn"
	case Pause:
		return "pause"
	default:
		return "abort"
	}
}

// Decision is a verdict with the lines to show the operator. Reason is the
// halt or pause message.
type Decision struct {
	Verdict  Verdict
	Messages []string
	Reason   string
}

// Proceed reports whether the run continues past the gate.
func (d Decision) Proceed() bool {
	return d.Verdict == Allow || d.Verdict == Warn
}

const (
	msgNoConstitution   = "No constitution defined. Run /speckit.constitution add to create one."
	msgNoMemories       = "Constitution defined but has no memories. Add principles or guardrails."
	msgNoGuardrails     = "Constitution has no guardrails defined."
	msgNoPrinciples     = "Constitution has no principles defined."
	msgConfigureHint    = "Run /speckit.constitution to configure."
	msgBlockedByMissing = `Pipeline aborted. Set phase1_gate_mode = "warn" to proceed without constitution.`
)

// ConstitutionReadiness inspects the constitution document and returns
// readiness warnings. An empty result means ready. Entries are the bullet
// items under headings naming principles or guardrails.
func ConstitutionReadiness(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{msgNoConstitution}
		}
		return []string{fmt.Sprintf("Failed to check constitution: %v", err)}
	}
	defer f.Close()

	var (
		section                string
		nonEmpty               bool
		principles, guardrails int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		nonEmpty = true
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(line)
			continue
		}
		if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
			continue
		}
		switch {
		case strings.Contains(section, "guardrail"):
			guardrails++
		case strings.Contains(section, "principle"):
			principles++
		}
	}
	if err := scanner.Err(); err != nil {
		return []string{fmt.Sprintf("Failed to check constitution: %v", err)}
	}

	switch {
	case !nonEmpty:
		return []string{msgNoConstitution}
	case principles+guardrails == 0:
		return []string{msgNoMemories}
	}
	var warnings []string
	if guardrails == 0 {
		warnings = append(warnings, msgNoGuardrails)
	}
	if principles == 0 {
		warnings = append(warnings, msgNoPrinciples)
	}
	return warnings
}

// CheckConfiguration applies the gate mode to the constitution readiness
// warnings.
func CheckConfiguration(mode config.GateMode, constitutionPath string) Decision {
	if mode == config.GateSkip {
		return Decision{Verdict: Allow}
	}
	warnings := ConstitutionReadiness(constitutionPath)
	if len(warnings) == 0 {
		return Decision{Verdict: Allow}
	}
	if mode == config.GateBlock {
		return Decision{Verdict: Abort, Messages: warnings, Reason: msgBlockedByMissing}
	}
	return Decision{Verdict: Warn, Messages: append(warnings, msgConfigureHint)}
}
