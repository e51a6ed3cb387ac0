package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jorge-barreto/speckit/internal/stages"
)

var agentNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// Validate checks the config for errors and sets defaults.
func Validate(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("config: 'name' is required")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}

	if cfg.SpecDir == "" {
		cfg.SpecDir = "docs"
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = "docs/SPEC-OPS-004-integrated-coder-hooks/evidence"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".speckit"
	}
	if cfg.Constitution == "" {
		cfg.Constitution = "memory/constitution.md"
	}
	if cfg.Policy == "" {
		cfg.Policy = "memory/policy.toml"
	}
	if cfg.GuardrailDir == "" {
		cfg.GuardrailDir = "scripts/spec_ops_004/commands"
	}
	if cfg.ConsensusDB == "" {
		cfg.ConsensusDB = ".speckit/consensus.db"
	}
	if cfg.CapsuleDB == "" {
		cfg.CapsuleDB = ".speckit/capsule.db"
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	if cfg.EvidenceLimitMB == 0 {
		cfg.EvidenceLimitMB = 50
	}
	if cfg.GuardrailTimeout == 0 {
		cfg.GuardrailTimeout = 15
	}
	if cfg.Stage0.Timeout == 0 {
		cfg.Stage0.Timeout = 300
	}

	switch cfg.CaptureMode {
	case "":
		cfg.CaptureMode = CapturePromptsOnly
	case CaptureNone, CapturePromptsOnly, CaptureFullIO:
	default:
		return fmt.Errorf("config: unknown capture-mode %q (must be none, prompts_only, or full_io)", cfg.CaptureMode)
	}

	switch cfg.GateMode {
	case "":
		cfg.GateMode = GateWarn
	case GateSkip, GateWarn, GateBlock:
	default:
		return fmt.Errorf("config: unknown phase1-gate-mode %q (must be skip, warn, or block)", cfg.GateMode)
	}

	if cfg.EvidenceLimitMB < 0 {
		return fmt.Errorf("config: evidence-limit-mb must be >= 0")
	}
	if cfg.GuardrailTimeout < 0 {
		return fmt.Errorf("config: guardrail-timeout must be >= 0")
	}
	if cfg.Stage0.Timeout < 0 {
		return fmt.Errorf("config: stage0.timeout must be >= 0")
	}

	if cfg.SpecPattern != "" {
		if _, err := regexp.Compile(cfg.SpecPattern); err != nil {
			return fmt.Errorf("config: invalid spec-pattern %q: %w", cfg.SpecPattern, err)
		}
	}

	seen := make(map[string]bool)
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return fmt.Errorf("config: agent %d: 'name' is required", i+1)
		}
		if !agentNameRe.MatchString(a.Name) {
			return fmt.Errorf("config: agent %q: invalid name", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
		if a.Command == "" {
			a.Command = "claude"
		}
		if strings.TrimSpace(a.Command) != a.Command {
			return fmt.Errorf("config: agent %q: command must not have surrounding whitespace", a.Name)
		}
		if a.Timeout < 0 {
			return fmt.Errorf("config: agent %q: timeout must be >= 0", a.Name)
		}
		if a.Timeout == 0 {
			a.Timeout = 30
		}
	}

	for stage, names := range cfg.StageAgents {
		if _, err := stages.Parse(stage); err != nil {
			return fmt.Errorf("config: stage-agents: %w", err)
		}
		for _, n := range names {
			if !seen[n] {
				return fmt.Errorf("config: stage-agents: %s references unknown agent %q", stage, n)
			}
		}
	}

	return nil
}

// ValidateSpecID checks that the spec id matches the configured pattern.
// If pattern is empty, any id without path separators is accepted.
func ValidateSpecID(pattern, specID string) error {
	if specID == "" {
		return fmt.Errorf("spec id is required")
	}
	if strings.ContainsAny(specID, `/\`) || specID == "." || specID == ".." {
		return fmt.Errorf("spec id %q must not contain path separators", specID)
	}
	if pattern == "" {
		return nil
	}
	// Enforce full-match semantics: anchor the pattern if not already anchored.
	anchored := pattern
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^(?:" + anchored + ")$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return fmt.Errorf("config: invalid spec-pattern %q: %w", pattern, err)
	}
	if !re.MatchString(specID) {
		return fmt.Errorf("spec id %q does not match pattern %q", specID, pattern)
	}
	return nil
}
