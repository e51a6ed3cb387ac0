package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jorge-barreto/speckit/internal/stages"
)

func minimalConfig(agents ...Agent) *Config {
	return &Config{Name: "test", Agents: agents}
}

func TestValidate_NameRequired(t *testing.T) {
	cfg := &Config{Agents: []Agent{{Name: "claude"}}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "'name' is required") {
		t.Fatalf("expected name required error, got %v", err)
	}
}

func TestValidate_NoAgentsError(t *testing.T) {
	cfg := &Config{Name: "test"}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "at least one agent") {
		t.Fatalf("expected agents error, got %v", err)
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.CaptureMode != CapturePromptsOnly {
		t.Errorf("CaptureMode = %q", cfg.CaptureMode)
	}
	if cfg.GateMode != GateWarn {
		t.Errorf("GateMode = %q", cfg.GateMode)
	}
	if cfg.EvidenceLimitMB != 50 {
		t.Errorf("EvidenceLimitMB = %d", cfg.EvidenceLimitMB)
	}
	if cfg.Stage0.Timeout != 300 {
		t.Errorf("Stage0.Timeout = %d", cfg.Stage0.Timeout)
	}
	if cfg.Agents[0].Command != "claude" || cfg.Agents[0].Timeout != 30 {
		t.Errorf("agent defaults = %+v", cfg.Agents[0])
	}
}

func TestValidate_DuplicateAgentNames(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "dup"}, Agent{Name: "dup"})
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_InvalidAgentName(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "bad name"})
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "invalid name") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_UnknownCaptureMode(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	cfg.CaptureMode = "everything"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "capture-mode") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_UnknownGateMode(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	cfg.GateMode = "strict"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "phase1-gate-mode") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_StageAgentsUnknownStage(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	cfg.StageAgents = map[string][]string{"deploy": {"claude"}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "unknown stage") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_StageAgentsUnknownAgent(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	cfg.StageAgents = map[string][]string{"plan": {"gemini"}}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_BadSpecPattern(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"})
	cfg.SpecPattern = "SPEC-("
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "spec-pattern") {
		t.Fatalf("got %v", err)
	}
}

func TestAgentsFor(t *testing.T) {
	cfg := minimalConfig(Agent{Name: "claude"}, Agent{Name: "gemini"}, Agent{Name: "gpt"})
	cfg.StageAgents = map[string][]string{"tasks": {"gpt"}}
	if err := Validate(cfg); err != nil {
		t.Fatal(err)
	}
	if got := cfg.AgentsFor(stages.Plan); len(got) != 3 {
		t.Fatalf("plan agents = %d, want 3", len(got))
	}
	got := cfg.AgentsFor(stages.Tasks)
	if len(got) != 1 || got[0].Name != "gpt" {
		t.Fatalf("tasks agents = %+v", got)
	}
}

func TestValidateSpecID(t *testing.T) {
	if err := ValidateSpecID("", "SPEC-KIT-900"); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSpecID("SPEC-[A-Z]+-\\d+", "SPEC-KIT-900"); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSpecID("SPEC-[A-Z]+-\\d+", "SPEC-KIT-900x"); err == nil {
		t.Fatal("expected full-match failure")
	}
	if err := ValidateSpecID("", "../etc"); err == nil {
		t.Fatal("expected path separator error")
	}
	if err := ValidateSpecID("", ""); err == nil {
		t.Fatal("expected required error")
	}
}

func TestLoad_ResolvesPaths(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "config.yaml")
	data := "name: demo\nagents:\n  - name: claude\n    model: opus\nspec-dir: specs\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, root)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SpecDir != filepath.Join(root, "specs") {
		t.Errorf("SpecDir = %q", cfg.SpecDir)
	}
	if cfg.SpecPath("DEMO-1") != filepath.Join(root, "specs", "DEMO-1") {
		t.Errorf("SpecPath = %q", cfg.SpecPath("DEMO-1"))
	}
	if !filepath.IsAbs(cfg.CapsuleDB) {
		t.Errorf("CapsuleDB not resolved: %q", cfg.CapsuleDB)
	}
}
