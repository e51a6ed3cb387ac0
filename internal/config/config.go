package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// CaptureMode governs whether clarification and reflection artifacts are
// persisted durably.
type CaptureMode string

const (
	CaptureNone        CaptureMode = "none"
	CapturePromptsOnly CaptureMode = "prompts_only"
	CaptureFullIO      CaptureMode = "full_io"
)

// Persists reports whether artifacts should reach durable evidence.
func (m CaptureMode) Persists() bool {
	return m == CapturePromptsOnly || m == CaptureFullIO
}

// GateMode is the enforcement level of the constitution readiness gate.
type GateMode string

const (
	GateSkip  GateMode = "skip"
	GateWarn  GateMode = "warn"
	GateBlock GateMode = "block"
)

type Agent struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout"` // minutes
}

type Stage0 struct {
	Disabled    bool   `yaml:"disabled"`
	Timeout     int    `yaml:"timeout"` // seconds
	NotebookURL string `yaml:"notebook-url"`
	MemoryDir   string `yaml:"memory-dir"`
}

type Config struct {
	Name             string              `yaml:"name"`
	SpecPattern      string              `yaml:"spec-pattern"`
	SpecDir          string              `yaml:"spec-dir"`
	EvidenceDir      string              `yaml:"evidence-dir"`
	StateDir         string              `yaml:"state-dir"`
	CaptureMode      CaptureMode         `yaml:"capture-mode"`
	GateMode         GateMode            `yaml:"phase1-gate-mode"`
	Constitution     string              `yaml:"constitution"`
	Policy           string              `yaml:"policy"`
	MainBranch       string              `yaml:"main-branch"`
	AutoCommit       bool                `yaml:"auto-commit"`
	Worktrees        bool                `yaml:"worktrees"`
	GuardrailDir     string              `yaml:"guardrail-dir"`
	GuardrailTimeout int                 `yaml:"guardrail-timeout"` // minutes
	EvidenceLimitMB  int                 `yaml:"evidence-limit-mb"`
	ConsensusDB      string              `yaml:"consensus-db"`
	CapsuleDB        string              `yaml:"capsule-db"`
	Agents           []Agent             `yaml:"agents"`
	StageAgents      map[string][]string `yaml:"stage-agents"`
	Stage0           Stage0              `yaml:"stage0"`
}

// Load reads a YAML config file and returns a validated Config with
// defaults applied and paths resolved against projectRoot.
func Load(path, projectRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Resolve(projectRoot)
	return &cfg, nil
}

// Resolve makes every relative path absolute under projectRoot.
func (c *Config) Resolve(projectRoot string) {
	for _, p := range []*string{
		&c.SpecDir, &c.EvidenceDir, &c.StateDir, &c.Constitution, &c.Policy,
		&c.GuardrailDir, &c.ConsensusDB, &c.CapsuleDB, &c.Stage0.MemoryDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(projectRoot, *p)
		}
	}
}

// AgentsFor returns the agents assigned to a stage, or every agent when the
// stage has no explicit assignment.
func (c *Config) AgentsFor(s stages.Stage) []Agent {
	names, ok := c.StageAgents[string(s)]
	if !ok || len(names) == 0 {
		return c.Agents
	}
	var out []Agent
	for _, n := range names {
		if a, ok := c.Agent(n); ok {
			out = append(out, a)
		}
	}
	return out
}

// Agent looks up an agent by name.
func (c *Config) Agent(name string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// SpecPath returns the directory holding a spec's documents.
func (c *Config) SpecPath(specID string) string {
	return filepath.Join(c.SpecDir, specID)
}
