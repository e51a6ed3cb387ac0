// Package dispatch runs the external processes a pipeline stage needs:
// guardrail scripts and the agents whose responses feed consensus.
package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// Environment holds the execution context shared by a stage's processes.
type Environment struct {
	ProjectRoot string
	WorkDir     string
	LogDir      string
	SpecID      string
	RunID       string
	Stage       stages.Stage
	HalMode     string // forwarded to guardrails as SPEC_OPS_HAL_MODE
	CustomVars  map[string]string
	filteredEnv []string // os.Environ minus CLAUDECODE, captured once
}

// Clone returns a deep copy with the stage replaced.
func (e *Environment) Clone(stage stages.Stage) *Environment {
	cp := *e
	cp.Stage = stage
	if e.CustomVars != nil {
		cp.CustomVars = make(map[string]string, len(e.CustomVars))
		for k, v := range e.CustomVars {
			cp.CustomVars[k] = v
		}
	}
	if e.filteredEnv != nil {
		cp.filteredEnv = append([]string(nil), e.filteredEnv...)
	}
	return &cp
}

// Vars returns the substitution map for prompt templates. Built-ins win
// over custom vars.
func (e *Environment) Vars() map[string]string {
	m := make(map[string]string, 6+len(e.CustomVars))
	for k, v := range e.CustomVars {
		m[k] = v
	}
	m["SPEC_ID"] = e.SpecID
	m["RUN_ID"] = e.RunID
	m["STAGE"] = string(e.Stage)
	m["PROJECT_ROOT"] = e.ProjectRoot
	m["WORK_DIR"] = e.WorkDir
	m["LOG_DIR"] = e.LogDir
	return m
}

// LogPath returns the log file for one process of the current stage.
func (e *Environment) LogPath(name string) string {
	return filepath.Join(e.LogDir, fmt.Sprintf("%s_%s.log", e.Stage, name))
}

// BuildEnv returns the child process environment: the inherited
// environment without CLAUDECODE plus SPECKIT_ variables.
func BuildEnv(env *Environment) []string {
	if env.filteredEnv == nil {
		for _, kv := range os.Environ() {
			if strings.HasPrefix(strings.SplitN(kv, "=", 2)[0], "CLAUDECODE") {
				continue
			}
			env.filteredEnv = append(env.filteredEnv, kv)
		}
	}
	out := make([]string, len(env.filteredEnv), len(env.filteredEnv)+7+len(env.CustomVars))
	copy(out, env.filteredEnv)
	for k, v := range env.CustomVars {
		out = append(out, "SPECKIT_"+k+"="+v)
	}
	out = append(out,
		"SPECKIT_SPEC_ID="+env.SpecID,
		"SPECKIT_RUN_ID="+env.RunID,
		"SPECKIT_STAGE="+string(env.Stage),
		"SPECKIT_PROJECT_ROOT="+env.ProjectRoot,
		"SPECKIT_WORK_DIR="+env.WorkDir,
	)
	if env.HalMode != "" {
		out = append(out, "SPEC_OPS_HAL_MODE="+env.HalMode)
	}
	return out
}

// Result holds the outcome of one process.
type Result struct {
	ExitCode int
	Output   string
}

// ExpandVars substitutes ${VAR} references from vars, falling back to the
// process environment.
func ExpandVars(template string, vars map[string]string) string {
	return os.Expand(template, func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}
