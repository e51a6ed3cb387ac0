// Package doctor explains why the last run of a spec stopped.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/dispatch"
	"github.com/jorge-barreto/speckit/internal/guardrail"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
	"github.com/jorge-barreto/speckit/internal/ux"
)

const (
	maxLogLines  = 200
	maxExecLines = 40
)

const diagPrompt = `You are diagnosing a halted speckit pipeline run for spec %s. Analyze the context below and provide a concise diagnosis.

## Halted Stage
%s

## Guardrail Evaluation
%s

## Guardrail Output (last %d lines)
%s
%s%s
Instructions:
1. Identify what went wrong from the halt reason, telemetry and output.
2. Classify this as a PIPELINE problem (configuration, guardrail script, missing telemetry or evidence, gate) or a CODE problem (the change being implemented).
3. Suggest specific fixes.
4. Recommend the next command to run:
   - speckit run %s --from %s  (resume from the halted stage)
   - speckit run %s            (start over)
   - Fix the underlying issue first, then resume

Be direct and concise. Focus on actionable advice.`

// Doctor gathers failure context for a spec and asks an agent for a diagnosis.
type Doctor struct {
	Config    *config.Config
	Evaluator *guardrail.Evaluator
	Agents    dispatch.AgentRunner
	Env       *dispatch.Environment
	Out       io.Writer
}

// Run diagnoses the last halted or cancelled run of specID.
func (d *Doctor) Run(ctx context.Context, specID string) error {
	runDir := state.RunDir(d.Config.StateDir, specID)
	st, err := state.Load(runDir)
	if err != nil {
		return fmt.Errorf("loading run state: %w", err)
	}
	if st.Status != state.StatusHalted && st.Status != state.StatusCancelled {
		fmt.Fprintln(d.out(), "No halted run to diagnose.")
		return nil
	}
	stage := stages.Stage(st.CurrentStage())

	prompt := d.BuildPrompt(st, stage)

	agent, err := d.agent()
	if err != nil {
		return err
	}
	fmt.Fprintf(d.out(), "\n%s%s══ Doctor: diagnosing %s (%s) ══%s\n\n",
		ux.Bold, ux.Cyan, specID, displayStage(stage), ux.Reset)

	env := d.Env.Clone(stage)
	env.SpecID = specID
	env.RunID = st.RunID
	env.LogDir = filepath.Join(runDir, "logs")
	resp, err := d.Agents.RunAgent(ctx, agent, prompt, env)
	if err != nil {
		return fmt.Errorf("running %s: %w", agent.Name, err)
	}
	fmt.Fprintln(d.out(), strings.TrimSpace(resp.Text))
	ux.ResumeHint(specID, stage)
	return nil
}

func (d *Doctor) out() io.Writer {
	if d.Out != nil {
		return d.Out
	}
	return os.Stdout
}

// agent picks the "claude" agent when configured, else the first one.
func (d *Doctor) agent() (config.Agent, error) {
	if a, ok := d.Config.Agent("claude"); ok {
		return a, nil
	}
	if len(d.Config.Agents) == 0 {
		return config.Agent{}, fmt.Errorf("no agents configured")
	}
	return d.Config.Agents[0], nil
}

func displayStage(s stages.Stage) string {
	if s == "" {
		return "before stages"
	}
	return s.DisplayName()
}

// BuildPrompt renders the diagnosis prompt for a halted run.
func (d *Doctor) BuildPrompt(st *state.State, stage stages.Stage) string {
	runDir := state.RunDir(d.Config.StateDir, st.SpecID)

	var extras []string
	if timing := gatherTiming(runDir, string(stage)); timing != "" {
		extras = append(extras, "Timing: "+timing)
	}
	if tail := gatherExecLog(runDir, st.RunID); tail != "" {
		extras = append(extras, "Execution log:\n"+tail)
	}
	var contextSection string
	if len(extras) > 0 {
		contextSection = fmt.Sprintf("\n## Execution Context\n%s\n", strings.Join(extras, "\n"))
	}

	var telemetrySection string
	if tel := d.gatherTelemetry(st.SpecID, stage); tel != "" {
		telemetrySection = fmt.Sprintf("\n## Latest Telemetry\n%s\n", tel)
	}

	resume := string(stage)
	if resume == "" {
		resume = string(stages.Plan)
	}
	return fmt.Sprintf(diagPrompt,
		st.SpecID,
		gatherStage(st),
		d.gatherEvaluation(st.SpecID, stage),
		maxLogLines, gatherLog(runDir, stage),
		telemetrySection, contextSection,
		st.SpecID, resume, st.SpecID)
}

func gatherStage(st *state.State) string {
	parts := []string{
		fmt.Sprintf("Stage: %s", displayStage(stages.Stage(st.CurrentStage()))),
		fmt.Sprintf("Position: %d/%d", st.StageIndex+1, len(st.Stages)),
		fmt.Sprintf("Status: %s", st.Status),
	}
	if st.Phase != "" {
		parts = append(parts, "Phase: "+st.Phase)
	}
	if st.HaltReason != "" {
		parts = append(parts, "Reason: "+st.HaltReason)
	}
	if st.Branch != "" {
		parts = append(parts, "Branch: "+st.Branch)
	}
	return strings.Join(parts, "\n")
}

func (d *Doctor) gatherEvaluation(specID string, stage stages.Stage) string {
	if stage == "" || d.Evaluator == nil {
		return "(no stage reached)"
	}
	out, err := d.Evaluator.Evaluate(specID, stage)
	if err != nil {
		return fmt.Sprintf("Telemetry unavailable: %v", err)
	}
	parts := []string{fmt.Sprintf("Passed: %t", out.Success), "Summary: " + out.Summary, "Telemetry: " + out.EvidencePath}
	for _, f := range out.Failures {
		parts = append(parts, "  - "+f)
	}
	return strings.Join(parts, "\n")
}

func (d *Doctor) gatherTelemetry(specID string, stage stages.Stage) string {
	if stage == "" || d.Evaluator == nil {
		return ""
	}
	art, err := d.Evaluator.Source.LatestArtifact(specID, stage.TelemetryPrefix())
	if err != nil {
		return ""
	}
	return string(art.Data)
}

func gatherLog(runDir string, stage stages.Stage) string {
	path := filepath.Join(runDir, "logs", fmt.Sprintf("%s_guardrail.log", stage))
	data, err := os.ReadFile(path)
	if err != nil {
		return "(no log file found)"
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
		return fmt.Sprintf("... (truncated to last %d lines)\n%s", maxLogLines, strings.Join(lines, "\n"))
	}
	return string(data)
}

func gatherTiming(runDir, stage string) string {
	timing, err := state.LoadTiming(runDir)
	if err != nil {
		return ""
	}
	var parts []string
	for _, e := range timing.Entries {
		if e.Stage != stage {
			continue
		}
		if e.Duration != "" {
			parts = append(parts, fmt.Sprintf("%s started %s, duration %s",
				e.Stage, e.Start.Format("15:04:05"), e.Duration))
		} else {
			parts = append(parts, fmt.Sprintf("%s started %s (did not complete)",
				e.Stage, e.Start.Format("15:04:05")))
		}
	}
	return strings.Join(parts, "; ")
}

func gatherExecLog(runDir, runID string) string {
	if runID == "" {
		return ""
	}
	events, err := state.ReadExecLog(runDir, runID)
	if err != nil || len(events) == 0 {
		return ""
	}
	if len(events) > maxExecLines {
		events = events[len(events)-maxExecLines:]
	}
	lines := make([]string, len(events))
	for i, e := range events {
		line := fmt.Sprintf("%s %s", e.Timestamp.Format("15:04:05"), e.Type)
		if e.Stage != "" {
			line += " " + e.Stage
		}
		if to, ok := e.Fields["to"]; ok {
			line += fmt.Sprintf(" -> %v", to)
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}
