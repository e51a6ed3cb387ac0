package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// PromptDir is where a project overrides the built-in stage prompts, one
// <stage>.md (or <checkpoint>.md) per file.
const PromptDir = ".speckit/prompts"

var stagePrompts = map[stages.Stage]string{
	stages.Plan: `You are planning spec ${SPEC_ID}.

Read the specification at ${SPEC_PATH} and the task brief below. Produce a
work breakdown for implementing it.

Respond with a single fenced json block:
{"stage": "plan", "work_breakdown": [{"step": "...", "rationale": "..."}],
 "risks": [{"risk": "...", "mitigation": "..."}],
 "affected_surfaces": ["path or component"]}

${TASK_BRIEF}`,
	stages.Tasks: `You are decomposing the plan for spec ${SPEC_ID} into tasks.

Read ${SPEC_DIR}/plan.md. Respond with a single fenced json block:
{"stage": "tasks", "tasks": [{"id": "T1", "title": "...", "owner": "...",
 "dependencies": []}], "risks": [{"risk": "...", "mitigation": "..."}]}`,
	stages.Implement: `You are implementing spec ${SPEC_ID} following ${SPEC_DIR}/tasks.md.

Make the changes in ${WORK_DIR}. When done, respond with a fenced json block:
{"stage": "implement", "tasks": [{"id": "T1", "status": "done"}],
 "affected_surfaces": ["files you changed"], "risks": []}`,
	stages.Validate: `You are validating the implementation of spec ${SPEC_ID}.

Run the project's tests and check each acceptance criterion in
${SPEC_PATH}. Respond with a fenced json block:
{"stage": "validate", "content": "summary", "risks": [{"risk": "...", "mitigation": "..."}]}`,
	stages.Audit: `You are auditing the changes for spec ${SPEC_ID} for security,
correctness and policy compliance. Respond with a fenced json block:
{"stage": "audit", "content": "findings", "risks": [{"risk": "...", "mitigation": "..."}]}`,
	stages.Unlock: `You are preparing spec ${SPEC_ID} to ship. Confirm the audit
findings in ${SPEC_DIR}/audit.md are resolved. Respond with a fenced json block:
{"stage": "unlock", "content": "ship summary"}`,
}

var checkpointPrompts = map[stages.QualityCheckpoint]string{
	stages.BeforeSpecify: `Review spec ${SPEC_ID} at ${SPEC_PATH} for ambiguities before planning.`,
	stages.AfterSpecify:  `Check spec ${SPEC_ID} and ${SPEC_DIR}/plan.md against a requirements checklist.`,
	stages.AfterTasks:    `Analyze ${SPEC_DIR}/plan.md and ${SPEC_DIR}/tasks.md for consistency with ${SPEC_PATH}.`,
}

const checkpointSuffix = `

List each issue you find. For every issue propose the answer you would
choose. Respond with a single fenced json block:
{"issues": [{"id": "Q1", "question": "...", "answer": "...", "confidence": "high|medium|low"}]}
Respond with {"issues": []} when there are none.`

// StagePrompt renders the prompt for a stage, preferring a project override.
func StagePrompt(env *Environment, vars map[string]string) (string, error) {
	tmpl, err := loadPrompt(env.ProjectRoot, string(env.Stage), stagePrompts[env.Stage])
	if err != nil {
		return "", err
	}
	return render(tmpl, env, vars), nil
}

// CheckpointPrompt renders the prompt for a quality checkpoint.
func CheckpointPrompt(env *Environment, cp stages.QualityCheckpoint, vars map[string]string) (string, error) {
	tmpl, err := loadPrompt(env.ProjectRoot, string(cp), checkpointPrompts[cp])
	if err != nil {
		return "", err
	}
	return render(tmpl+checkpointSuffix, env, vars), nil
}

func loadPrompt(root, name, builtin string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, PromptDir, name+".md"))
	switch {
	case err == nil:
		return string(data), nil
	case errors.Is(err, fs.ErrNotExist):
		if builtin == "" {
			return "", fmt.Errorf("no prompt for %s", name)
		}
		return builtin, nil
	}
	return "", err
}

func render(tmpl string, env *Environment, extra map[string]string) string {
	vars := env.Vars()
	for k, v := range extra {
		if _, builtin := vars[k]; !builtin {
			vars[k] = v
		}
	}
	return strings.TrimSpace(ExpandVars(tmpl, vars)) + "\n"
}
