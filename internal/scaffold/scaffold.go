// Package scaffold implements speckit init.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/contextgather"
	"github.com/jorge-barreto/speckit/internal/dispatch"
	"github.com/jorge-barreto/speckit/internal/fileblocks"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/ux"
)

// maxAttempts bounds AI generation, including the retry with feedback.
const maxAttempts = 2

// Init creates a new .speckit/ directory with the default config, pipeline
// defaults, guardrail scripts and constitution.
func Init(targetDir string) error {
	if err := checkFresh(targetDir); err != nil {
		return err
	}
	written, err := writeDefaults(targetDir)
	if err != nil {
		return err
	}
	printSuccess("default template", written)
	printNextSteps()
	return nil
}

// InitWithAgent writes the default template, then asks agent to tailor the
// stage prompts and guardrail scripts to the project. When generation
// fails the defaults are kept and the failure is reported, not returned.
func InitWithAgent(ctx context.Context, targetDir string, runner dispatch.AgentRunner, agent config.Agent) error {
	if err := checkFresh(targetDir); err != nil {
		return err
	}
	written, err := writeDefaults(targetDir)
	if err != nil {
		return err
	}

	generated, genErr := generate(ctx, targetDir, runner, agent)
	if genErr != nil {
		fmt.Printf("\n  %s⚠ AI generation failed: %v%s\n", ux.Yellow, genErr, ux.Reset)
		printSuccess("default template", written)
		printNextSteps()
		return nil
	}
	printSuccess("AI-tailored template", append(written, generated...))
	printNextSteps()
	return nil
}

func checkFresh(targetDir string) error {
	if _, err := os.Stat(filepath.Join(targetDir, ".speckit")); err == nil {
		return fmt.Errorf(".speckit directory already exists in %s", targetDir)
	}
	return nil
}

func generate(ctx context.Context, targetDir string, runner dispatch.AgentRunner, agent config.Agent) ([]string, error) {
	snap, err := contextgather.Gather(ctx, contextgather.Options{Root: targetDir, GitLog: 10})
	if err != nil {
		return nil, fmt.Errorf("gathering project context: %w", err)
	}
	env := &dispatch.Environment{
		ProjectRoot: targetDir,
		WorkDir:     targetDir,
		LogDir:      filepath.Join(targetDir, ".speckit", "logs"),
		Stage:       stages.Stage("init"),
	}

	prompt := buildInitPrompt(snap.Render())
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Printf("  %s[%d/%d] Asking %s to tailor prompts and guardrails...%s\n",
			ux.Dim, attempt, maxAttempts, agent.Name, ux.Reset)
		resp, err := runner.RunAgent(ctx, agent, prompt, env)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		blocks := fileblocks.Parse(resp.Text)
		if err := checkBlocks(blocks); err != nil {
			lastErr = err
			prompt = buildInitPrompt(snap.Render()) + fmt.Sprintf(retryFeedback, err)
			continue
		}
		return fileblocks.Write(targetDir, blocks)
	}
	return nil, lastErr
}

// checkBlocks accepts prompt overrides named after a stage or checkpoint
// and guardrail scripts named after a stage's guardrail command.
func checkBlocks(blocks []fileblocks.FileBlock) error {
	if err := fileblocks.Validate(blocks, []string{dispatch.PromptDir, guardrailDir}); err != nil {
		return err
	}
	for _, b := range blocks {
		dir, name := path.Split(path.Clean(b.Path))
		dir = strings.TrimSuffix(dir, "/")
		switch dir {
		case dispatch.PromptDir:
			if !knownPrompt(strings.TrimSuffix(name, ".md")) || !strings.HasSuffix(name, ".md") {
				return fmt.Errorf("file %q: not a stage or checkpoint prompt", b.Path)
			}
		case guardrailDir:
			if !knownGuardrail(name) {
				return fmt.Errorf("file %q: not a guardrail script (spec-ops-<stage>.sh)", b.Path)
			}
			if !strings.HasPrefix(b.Content, "#!") {
				return fmt.Errorf("file %q: guardrail script needs a shebang line", b.Path)
			}
		default:
			return fmt.Errorf("file %q: nested directories are not allowed", b.Path)
		}
	}
	return nil
}

func knownPrompt(name string) bool {
	if _, err := stages.Parse(name); err == nil {
		return true
	}
	for _, s := range stages.All() {
		if cp, ok := stages.CheckpointFor(s); ok && string(cp) == name {
			return true
		}
	}
	return false
}

func knownGuardrail(name string) bool {
	for _, s := range stages.All() {
		if name == s.GuardrailCommand()+".sh" {
			return true
		}
	}
	return false
}

func printSuccess(source string, written []string) {
	fmt.Printf("\n%s%s✓ Initialized .speckit/ from the %s%s\n\n", ux.Bold, ux.Green, source, ux.Reset)
	fmt.Printf("  Created:\n")
	for _, p := range written {
		fmt.Printf("    %s%s%s\n", ux.Cyan, p, ux.Reset)
	}
}

func printNextSteps() {
	fmt.Printf("\n  Next steps:\n")
	fmt.Printf("    1. Edit %s.speckit/config.yaml%s to name your project and agents\n", ux.Cyan, ux.Reset)
	fmt.Printf("    2. Fill in %smemory/constitution.md%s\n", ux.Cyan, ux.Reset)
	fmt.Printf("    3. Write a spec at %sdocs/<SPEC-ID>/spec.md%s and record a brief with %sspeckit intake%s\n", ux.Cyan, ux.Reset, ux.Cyan, ux.Reset)
	fmt.Printf("    4. Run %sspeckit run <SPEC-ID>%s\n\n", ux.Cyan, ux.Reset)
}
