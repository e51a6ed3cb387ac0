package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/jorge-barreto/speckit/internal/bridge"
	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/config"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/dispatch"
	"github.com/jorge-barreto/speckit/internal/docs"
	"github.com/jorge-barreto/speckit/internal/doctor"
	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/guardrail"
	"github.com/jorge-barreto/speckit/internal/pipeline"
	"github.com/jorge-barreto/speckit/internal/runner"
	"github.com/jorge-barreto/speckit/internal/scaffold"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
	"github.com/jorge-barreto/speckit/internal/ux"
	"github.com/jorge-barreto/speckit/internal/vcs"
)

func main() {
	app := &cli.Command{
		Name:        "speckit",
		Usage:       "Drive a spec from plan to ship with multiple agents",
		Description: "Run 'speckit docs' for documentation on config, stages, telemetry, and gates.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log diagnostics to stderr"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelWarn
			if cmd.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			initCmd(),
			runCmd(),
			planCmd(),
			intakeCmd(),
			statusCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		var halt *runner.HaltError
		if errors.As(err, &halt) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(1)
	}
}

func stageFlags() []cli.Flag {
	var flags []cli.Flag
	for _, s := range stages.All() {
		flags = append(flags,
			&cli.BoolFlag{Name: "skip-" + string(s), Usage: "Skip the " + string(s) + " stage", Category: "stage selection"},
			&cli.BoolFlag{Name: "only-" + string(s), Usage: "Run the " + string(s) + " stage (repeatable)", Category: "stage selection"},
		)
	}
	return append(flags, &cli.StringFlag{Name: "stages", Usage: "Comma-separated stages to run", Category: "stage selection"})
}

// overrideArgs turns the stage selection flags back into the argument form
// config.ParseOverrides reads.
func overrideArgs(cmd *cli.Command) []string {
	var args []string
	for _, s := range stages.All() {
		for _, prefix := range []string{"skip-", "only-"} {
			if cmd.Bool(prefix + string(s)) {
				args = append(args, "--"+prefix+string(s))
			}
		}
	}
	if v := cmd.String("stages"); v != "" {
		args = append(args, "--stages="+v)
	}
	return args
}

func runCmd() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "Resume from a stage"},
		&cli.StringFlag{Name: "hal-mode", Usage: "mock or live; forwarded to guardrails as SPEC_OPS_HAL_MODE"},
		&cli.StringFlag{Name: "goal", Usage: "Goal passed to stage prompts"},
		&cli.StringFlag{Name: "answers", Usage: "YAML file of clarification answers keyed by question id"},
		&cli.BoolFlag{Name: "auto", Usage: "Answer gates without prompting"},
	}
	return &cli.Command{
		Name:      "run",
		Usage:     "Run the pipeline for a spec",
		ArgsUsage: "<spec>",
		Flags:     append(flags, stageFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specID := cmd.Args().First()
			if specID == "" {
				return fmt.Errorf("spec argument is required")
			}
			p := pipeline.StartParams{
				SpecID:  specID,
				Goal:    cmd.String("goal"),
				HalMode: cmd.String("hal-mode"),
			}
			switch p.HalMode {
			case "", "mock", "live":
			default:
				return fmt.Errorf("--hal-mode must be mock or live, got %q", p.HalMode)
			}
			if from := cmd.String("from"); from != "" {
				s, err := stages.Parse(from)
				if err != nil {
					return err
				}
				p.ResumeFrom = s
			}
			if ov := config.ParseOverrides(overrideArgs(cmd)); len(ov.Skip)+len(ov.Only) > 0 {
				p.Overrides = &ov
			}
			if path := cmd.String("answers"); path != "" {
				answers, err := loadAnswers(path)
				if err != nil {
					return err
				}
				p.Clarification = answers
			}
			return runPipeline(ctx, p, cmd.Bool("auto"))
		},
	}
}

func planCmd() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Run only the plan and tasks stages for a spec",
		ArgsUsage: "<spec>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "auto", Usage: "Answer gates without prompting"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specID := cmd.Args().First()
			if specID == "" {
				return fmt.Errorf("spec argument is required")
			}
			return runPipeline(ctx, pipeline.StartParams{SpecID: specID, PlanningOnly: true}, cmd.Bool("auto"))
		},
	}
}

func loadAnswers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}
	var answers map[string]string
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parsing answers %s: %w", path, err)
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("answers file %s is empty", path)
	}
	return answers, nil
}

func runPipeline(ctx context.Context, p pipeline.StartParams, auto bool) error {
	if os.Getenv("CLAUDECODE") != "" {
		return fmt.Errorf("speckit cannot run inside Claude Code (CLAUDECODE env var is set). Run from a regular terminal")
	}
	proj, err := openProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	if err := dispatch.Preflight(proj.cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	workDir := proj.root
	if proj.cfg.Worktrees {
		git := vcs.Exec{Dir: proj.root}
		workDir, err = vcs.EnsureWorktree(ctx, git, filepath.Join(proj.cfg.StateDir, "worktrees"), proj.cfg.MainBranch, p.SpecID)
		if err != nil {
			return fmt.Errorf("preparing worktree: %w", err)
		}
		slog.Info("using worktree", "spec", p.SpecID, "path", workDir)
	}

	coord := proj.coordinator()
	ev := proj.evidence()
	r := &runner.Runner{
		Coord:  coord,
		Config: proj.cfg,
		Env:    &dispatch.Environment{ProjectRoot: proj.root, WorkDir: workDir},
		Agents: dispatch.ExecRunner{OnTool: ux.ToolUse},
		Checker: consensus.FileChecker{
			Evidence:   ev,
			Aggregator: proj.cfg.Agents[0].Name,
			Expected: func(s stages.Stage) []string {
				var names []string
				for _, a := range proj.cfg.AgentsFor(s) {
					names = append(names, a.Name)
				}
				return names
			},
		},
		Logger:      slog.Default(),
		In:          bufio.NewReader(os.Stdin),
		Out:         os.Stdout,
		Interactive: !auto,
	}
	coord.Host = r
	if err := r.Run(ctx, p); err != nil {
		return err
	}
	if proj.cfg.Worktrees && !p.PlanningOnly {
		removed, err := vcs.ReleaseWorktree(ctx, vcs.Exec{Dir: proj.root}, p.SpecID)
		switch {
		case err != nil:
			slog.Warn("removing worktree", "spec", p.SpecID, "err", err)
		case removed:
			slog.Info("removed clean worktree", "spec", p.SpecID, "branch", vcs.WorktreeBranch(p.SpecID))
		default:
			fmt.Printf("  %sWorktree kept at %s (uncommitted changes)%s\n", ux.Dim, workDir, ux.Reset)
		}
	}
	return nil
}

func intakeCmd() *cli.Command {
	return &cli.Command{
		Name:      "intake",
		Usage:     "Record a design brief for a spec",
		ArgsUsage: "<spec>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "brief", Usage: "Markdown file with the design brief", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specID := cmd.Args().First()
			if specID == "" {
				return fmt.Errorf("spec argument is required")
			}
			proj, err := openProject()
			if err != nil {
				return err
			}
			defer proj.Close()
			if err := config.ValidateSpecID(proj.cfg.SpecPattern, specID); err != nil {
				return err
			}

			brief, err := os.ReadFile(cmd.String("brief"))
			if err != nil {
				return fmt.Errorf("reading brief: %w", err)
			}
			if strings.TrimSpace(string(brief)) == "" {
				return fmt.Errorf("brief %s is empty", cmd.String("brief"))
			}
			payload, err := gates.RecordIntake(proj.store, specID, "intake-"+uuid.NewString(), brief, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("\n%s%s✓ Intake recorded for %s%s\n", ux.Bold, ux.Green, specID, ux.Reset)
			fmt.Printf("  %sBrief: %s (sha256 %s)%s\n\n", ux.Dim, payload.BriefURI, shortHash(payload.Hash), ux.Reset)
			return nil
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the last run of a spec",
		ArgsUsage: "<spec>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specID := cmd.Args().First()
			if specID == "" {
				return fmt.Errorf("spec argument is required")
			}
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runDir := state.RunDir(cfg.StateDir, specID)
			st, err := state.Load(runDir)
			if err != nil {
				return fmt.Errorf("loading state: %w", err)
			}
			timing, err := state.LoadTiming(runDir)
			if err != nil {
				return fmt.Errorf("loading timing: %w", err)
			}
			ux.RenderStatus(st, timing, cfg.EvidenceDir)
			return nil
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:      "doctor",
		Usage:     "Diagnose a halted run using an agent",
		ArgsUsage: "<spec>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			specID := cmd.Args().First()
			if specID == "" {
				return fmt.Errorf("spec argument is required")
			}
			root, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d := &doctor.Doctor{
				Config: cfg,
				Evaluator: &guardrail.Evaluator{
					Source:      guardrail.DirSource{Evidence: state.Evidence{Root: cfg.EvidenceDir}},
					ProjectRoot: root,
				},
				Agents: dispatch.ExecRunner{OnTool: ux.ToolUse},
				Env:    &dispatch.Environment{ProjectRoot: root, WorkDir: root},
				Out:    os.Stdout,
			}
			return d.Run(ctx, specID)
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new .speckit/ directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ai", Usage: "Ask an agent to tailor prompts and guardrails to the project"},
			&cli.StringFlag{Name: "agent", Value: "claude", Usage: "Agent command used with --ai"},
			&cli.StringFlag{Name: "model", Usage: "Model used with --ai"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			if !cmd.Bool("ai") {
				return scaffold.Init(dir)
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			agent := config.Agent{
				Name:    filepath.Base(cmd.String("agent")),
				Command: cmd.String("agent"),
				Model:   cmd.String("model"),
				Timeout: 10,
			}
			return scaffold.InitWithAgent(ctx, dir, dispatch.ExecRunner{OnTool: ux.ToolUse}, agent)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'speckit docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}

// project holds the loaded config and the open stores of a project.
type project struct {
	root      string
	cfg       *config.Config
	store     *capsule.BoltStore
	consensus *consensus.SQLiteStore
}

func openProject() (*project, error) {
	root, cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := capsule.Open(cfg.CapsuleDB, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("opening capsule store: %w", err)
	}
	db, err := consensus.OpenSQLite(cfg.ConsensusDB)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening consensus db: %w", err)
	}
	return &project{root: root, cfg: cfg, store: store, consensus: db}, nil
}

func (p *project) Close() {
	if err := p.consensus.Close(); err != nil {
		slog.Warn("closing consensus db", "error", err)
	}
	if err := p.store.Close(); err != nil {
		slog.Warn("closing capsule store", "error", err)
	}
}

func (p *project) evidence() state.Evidence {
	return state.Evidence{Root: p.cfg.EvidenceDir}
}

func (p *project) coordinator() *pipeline.Coordinator {
	ev := p.evidence()
	c := &pipeline.Coordinator{
		Config:         p.cfg,
		ProjectRoot:    p.root,
		GlobalPipeline: globalPipeline(p.root),
		Store:          p.store,
		Evaluator:      &guardrail.Evaluator{Source: guardrail.DirSource{Evidence: ev}, ProjectRoot: p.root},
		Synth: &consensus.Synthesizer{
			SpecDir:  p.cfg.SpecPath,
			Evidence: ev,
			Store:    p.consensus,
			Logger:   slog.Default(),
		},
		Logger: slog.Default(),
	}
	if p.cfg.AutoCommit {
		c.Git = vcs.Exec{Dir: p.root}
	}
	if p.cfg.Stage0.NotebookURL != "" {
		c.Notebook = bridge.NewHTTPNotebook(p.cfg.Stage0.NotebookURL)
	}
	return c
}

// globalPipeline prefers the project's .speckit/pipeline.toml and falls
// back to the user's.
func globalPipeline(root string) string {
	project := filepath.Join(root, ".speckit", config.PipelineFileName)
	if _, err := os.Stat(project); err == nil {
		return project
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".speckit", config.PipelineFileName)
}

func loadConfig() (string, *config.Config, error) {
	root, err := findProjectRoot()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(filepath.Join(root, ".speckit", "config.yaml"), root)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}
	return root, cfg, nil
}

// findProjectRoot walks up from cwd looking for .speckit/config.yaml.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".speckit", "config.yaml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .speckit/config.yaml found (searched from cwd to root); run 'speckit init'")
		}
		dir = parent
	}
}
