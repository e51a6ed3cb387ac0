package dispatch

import (
	"os"
	"strings"
	"testing"

	"github.com/jorge-barreto/speckit/internal/stages"
)

func testEnv(t *testing.T) *Environment {
	t.Helper()
	return &Environment{
		ProjectRoot: t.TempDir(),
		WorkDir:     t.TempDir(),
		LogDir:      t.TempDir(),
		SpecID:      "SPEC-1",
		RunID:       "run-1",
		Stage:       stages.Plan,
	}
}

func hasEnv(env []string, kv string) bool {
	for _, e := range env {
		if e == kv {
			return true
		}
	}
	return false
}

func TestVars_AllKeys(t *testing.T) {
	env := testEnv(t)
	vars := env.Vars()
	for k, want := range map[string]string{
		"SPEC_ID":      "SPEC-1",
		"RUN_ID":       "run-1",
		"STAGE":        "plan",
		"PROJECT_ROOT": env.ProjectRoot,
		"WORK_DIR":     env.WorkDir,
		"LOG_DIR":      env.LogDir,
	} {
		if vars[k] != want {
			t.Errorf("%s = %q, want %q", k, vars[k], want)
		}
	}
}

func TestVars_BuiltinsWin(t *testing.T) {
	env := testEnv(t)
	env.CustomVars = map[string]string{"SPEC_ID": "hijack", "TEAM": "core"}
	vars := env.Vars()
	if vars["SPEC_ID"] != "SPEC-1" || vars["TEAM"] != "core" {
		t.Fatalf("vars = %v", vars)
	}
}

func TestBuildEnv_SpeckitVarsAndHalMode(t *testing.T) {
	env := testEnv(t)
	env.CustomVars = map[string]string{"TEAM": "core"}
	got := BuildEnv(env)
	for _, kv := range []string{"SPECKIT_SPEC_ID=SPEC-1", "SPECKIT_STAGE=plan", "SPECKIT_TEAM=core"} {
		if !hasEnv(got, kv) {
			t.Errorf("missing %s", kv)
		}
	}
	for _, kv := range got {
		if strings.HasPrefix(kv, "SPEC_OPS_HAL_MODE=") {
			t.Fatal("HAL mode must be absent when unset")
		}
	}

	env.HalMode = "mock"
	if !hasEnv(BuildEnv(env), "SPEC_OPS_HAL_MODE=mock") {
		t.Fatal("HAL mode not forwarded")
	}
}

func TestBuildEnv_StripsCLAUDECODE(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	for _, kv := range BuildEnv(testEnv(t)) {
		if strings.HasPrefix(kv, "CLAUDECODE") {
			t.Fatalf("found %s", kv)
		}
	}
}

func TestClone_ReplacesStageAndCopiesVars(t *testing.T) {
	env := testEnv(t)
	env.CustomVars = map[string]string{"A": "1"}
	BuildEnv(env)

	cp := env.Clone(stages.Tasks)
	cp.CustomVars["A"] = "2"
	if cp.Stage != stages.Tasks || env.Stage != stages.Plan {
		t.Fatalf("stages: clone=%s orig=%s", cp.Stage, env.Stage)
	}
	if env.CustomVars["A"] != "1" {
		t.Fatal("clone shares CustomVars")
	}
	if len(cp.filteredEnv) != len(env.filteredEnv) {
		t.Fatal("filteredEnv not copied")
	}
}

func TestLogPath(t *testing.T) {
	env := testEnv(t)
	if got := env.LogPath("claude"); !strings.HasSuffix(got, "plan_claude.log") {
		t.Fatalf("LogPath = %s", got)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("SPECKIT_TEST_VAR", "from-env")
	got := ExpandVars("${SPEC_ID}_x $SPECKIT_TEST_VAR $UNKNOWN_SPECKIT_VAR.", map[string]string{"SPEC_ID": "S-1"})
	if got != "S-1_x from-env ." {
		t.Fatalf("got %q", got)
	}
}

func TestStagePrompt_BuiltinAndOverride(t *testing.T) {
	env := testEnv(t)
	p, err := StagePrompt(env, map[string]string{"SPEC_PATH": "docs/SPEC-1/spec.md", "TASK_BRIEF": "brief text"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p, "planning spec SPEC-1") || !strings.Contains(p, "brief text") {
		t.Fatalf("prompt = %s", p)
	}

	dir := env.ProjectRoot + "/" + PromptDir
	os.MkdirAll(dir, 0755)
	os.WriteFile(dir+"/plan.md", []byte("Custom plan for ${SPEC_ID}"), 0644)
	p, err = StagePrompt(env, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p != "Custom plan for SPEC-1\n" {
		t.Fatalf("override = %q", p)
	}
}

func TestCheckpointPrompt(t *testing.T) {
	env := testEnv(t)
	p, err := CheckpointPrompt(env, stages.AfterTasks, map[string]string{"SPEC_DIR": "docs/SPEC-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p, "docs/SPEC-1/tasks.md") || !strings.Contains(p, `"issues"`) {
		t.Fatalf("prompt = %s", p)
	}
}
