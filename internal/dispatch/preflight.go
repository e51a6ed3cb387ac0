package dispatch

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/jorge-barreto/speckit/internal/config"
)

// Preflight checks that bash (for guardrails), git and every configured
// agent command are on PATH.
func Preflight(cfg *config.Config) error {
	needed := map[string]bool{"bash": true}
	if cfg.AutoCommit || cfg.Worktrees {
		needed["git"] = true
	}
	for _, a := range cfg.Agents {
		needed[a.Command] = true
	}

	var missing []string
	for bin := range needed {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required binaries not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
