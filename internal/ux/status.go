package ux

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/speckit/internal/state"
)

// RenderStatus prints the last run snapshot for a spec with per-stage
// durations and the evidence files on disk.
func RenderStatus(st *state.State, timing *state.Timing, evidenceDir string) {
	fmt.Printf("%sSpec:%s    %s\n", Bold, Reset, st.SpecID)
	if st.RunID == "" {
		fmt.Printf("%sState:%s   %sno runs recorded%s\n\n", Bold, Reset, Dim, Reset)
		return
	}
	fmt.Printf("%sRun:%s     %s\n", Bold, Reset, st.RunID)
	if st.Branch != "" {
		fmt.Printf("%sBranch:%s  %s\n", Bold, Reset, st.Branch)
	}
	switch {
	case st.Status == state.StatusCompleted:
		fmt.Printf("%sState:%s   %s%scompleted%s\n", Bold, Reset, Green, Bold, Reset)
	case st.CurrentStage() != "":
		fmt.Printf("%sState:%s   %d/%d (%s, %s) — %s\n",
			Bold, Reset, st.StageIndex+1, len(st.Stages), st.CurrentStage(), st.Phase, st.Status)
	default:
		fmt.Printf("%sState:%s   %s\n", Bold, Reset, st.Status)
	}
	if st.HaltReason != "" {
		fmt.Printf("%sReason:%s  %s%s%s\n", Bold, Reset, Red, st.HaltReason, Reset)
	}

	if st.StageIndex > 0 {
		fmt.Printf("\n%sCompleted:%s\n", Bold, Reset)
		for i := 0; i < st.StageIndex && i < len(st.Stages); i++ {
			name := st.Stages[i]
			fmt.Printf("  %s%d%s  %-12s %sdone%s  %s\n",
				Dim, i+1, Reset, name, Green, Reset, findDuration(timing, name))
		}
	}

	if st.StageIndex < len(st.Stages) {
		fmt.Printf("\n%sRemaining:%s\n", Bold, Reset)
		for i := st.StageIndex; i < len(st.Stages); i++ {
			marker := "  "
			if i == st.StageIndex {
				marker = fmt.Sprintf("%s→%s ", Yellow, Reset)
			}
			fmt.Printf("  %s%s%d%s  %s\n", marker, Dim, i+1, Reset, st.Stages[i])
		}
	}

	fmt.Printf("\n%sEvidence:%s\n", Bold, Reset)
	entries, err := os.ReadDir(evidenceDir)
	if err != nil || len(entries) == 0 {
		fmt.Printf("  %s(none)%s\n\n", Dim, Reset)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			sub, _ := os.ReadDir(filepath.Join(evidenceDir, e.Name()))
			fmt.Printf("  %s/%s/ %s(%d files)%s\n", evidenceDir, e.Name(), Dim, len(sub), Reset)
		} else {
			fmt.Printf("  %s/%s\n", evidenceDir, e.Name())
		}
	}
	fmt.Println()
}

func findDuration(timing *state.Timing, stage string) string {
	if timing == nil {
		return ""
	}
	if d := timing.Last(stage); d != "" {
		return fmt.Sprintf("(%s)", d)
	}
	return ""
}
