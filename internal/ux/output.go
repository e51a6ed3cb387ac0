package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/gates"
	"github.com/jorge-barreto/speckit/internal/pipeline"
	"github.com/jorge-barreto/speckit/internal/stages"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// RunHeader prints the banner for a new run.
func RunHeader(specID, runID string, total int) {
	fmt.Printf("\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
	fmt.Printf("%s[%s]%s  %s%s: %d stages (run %s)%s\n",
		Dim, timestamp(), Reset, Bold, specID, total, runID, Reset)
	fmt.Printf("%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
}

// Notice prints a coordinator notice. The first line carries the level
// marker; continuation lines are indented under it.
func Notice(n pipeline.Notice) {
	if len(n.Lines) == 0 {
		return
	}
	color, marker := Dim, "·"
	switch n.Level {
	case pipeline.NoticeSuccess:
		color, marker = Green, "✓"
	case pipeline.NoticeWarn:
		color, marker = Yellow, "⚠"
	case pipeline.NoticeError:
		color, marker = Red, "✗"
	}
	fmt.Printf("%s[%s]%s  %s%s %s%s\n", Dim, timestamp(), Reset, color, marker, n.Lines[0], Reset)
	for _, l := range n.Lines[1:] {
		fmt.Printf("             %s\n", l)
	}
}

// Halted prints the halt reason and a resume hint.
func Halted(specID string, stage stages.Stage, reason string) {
	fmt.Printf("\n%s%s✗ Pipeline halted:%s %s\n", Bold, Red, Reset, reason)
	ResumeHint(specID, stage)
}

// ResumeHint prints a resume command hint.
func ResumeHint(specID string, stage stages.Stage) {
	if stage == "" {
		fmt.Printf("\n%sResume:%s speckit run %s\n", Yellow, Reset, specID)
		return
	}
	fmt.Printf("\n%sResume:%s speckit run %s --from %s\n", Yellow, Reset, specID, stage)
}

// Question prints a clarification question with its lettered options.
func Question(i, total int, q gates.Question) {
	req := ""
	if q.Required {
		req = " (required)"
	}
	fmt.Printf("\n  %s[%d/%d] %s%s%s\n", Bold, i+1, total, q.Category, req, Reset)
	fmt.Printf("  %s\n", q.Text)
	for _, o := range q.Options {
		fmt.Printf("    %s%c)%s %s\n", Cyan, o.Label, Reset, o.Text)
	}
}

// QualityIssue prints one escalated checkpoint question with each agent's
// proposed answer.
func QualityIssue(is pipeline.QualityIssue) {
	fmt.Printf("\n  %s%s:%s %s\n", Bold, is.ID, Reset, is.Question)
	for agent, answer := range is.Answers {
		fmt.Printf("    %s%s:%s %s\n", Dim, agent, Reset, answer)
	}
}

// ToolUse prints an inline tool call.
func ToolUse(name, input string) {
	fmt.Printf("  %s⚡ %s%s %s\n", Cyan, name, Reset, truncate(input))
}

// ToolDenied prints a denied tool call.
func ToolDenied(name, input string) {
	fmt.Printf("  %s✗ %s(denied)%s %s\n", Red, name, Reset, truncate(input))
}

// PermissionPrompt prints a permission denial header.
func PermissionPrompt(tools []string) {
	fmt.Printf("\n  %s⚠ Tools denied: %s%s\n", Yellow, strings.Join(tools, ", "), Reset)
}

// Success prints a final success message.
func Success(specID string, total int) {
	fmt.Printf("\n%s[%s]%s  %s%s══ %s: all %d stages complete ══%s\n\n",
		Dim, timestamp(), Reset, Bold, Green, specID, total, Reset)
}

func truncate(s string) string {
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}
