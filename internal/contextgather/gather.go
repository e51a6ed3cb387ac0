// Package contextgather collects the project context compiled into a
// spec's task brief.
package contextgather

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

const maxFileSize = 32 * 1024

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	".speckit":     true,
}

// wellKnownFiles are probed relative to the project root.
var wellKnownFiles = []string{
	"README.md",
	"readme.md",
	"Makefile",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"CLAUDE.md",
	"AGENTS.md",
}

// Options selects what Gather reads.
type Options struct {
	Root      string
	SpecPath  string // spec.md of the spec being compiled
	MemoryDir string // local memories, one markdown file per entry
	GitLog    int    // number of commits; zero disables
}

// Snapshot is the gathered context.
type Snapshot struct {
	Spec     string
	Tree     string
	Files    map[string]string
	Memories map[string]string
	GitLog   string
}

// Gather collects project context. A missing spec.md is not an error; the
// caller decides what an empty Spec means.
func Gather(ctx context.Context, opts Options) (*Snapshot, error) {
	s := &Snapshot{
		Files:    make(map[string]string),
		Memories: make(map[string]string),
	}
	if opts.SpecPath != "" {
		if data, err := os.ReadFile(opts.SpecPath); err == nil {
			s.Spec = strings.TrimSpace(string(data))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Tree = buildTree(opts.Root)
	for _, name := range wellKnownFiles {
		if content, ok := readCapped(filepath.Join(opts.Root, name)); ok {
			s.Files[name] = content
		}
	}
	if opts.MemoryDir != "" {
		if err := gatherMemories(opts.MemoryDir, s); err != nil {
			return nil, err
		}
	}
	if opts.GitLog > 0 {
		s.GitLog = gitLog(ctx, opts.Root, opts.GitLog)
	}
	return s, nil
}

// HasMemories reports whether any local memory was found.
func (s *Snapshot) HasMemories() bool { return len(s.Memories) > 0 }

// Digest is a stable hash of the inputs that affect the compiled brief.
func (s *Snapshot) Digest() string {
	h := sha256.New()
	h.Write([]byte(s.Spec))
	for _, k := range sortedKeys(s.Memories) {
		fmt.Fprintf(h, "\x00%s\x00%s", k, s.Memories[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Render formats the project portion of the snapshot as markdown.
func (s *Snapshot) Render() string {
	var buf strings.Builder
	buf.WriteString("## Project Structure\n\n```\n")
	buf.WriteString(s.Tree)
	buf.WriteString("```\n")

	if len(s.Files) > 0 {
		buf.WriteString("\n## Key Files\n")
		for _, p := range sortedKeys(s.Files) {
			fmt.Fprintf(&buf, "\n### %s\n\n```\n%s\n```\n", p, s.Files[p])
		}
	}
	if s.GitLog != "" {
		buf.WriteString("\n## Recent Git History\n\n```\n")
		buf.WriteString(s.GitLog)
		buf.WriteString("\n```\n")
	}
	return buf.String()
}

// RenderMemories formats local memories as a bullet list of sections.
func (s *Snapshot) RenderMemories() string {
	if len(s.Memories) == 0 {
		return ""
	}
	var buf strings.Builder
	for _, k := range sortedKeys(s.Memories) {
		fmt.Fprintf(&buf, "### %s\n\n%s\n\n", k, s.Memories[k])
	}
	return buf.String()
}

func buildTree(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "(unable to read directory)\n"
	}
	var buf strings.Builder
	for _, e := range entries {
		if skipDirs[e.Name()] {
			continue
		}
		if !e.IsDir() {
			buf.WriteString(e.Name() + "\n")
			continue
		}
		buf.WriteString(e.Name() + "/\n")
		sub, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		for _, se := range sub {
			if se.IsDir() {
				buf.WriteString("  " + se.Name() + "/\n")
			} else {
				buf.WriteString("  " + se.Name() + "\n")
			}
		}
	}
	return buf.String()
}

func gatherMemories(dir string, s *Snapshot) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading memory dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		if content, ok := readCapped(filepath.Join(dir, e.Name())); ok && strings.TrimSpace(content) != "" {
			s.Memories[strings.TrimSuffix(e.Name(), ".md")] = strings.TrimSpace(content)
		}
	}
	return nil
}

func readCapped(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := string(data)
	if len(content) > maxFileSize {
		content = content[:maxFileSize] + "\n... (truncated)"
	}
	return content, true
}

func gitLog(ctx context.Context, root string, n int) string {
	cmd := exec.CommandContext(ctx, "git", "log", "--oneline", fmt.Sprintf("-%d", n))
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
