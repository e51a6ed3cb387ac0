// Package fileblocks extracts files an agent returns as annotated fenced
// code blocks and writes them under a project root.
package fileblocks

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// FileBlock is one file extracted from agent output.
type FileBlock struct {
	Path    string // slash-separated, relative to the project root
	Content string // content between the fences
}

var fenceOpenRe = regexp.MustCompile("^```[\\w-]*\\s*file=(\\S+)")

// Parse extracts fenced code blocks annotated with file= from text.
// It recognizes opening fences like:
//
//	```markdown file=.speckit/prompts/plan.md
//	```file=.speckit/prompts/tasks.md
//	```bash file=scripts/spec_ops_004/commands/spec-ops-plan.sh
//
// Unclosed blocks are dropped. Returns blocks in order of appearance.
func Parse(text string) []FileBlock {
	var blocks []FileBlock
	var current *FileBlock
	var lines []string

	for _, line := range strings.Split(text, "\n") {
		if current != nil {
			if strings.TrimSpace(line) == "```" {
				current.Content = strings.Join(lines, "\n")
				blocks = append(blocks, *current)
				current, lines = nil, nil
				continue
			}
			lines = append(lines, line)
			continue
		}
		if m := fenceOpenRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			current = &FileBlock{Path: m[1]}
		}
	}
	return blocks
}

// Validate rejects absolute paths, paths escaping the root, duplicates and
// paths outside every allowed prefix. An empty prefix list allows any
// relative path.
func Validate(blocks []FileBlock, allowed []string) error {
	if len(blocks) == 0 {
		return fmt.Errorf("no file blocks found")
	}
	seen := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		p := b.Path
		if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
			return fmt.Errorf("file %q: path must be relative", p)
		}
		clean := path.Clean(p)
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("file %q: path escapes the project root", p)
		}
		if seen[clean] {
			return fmt.Errorf("file %q: duplicate block", p)
		}
		seen[clean] = true
		if len(allowed) > 0 && !hasPrefix(clean, allowed) {
			return fmt.Errorf("file %q: must be under one of %s", p, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func hasPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		pre = strings.TrimSuffix(path.Clean(pre), "/")
		if p == pre || strings.HasPrefix(p, pre+"/") {
			return true
		}
	}
	return false
}

// Write writes each block under root and returns the paths written.
// Shell scripts are made executable. Call Validate first.
func Write(root string, blocks []FileBlock) ([]string, error) {
	var written []string
	for _, b := range blocks {
		full := filepath.Join(root, filepath.FromSlash(path.Clean(b.Path)))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", b.Path, err)
		}
		mode := os.FileMode(0644)
		if strings.HasSuffix(b.Path, ".sh") {
			mode = 0755
		}
		content := b.Content
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := os.WriteFile(full, []byte(content), mode); err != nil {
			return written, fmt.Errorf("writing %s: %w", b.Path, err)
		}
		written = append(written, b.Path)
	}
	return written, nil
}
