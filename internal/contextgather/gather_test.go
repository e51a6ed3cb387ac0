package contextgather

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func gather(t *testing.T, opts Options) *Snapshot {
	t.Helper()
	s, err := Gather(context.Background(), opts)
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	return s
}

func TestGather_TreeSkipsDirs(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "src"), 0755)
	os.MkdirAll(filepath.Join(dir, ".git"), 0755)
	os.MkdirAll(filepath.Join(dir, ".speckit"), 0755)
	os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0644)

	s := gather(t, Options{Root: dir})
	if !strings.Contains(s.Tree, "src/") || !strings.Contains(s.Tree, "  main.go") {
		t.Fatalf("tree missing entries:\n%s", s.Tree)
	}
	if strings.Contains(s.Tree, ".git") || strings.Contains(s.Tree, ".speckit") {
		t.Fatalf("tree should skip hidden tool dirs:\n%s", s.Tree)
	}
}

func TestGather_SpecAndWellKnownFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Hello"), 0644)
	specPath := filepath.Join(dir, "docs", "SPEC-1", "spec.md")
	os.MkdirAll(filepath.Dir(specPath), 0755)
	os.WriteFile(specPath, []byte("  Build the thing.\n"), 0644)

	s := gather(t, Options{Root: dir, SpecPath: specPath})
	if s.Spec != "Build the thing." {
		t.Fatalf("Spec = %q", s.Spec)
	}
	if s.Files["README.md"] != "# Hello" {
		t.Fatalf("README = %q", s.Files["README.md"])
	}
}

func TestGather_MissingSpecIsEmpty(t *testing.T) {
	s := gather(t, Options{Root: t.TempDir(), SpecPath: "/nonexistent/spec.md"})
	if s.Spec != "" {
		t.Fatalf("Spec = %q", s.Spec)
	}
}

func TestGather_Memories(t *testing.T) {
	dir := t.TempDir()
	mem := filepath.Join(dir, "memory")
	os.MkdirAll(mem, 0755)
	os.WriteFile(filepath.Join(mem, "testing.md"), []byte("Always table-test parsers.\n"), 0644)
	os.WriteFile(filepath.Join(mem, "empty.md"), []byte("   "), 0644)
	os.WriteFile(filepath.Join(mem, "notes.txt"), []byte("ignored"), 0644)

	s := gather(t, Options{Root: dir, MemoryDir: mem})
	if !s.HasMemories() || len(s.Memories) != 1 {
		t.Fatalf("memories = %v", s.Memories)
	}
	if !strings.Contains(s.RenderMemories(), "### testing\n\nAlways table-test parsers.") {
		t.Fatalf("rendered = %q", s.RenderMemories())
	}

	missing := gather(t, Options{Root: dir, MemoryDir: filepath.Join(dir, "nope")})
	if missing.HasMemories() {
		t.Fatal("missing memory dir should yield none")
	}
}

func TestSnapshot_DigestTracksInputs(t *testing.T) {
	a := &Snapshot{Spec: "x", Memories: map[string]string{"m": "1"}}
	b := &Snapshot{Spec: "x", Memories: map[string]string{"m": "1"}, Tree: "different tree"}
	if a.Digest() != b.Digest() {
		t.Fatal("tree must not affect digest")
	}
	c := &Snapshot{Spec: "x", Memories: map[string]string{"m": "2"}}
	if a.Digest() == c.Digest() {
		t.Fatal("memory change must affect digest")
	}
}

func TestGather_NonGitDir(t *testing.T) {
	s := gather(t, Options{Root: t.TempDir(), GitLog: 10})
	if s.GitLog != "" {
		t.Fatalf("expected empty GitLog, got %q", s.GitLog)
	}
}

func TestRender_Sections(t *testing.T) {
	s := &Snapshot{
		Tree:   "src/\n",
		Files:  map[string]string{"README.md": "# Hello"},
		GitLog: "abc123 Initial commit",
	}
	rendered := s.Render()
	for _, want := range []string{"## Project Structure", "## Key Files", "### README.md", "## Recent Git History"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered missing %q", want)
		}
	}

	s.GitLog = ""
	if strings.Contains(s.Render(), "## Recent Git History") {
		t.Fatal("no git section when log is empty")
	}
}

func TestGather_LargeFileTruncated(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "README.md"), []byte(strings.Repeat("x", maxFileSize+100)), 0644)

	s := gather(t, Options{Root: dir})
	content := s.Files["README.md"]
	if !strings.HasSuffix(content, "... (truncated)") {
		t.Fatal("large file should be truncated")
	}
	if len(content) > maxFileSize+50 {
		t.Fatalf("truncated content too large: %d", len(content))
	}
}
