package fileblocks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_SingleBlock(t *testing.T) {
	input := "```markdown file=.speckit/prompts/plan.md\nPlan ${SPEC_ID}.\nBe brief.\n```\n"
	blocks := Parse(input)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Path != ".speckit/prompts/plan.md" {
		t.Fatalf("expected path .speckit/prompts/plan.md, got %q", blocks[0].Path)
	}
	if blocks[0].Content != "Plan ${SPEC_ID}.\nBe brief." {
		t.Fatalf("unexpected content: %q", blocks[0].Content)
	}
}

func TestParse_MultipleBlocks(t *testing.T) {
	input := `Some text before

` + "```markdown file=.speckit/prompts/plan.md" + `
Plan it.
` + "```" + `

More text

` + "```bash file=scripts/spec_ops_004/commands/spec-ops-plan.sh" + `
echo plan
` + "```" + `
`
	blocks := Parse(input)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Path != ".speckit/prompts/plan.md" {
		t.Fatalf("block 0: got %q", blocks[0].Path)
	}
	if blocks[1].Path != "scripts/spec_ops_004/commands/spec-ops-plan.sh" {
		t.Fatalf("block 1: got %q", blocks[1].Path)
	}
}

func TestParse_NoFileAnnotation_Skipped(t *testing.T) {
	blocks := Parse("```yaml\nname: test\n```\n")
	if len(blocks) != 0 {
		t.Fatalf("expected 0 blocks, got %d", len(blocks))
	}
}

func TestParse_NoLanguageTag(t *testing.T) {
	blocks := Parse("```file=.speckit/prompts/audit.md\ncontent here\n```\n")
	if len(blocks) != 1 || blocks[0].Path != ".speckit/prompts/audit.md" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestParse_HyphenatedLanguageTag(t *testing.T) {
	blocks := Parse("```shell-session file=a.sh\necho\n```\n")
	if len(blocks) != 1 || blocks[0].Path != "a.sh" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestParse_EmptyContent(t *testing.T) {
	blocks := Parse("```yaml file=.speckit/empty.yaml\n```\n")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Content != "" {
		t.Fatalf("expected empty content, got %q", blocks[0].Content)
	}
}

func TestParse_UnclosedBlock_Dropped(t *testing.T) {
	blocks := Parse("```yaml file=.speckit/config.yaml\nname: test\n")
	if len(blocks) != 0 {
		t.Fatalf("expected 0 blocks for unclosed fence, got %d", len(blocks))
	}
}

func TestParse_MixedAnnotatedAndPlain(t *testing.T) {
	blocks := Parse("```go\nfunc main() {}\n```\n\n```yaml file=.speckit/config.yaml\nname: test\n```\n")
	if len(blocks) != 1 || blocks[0].Path != ".speckit/config.yaml" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}

func TestValidate_Accepts(t *testing.T) {
	blocks := []FileBlock{
		{Path: ".speckit/prompts/plan.md"},
		{Path: "scripts/cmds/spec-ops-plan.sh"},
	}
	if err := Validate(blocks, []string{".speckit/prompts", "scripts/cmds/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	allowed := []string{".speckit/prompts"}
	for name, blocks := range map[string][]FileBlock{
		"empty":     nil,
		"absolute":  {{Path: "/etc/passwd"}},
		"escape":    {{Path: ".speckit/prompts/../../x.md"}},
		"outside":   {{Path: "README.md"}},
		"lookalike": {{Path: ".speckit/promptsx/plan.md"}},
		"duplicate": {{Path: ".speckit/prompts/a.md"}, {Path: ".speckit/prompts/./a.md"}},
	} {
		if err := Validate(blocks, allowed); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestWrite_CreatesFilesAndExecutableScripts(t *testing.T) {
	dir := t.TempDir()
	blocks := []FileBlock{
		{Path: ".speckit/prompts/plan.md", Content: "plan"},
		{Path: "scripts/spec-ops-plan.sh", Content: "#!/bin/bash\necho ok"},
	}
	written, err := Write(dir, blocks)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v", written)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".speckit", "prompts", "plan.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "plan\n" {
		t.Fatalf("content = %q", data)
	}
	info, err := os.Stat(filepath.Join(dir, "scripts", "spec-ops-plan.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Fatalf("script mode = %v, want executable", info.Mode())
	}
	if strings.Contains(written[0], "\\") {
		t.Fatalf("written paths should stay slash-separated: %v", written)
	}
}
