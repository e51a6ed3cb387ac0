package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

// Response is one agent's raw output for a stage.
type Response struct {
	Agent string
	Text  string
}

// Input is everything a local synthesis needs.
type Input struct {
	SpecID    string
	Stage     stages.Stage
	RunID     string
	Responses []Response
}

// Synthesis is the result of writing a stage document. Structured is set
// when a JSON extraction, not the plain-text fallback, produced a section.
type Synthesis struct {
	Path       string
	Markdown   string
	Hash       string
	Structured bool
	Fragments  []Fragment
}

// Synthesizer merges cached agent responses into the stage document.
type Synthesizer struct {
	// SpecDir returns the directory holding a spec's documents.
	SpecDir  func(specID string) string
	Evidence state.Evidence
	Store    RecordStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Synthesize writes <spec-dir>/<spec>/<stage>.md from the responses,
// always overwriting any previous document. Persisting the record and
// exporting it to evidence are best-effort.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (*Synthesis, error) {
	if len(in.Responses) == 0 {
		return nil, errors.New("no cached responses to synthesize")
	}
	logger := s.logger()

	fragments := make([]Fragment, 0, len(in.Responses))
	for _, r := range in.Responses {
		f := Extract(r.Agent, r.Text)
		logger.Debug("extracted agent response", "agent", r.Agent, "method", f.Method, "chars", len(r.Text))
		fragments = append(fragments, f)
	}

	md, hits := render(in, fragments)
	structured := false
	for i := range hits {
		if fragments[i].Method != ExtractText {
			structured = true
		}
	}
	dir := s.SpecDir(in.SpecID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating spec dir: %w", err)
	}
	path := filepath.Join(dir, in.Stage.DocumentName())
	if err := state.WriteFileAtomic(path, []byte(md), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", in.Stage.DocumentName(), err)
	}

	sum := sha256.Sum256([]byte(md))
	out := &Synthesis{
		Path:       path,
		Markdown:   md,
		Hash:       hex.EncodeToString(sum[:]),
		Structured: structured,
		Fragments:  fragments,
	}
	logger.Info("synthesis written", "spec", in.SpecID, "stage", in.Stage, "path", path, "responses", len(in.Responses))

	rec := Record{
		SpecID:        in.SpecID,
		Stage:         string(in.Stage),
		Markdown:      md,
		OutputPath:    path,
		Status:        "ok",
		ResponseCount: len(in.Responses),
		Degraded:      !structured,
		RunID:         in.RunID,
		CreatedAt:     s.now().UTC(),
	}
	if s.Store != nil {
		id, err := s.Store.RecordSynthesis(ctx, rec)
		if err != nil {
			logger.Warn("storing synthesis failed", "spec", in.SpecID, "stage", in.Stage, "error", err)
		} else {
			rec.ID = id
		}
	}
	if s.Evidence.Root != "" {
		exportPath := filepath.Join(s.Evidence.ConsensusDir(in.SpecID), string(in.Stage)+"_synthesis.json")
		if err := os.MkdirAll(filepath.Dir(exportPath), 0755); err != nil {
			logger.Warn("exporting synthesis failed", "path", exportPath, "error", err)
		} else if err := state.WriteJSONAtomic(exportPath, rec); err != nil {
			logger.Warn("exporting synthesis failed", "path", exportPath, "error", err)
		}
	}
	return out, nil
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Synthesizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// render builds the stage document from its inputs alone, so unchanged
// inputs give identical bytes. It returns the indexes of the fragments
// that produced a recognised section.
func render(in Input, fragments []Fragment) (string, map[int]bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", in.Stage.DisplayName(), in.SpecID)
	fmt.Fprintf(&b, "**Stage**: %s\n", in.Stage.DisplayName())
	fmt.Fprintf(&b, "**Agents**: %d\n", len(fragments))
	if in.RunID != "" {
		fmt.Fprintf(&b, "**Run**: %s\n", in.RunID)
	}
	b.WriteByte('\n')

	hits := map[int]bool{}
	sections := []func(*strings.Builder, Fragment) bool{
		writeWorkBreakdown,
		writeRisks,
		writeTasks,
		writeSurfaces,
		writeContent,
	}
	for _, section := range sections {
		for i, f := range fragments {
			if section(&b, f) {
				hits[i] = true
			}
		}
	}

	if len(hits) == 0 {
		writeRaw(&b, fragments)
	}

	b.WriteString("## Consensus Summary\n\n")
	fmt.Fprintf(&b, "- Synthesized from %d agent responses\n", len(fragments))
	b.WriteString("- All agents completed successfully\n")
	return b.String(), hits
}

func writeWorkBreakdown(b *strings.Builder, f Fragment) bool {
	steps, ok := f.Data["work_breakdown"].([]any)
	if !ok {
		return false
	}
	fmt.Fprintf(b, "## Work Breakdown (from %s)\n\n", f.Agent)
	for i, raw := range steps {
		step, _ := raw.(map[string]any)
		name, ok := step["step"].(string)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "%d. %s\n", i+1, name)
		if rationale, ok := step["rationale"].(string); ok {
			fmt.Fprintf(b, "   - Rationale: %s\n", rationale)
		}
	}
	b.WriteByte('\n')
	return true
}

func writeRisks(b *strings.Builder, f Fragment) bool {
	risks, ok := f.Data["risks"].([]any)
	if !ok {
		return false
	}
	fmt.Fprintf(b, "## Risks (from %s)\n\n", f.Agent)
	for _, raw := range risks {
		risk, _ := raw.(map[string]any)
		desc, ok := risk["risk"].(string)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- **Risk**: %s\n", desc)
		if m, ok := risk["mitigation"].(string); ok {
			fmt.Fprintf(b, "  - Mitigation: %s\n", m)
		}
	}
	b.WriteByte('\n')
	return true
}

func writeTasks(b *strings.Builder, f Fragment) bool {
	tasks, ok := f.Data["tasks"].([]any)
	if !ok {
		return false
	}
	fmt.Fprintf(b, "## Tasks (from %s)\n\n", f.Agent)
	for _, raw := range tasks {
		switch t := raw.(type) {
		case string:
			fmt.Fprintf(b, "- %s\n", t)
		case map[string]any:
			name := firstString(t, "name", "task")
			if name == "" {
				continue
			}
			fmt.Fprintf(b, "- %s\n", name)
			if desc := firstString(t, "description", "desc"); desc != "" {
				fmt.Fprintf(b, "  - %s\n", desc)
			}
		}
	}
	b.WriteByte('\n')
	return true
}

func writeSurfaces(b *strings.Builder, f Fragment) bool {
	surfaces, ok := f.Data["surfaces"].([]any)
	if !ok {
		return false
	}
	fmt.Fprintf(b, "## Affected Surfaces (from %s)\n\n", f.Agent)
	for _, raw := range surfaces {
		if s, ok := raw.(string); ok {
			fmt.Fprintf(b, "- %s\n", s)
		}
	}
	b.WriteByte('\n')
	return true
}

func writeContent(b *strings.Builder, f Fragment) bool {
	content, ok := f.Data["content"].(string)
	if !ok || content == "" {
		return false
	}
	fmt.Fprintf(b, "## Response from %s\n\n%s\n\n", f.Agent, content)
	return true
}

func writeRaw(b *strings.Builder, fragments []Fragment) {
	b.WriteString("## Agent Responses (Raw)\n\n")
	b.WriteString("*Note: Structured extraction failed, displaying raw agent data*\n\n")
	for _, f := range fragments {
		fmt.Fprintf(b, "### %s\n\n", f.Agent)
		keys := make([]string, 0, len(f.Data))
		for k := range f.Data {
			if k != "agent" && k != "format" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "**%s**:\n", k)
			switch v := f.Data[k].(type) {
			case string:
				fmt.Fprintf(b, "%s\n\n", v)
			case []any:
				for _, item := range v {
					fmt.Fprintf(b, "- %s\n", pretty(item))
				}
				b.WriteByte('\n')
			default:
				fmt.Fprintf(b, "```json\n%s\n```\n\n", pretty(v))
			}
		}
		b.WriteByte('\n')
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

func pretty(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
