package consensus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

// Proposal is one agent's response as exported in a verdict.
type Proposal struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// Verdict is the per-stage export of agent proposals and the risks they
// raised, written next to the synthesis export.
type Verdict struct {
	SpecID    string     `json:"spec_id"`
	Stage     string     `json:"stage"`
	RunID     string     `json:"run_id,omitempty"`
	HighRisk  bool       `json:"high_risk"`
	Degraded  bool       `json:"degraded"`
	Risks     []string   `json:"risks"`
	Proposals []Proposal `json:"proposals"`
	Timestamp time.Time  `json:"timestamp"`
}

// VerdictPath is where the verdict for stage is exported.
func VerdictPath(ev state.Evidence, specID string, stage stages.Stage) string {
	return filepath.Join(ev.ConsensusDir(specID), string(stage)+"_verdict.json")
}

// ExportVerdict writes v to <evidence>/consensus/<spec>/<stage>_verdict.json.
func ExportVerdict(ev state.Evidence, v Verdict) (string, error) {
	path := VerdictPath(ev, v.SpecID, stages.Stage(v.Stage))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating consensus dir: %w", err)
	}
	if v.Risks == nil {
		v.Risks = []string{}
	}
	if err := state.WriteJSONAtomic(path, v); err != nil {
		return "", fmt.Errorf("writing verdict: %w", err)
	}
	return path, nil
}

// Risks returns the risk descriptions raised by structured fragments, in
// fragment order.
func (s *Synthesis) Risks() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, f := range s.Fragments {
		risks, _ := f.Data["risks"].([]any)
		for _, raw := range risks {
			risk, _ := raw.(map[string]any)
			if desc, ok := risk["risk"].(string); ok && desc != "" {
				out = append(out, fmt.Sprintf("%s (from %s)", desc, f.Agent))
			}
		}
	}
	return out
}
