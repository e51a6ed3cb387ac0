package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jorge-barreto/speckit/internal/capsule"
	"github.com/jorge-barreto/speckit/internal/consensus"
	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

// QualityIssue is one question raised at a checkpoint, with each agent's
// proposed answer.
type QualityIssue struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Answers    map[string]string `json:"answers"`
	Resolution string            `json:"resolution,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
}

// ParseIssues reads {"issues": [...]} from an agent's response.
func ParseIssues(agent, text string) []QualityIssue {
	f := consensus.Extract(agent, text)
	raw, ok := f.Data["issues"].([]any)
	if !ok {
		return nil
	}
	var out []QualityIssue
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			id = fmt.Sprintf("Q%d", i+1)
		}
		question, _ := m["question"].(string)
		answer, _ := m["answer"].(string)
		confidence, _ := m["confidence"].(string)
		out = append(out, QualityIssue{
			ID:         id,
			Question:   question,
			Answers:    map[string]string{agent: answer},
			Confidence: confidence,
		})
	}
	return out
}

// ClassifyIssues merges issues by id across agents. An issue every agent
// raised with the same answer resolves automatically; everything else is
// escalated for a human.
func ClassifyIssues(responses []AgentOutput, autoResolve bool) (auto, escalated []QualityIssue) {
	merged := map[string]*QualityIssue{}
	var order []string
	agents := 0
	for _, resp := range responses {
		if resp.Err != nil {
			continue
		}
		agents++
		for _, is := range ParseIssues(resp.Agent, resp.Text) {
			key := strings.ToLower(is.ID)
			m, ok := merged[key]
			if !ok {
				cp := is
				merged[key] = &cp
				order = append(order, key)
				continue
			}
			for a, ans := range is.Answers {
				m.Answers[a] = ans
			}
			if m.Question == "" {
				m.Question = is.Question
			}
		}
	}

	for _, key := range order {
		is := *merged[key]
		if answer, ok := unanimous(is.Answers); ok && autoResolve && len(is.Answers) == agents {
			is.Resolution = answer
			auto = append(auto, is)
			continue
		}
		escalated = append(escalated, is)
	}
	return auto, escalated
}

func unanimous(answers map[string]string) (string, bool) {
	var first string
	n := 0
	for _, a := range answers {
		a = strings.TrimSpace(a)
		if a == "" {
			return "", false
		}
		if n == 0 {
			first = a
		} else if !strings.EqualFold(first, a) {
			return "", false
		}
		n++
	}
	return first, n > 0
}

func (c *Coordinator) dispatchCheckpoint(stage stages.Stage, cp stages.QualityCheckpoint) {
	r := c.run
	agents := c.Config.AgentsFor(stage)
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	c.setPhase(PhaseQualityGateExecuting{Checkpoint: cp, Expected: names})
	c.notice(NoticeInfo, fmt.Sprintf("Quality checkpoint %s (%s) before %s", cp, cp.Gate().Command(), stage.DisplayName()))
	c.Host.DispatchQualityCheckpoint(CheckpointRequest{
		SpecID:     r.SpecID,
		RunID:      r.RunID,
		Stage:      stage,
		Checkpoint: cp,
		Agents:     agents,
	})
}

func (c *Coordinator) onQualityBatch(e QualityBatchCompleted) Action {
	r := c.run
	if r == nil {
		return ActionNone{}
	}
	p, ok := r.Phase.(PhaseQualityGateExecuting)
	if !ok || p.Checkpoint != e.Checkpoint {
		return ActionNone{}
	}
	for _, resp := range e.Responses {
		if resp.Err != nil {
			c.notice(NoticeWarn, fmt.Sprintf("Agent %s failed on %s: %v", resp.Agent, e.Checkpoint, resp.Err))
		}
	}
	auto, escalated := ClassifyIssues(e.Responses, r.Pipeline.QualityGates.AutoResolve)
	if len(escalated) == 0 {
		return c.completeCheckpoint(e.Checkpoint, auto, nil)
	}
	c.setPhase(PhaseQualityGateAwaitingHuman{Checkpoint: e.Checkpoint, AutoResolved: auto, Questions: escalated})
	c.snapshot(state.StatusPaused, fmt.Sprintf("%d quality questions need answers", len(escalated)))
	c.Host.ShowGateModal(GateModal{
		Kind:       ModalQuality,
		SpecID:     r.SpecID,
		Message:    fmt.Sprintf("%s: %d auto-resolved, %d need your answer", e.Checkpoint, len(auto), len(escalated)),
		Checkpoint: e.Checkpoint,
		Issues:     escalated,
	})
	return ActionNone{}
}

func (c *Coordinator) onQualityAnswers(e QualityAnswersSubmitted) Action {
	r := c.run
	if r == nil {
		return ActionNone{}
	}
	p, ok := r.Phase.(PhaseQualityGateAwaitingHuman)
	if !ok || p.Checkpoint != e.Checkpoint {
		return ActionNone{}
	}
	answered := make([]QualityIssue, len(p.Questions))
	for i, q := range p.Questions {
		q.Resolution = e.Answers[q.ID]
		answered[i] = q
	}
	return c.completeCheckpoint(e.Checkpoint, p.AutoResolved, answered)
}

type checkpointRecord struct {
	SpecID     string         `json:"spec_id"`
	RunID      string         `json:"run_id"`
	Checkpoint string         `json:"checkpoint"`
	Gate       string         `json:"gate"`
	Auto       []QualityIssue `json:"auto_resolved"`
	Escalated  []QualityIssue `json:"escalated"`
	Timestamp  string         `json:"timestamp"`
}

func (c *Coordinator) completeCheckpoint(cp stages.QualityCheckpoint, auto, escalated []QualityIssue) Action {
	r := c.run
	now := c.now()
	r.CompletedCheckpoints[cp] = true
	r.CheckpointOutcomes = append(r.CheckpointOutcomes, CheckpointOutcome{
		Checkpoint:   cp,
		AutoResolved: len(auto),
		Escalated:    len(escalated),
		At:           now,
	})

	rec := checkpointRecord{
		SpecID:     r.SpecID,
		RunID:      r.RunID,
		Checkpoint: string(cp),
		Gate:       string(cp.Gate()),
		Auto:       auto,
		Escalated:  escalated,
		Timestamp:  now.UTC().Format("2006-01-02T15:04:05Z"),
	}
	path := filepath.Join(c.evidence().SpecDir(r.SpecID), "quality-gate-"+string(cp)+".json")
	if err := c.evidence().EnsureDir(r.SpecID); err != nil {
		c.logger().Warn("writing checkpoint record failed", "checkpoint", cp, "error", err)
	} else if err := state.WriteJSONAtomic(path, rec); err != nil {
		c.logger().Warn("writing checkpoint record failed", "checkpoint", cp, "error", err)
	}
	c.emit(capsule.EventCheckpointRecorded, string(r.Stage()), map[string]any{
		"checkpoint": string(cp),
		"auto":       len(auto),
		"escalated":  len(escalated),
	})
	c.notice(NoticeSuccess, fmt.Sprintf("Quality checkpoint %s: %d auto-resolved, %d escalated", cp, len(auto), len(escalated)))
	c.setPhase(PhaseGuardrail{})
	c.snapshot(state.StatusRunning, "")
	return c.Advance()
}

// qualitySummary renders the completion notice for checkpoint outcomes.
func qualitySummary(outcomes []CheckpointOutcome) []string {
	if len(outcomes) == 0 {
		return nil
	}
	sorted := append([]CheckpointOutcome(nil), outcomes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })
	auto, esc := 0, 0
	lines := []string{}
	for _, o := range sorted {
		auto += o.AutoResolved
		esc += o.Escalated
		lines = append(lines, fmt.Sprintf("  %s: %d auto-resolved, %d escalated", o.Checkpoint, o.AutoResolved, o.Escalated))
	}
	head := fmt.Sprintf("Quality gates: %d checkpoints, %d auto-resolved, %d escalated", len(sorted), auto, esc)
	return append([]string{head}, lines...)
}
