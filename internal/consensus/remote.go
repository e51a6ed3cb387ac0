package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/stages"
	"github.com/jorge-barreto/speckit/internal/state"
)

// Review statuses.
const (
	StatusOK       = "ok"
	StatusConflict = "conflict"
	StatusDegraded = "degraded"
	StatusUnknown  = "unknown"
)

// Review is the verdict of a remote consensus check.
type Review struct {
	Status        string
	Agreements    []string
	Conflicts     []string
	MissingAgents []string
	Warnings      []string
}

// OK reports whether the stage passed review.
func (r *Review) OK() bool { return r != nil && r.Status == StatusOK }

// Lines renders the review for notices.
func (r *Review) Lines(specID string, stage stages.Stage) []string {
	label := "REVIEW " + strings.ToUpper(r.Status)
	lines := []string{fmt.Sprintf("[Stage Review] %s %s: %s", stage.DisplayName(), specID, label)}
	for _, w := range r.Warnings {
		lines = append(lines, "  Warning: "+w)
	}
	if len(r.MissingAgents) > 0 {
		lines = append(lines, "  Missing agents: "+strings.Join(r.MissingAgents, ", "))
	}
	if len(r.Agreements) > 0 {
		lines = append(lines, "  Agreements: "+strings.Join(r.Agreements, "; "))
	}
	if len(r.Conflicts) > 0 {
		lines = append(lines, "  Conflicts: "+strings.Join(r.Conflicts, "; "))
	}
	return lines
}

// Checker runs a consensus check for a stage without cached responses.
type Checker interface {
	Check(ctx context.Context, specID string, stage stages.Stage) (*Review, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, specID string, stage stages.Stage) (*Review, error)

func (f CheckerFunc) Check(ctx context.Context, specID string, stage stages.Stage) (*Review, error) {
	return f(ctx, specID, stage)
}

const (
	retryAttempts = 3
	retryDelay    = 100 * time.Millisecond
)

// CheckWithRetry calls c up to three times with 100ms, 200ms backoff and
// returns the last error when every attempt fails.
func CheckWithRetry(ctx context.Context, c Checker, specID string, stage stages.Stage) (*Review, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		review, err := c.Check(ctx, specID, stage)
		if err == nil {
			return review, nil
		}
		lastErr = err
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay * time.Duration(1<<attempt)):
		}
	}
	return nil, lastErr
}

var degradedMarkers = []string{
	"No structured local-memory entries",
	"No consensus artifacts",
	"Missing agent artifacts",
	"No local-memory entries found",
}

// IsDegraded reports whether a check error means the consensus data is
// empty or malformed rather than in disagreement.
func IsDegraded(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range degradedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// agentArtifact is one agent's stored consensus JSON.
type agentArtifact struct {
	Agent   string         `json:"agent"`
	Content map[string]any `json:"content"`
}

// FileChecker reviews agent artifacts stored as
// <evidence>/consensus/<spec>/<stage>_<agent>.json. The aggregator agent's
// content carries a "consensus" object with agreements and conflicts.
type FileChecker struct {
	Evidence   state.Evidence
	Aggregator string
	Expected   func(stage stages.Stage) []string
}

func (c FileChecker) Check(ctx context.Context, specID string, stage stages.Stage) (*Review, error) {
	dir := c.Evidence.ConsensusDir(specID)
	matches, err := filepath.Glob(filepath.Join(dir, stage.TelemetryPrefix()+"*.json"))
	if err != nil {
		return nil, err
	}

	review := &Review{}
	var artifacts []agentArtifact
	var synthesis *Record
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(m)
		if err != nil {
			review.Warnings = append(review.Warnings, fmt.Sprintf("reading %s: %v", filepath.Base(m), err))
			continue
		}
		if strings.HasSuffix(m, "_verdict.json") {
			continue
		}
		if strings.HasSuffix(m, "_synthesis.json") {
			var rec Record
			if err := json.Unmarshal(data, &rec); err == nil && rec.Status != "" {
				synthesis = &rec
			}
			continue
		}
		var a agentArtifact
		if err := json.Unmarshal(data, &a); err != nil || a.Agent == "" {
			review.Warnings = append(review.Warnings, "Skipping malformed artifact "+filepath.Base(m))
			continue
		}
		artifacts = append(artifacts, a)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("No consensus artifacts found for %s stage '%s' in %s", specID, stage, dir)
	}

	present := map[string]bool{}
	var aggregator *agentArtifact
	for i, a := range artifacts {
		present[strings.ToLower(a.Agent)] = true
		if c.Aggregator != "" && strings.EqualFold(a.Agent, c.Aggregator) {
			aggregator = &artifacts[i]
		}
	}
	if aggregator != nil {
		node, _ := aggregator.Content["consensus"].(map[string]any)
		review.Agreements = stringList(node["agreements"])
		review.Conflicts = stringList(node["conflicts"])
	}
	if c.Expected != nil {
		for _, name := range c.Expected(stage) {
			if !present[strings.ToLower(name)] {
				review.MissingAgents = append(review.MissingAgents, name)
			}
		}
	}
	sort.Strings(review.MissingAgents)
	sort.Strings(review.Conflicts)

	switch {
	case synthesis != nil && synthesis.Status == StatusOK && len(review.Conflicts) == 0:
		review.Status = StatusOK
	case len(review.Conflicts) > 0:
		review.Status = StatusConflict
	case aggregator == nil && c.Aggregator != "":
		review.Status = StatusDegraded
		review.Warnings = append(review.Warnings, fmt.Sprintf("Aggregator (%s) summary not found", c.Aggregator))
	case len(review.MissingAgents) > 0:
		review.Status = StatusDegraded
	default:
		review.Status = StatusOK
	}
	return review, nil
}

func stringList(v any) []string {
	arr, _ := v.([]any)
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
