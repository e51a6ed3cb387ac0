// Package capsule is the durable, branchable store for run artifacts,
// audit events and policy snapshots.
package capsule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a URI, branch or policy does not resolve.
var ErrNotFound = errors.New("capsule: not found")

// MainBranch is the branch every store starts on and run branches merge into.
const MainBranch = "main"

// EventType names an audit event.
type EventType string

const (
	EventIntakeCompleted    EventType = "IntakeCompleted"
	EventMaieuticCompleted  EventType = "MaieuticCompleted"
	EventStageTransition    EventType = "StageTransition"
	EventPolicySnapshotRef  EventType = "PolicySnapshotRef"
	EventBranchMerged       EventType = "BranchMerged"
	EventGateDecision       EventType = "GateDecision"
	EventError              EventType = "ErrorEvent"
	EventCheckpointRecorded EventType = "CheckpointRecorded"
)

// ObjectType classifies stored bytes. Curated merges carry only artifact
// and policy objects.
type ObjectType string

const (
	ObjectArtifact ObjectType = "artifact"
	ObjectPolicy   ObjectType = "policy"
	ObjectDebug    ObjectType = "debug"
)

// MergeMode selects which objects MergeBranch copies.
type MergeMode string

const (
	MergeCurated MergeMode = "curated"
	MergeFull    MergeMode = "full"
)

// Event is one append-only audit record.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	SpecID    string          `json:"spec_id,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Branch    string          `json:"branch"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

// EventFilter narrows Events. Zero fields match everything.
type EventFilter struct {
	Type   EventType
	SpecID string
	RunID  string
	Branch string
}

func (f EventFilter) match(e Event) bool {
	return (f.Type == "" || e.Type == f.Type) &&
		(f.SpecID == "" || e.SpecID == f.SpecID) &&
		(f.RunID == "" || e.RunID == f.RunID) &&
		(f.Branch == "" || e.Branch == f.Branch)
}

// IntakeCompletedPayload is emitted when a design brief is persisted for a spec.
type IntakeCompletedPayload struct {
	SpecID   string `json:"spec_id"`
	BriefURI string `json:"brief_uri"`
	Hash     string `json:"brief_hash"`
}

// PolicySnapshot records the policy document bound to a run.
type PolicySnapshot struct {
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	URI        string    `json:"uri"`
	CapturedAt time.Time `json:"captured_at"`
}

// Branch describes a named branch.
type Branch struct {
	Name      string    `json:"name"`
	Parent    string    `json:"parent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the durable store the pipeline writes through.
type Store interface {
	OpenBranch(name, parent string) error
	SwitchBranch(name string) error
	CurrentBranch() string
	EmitEvent(e Event) (string, error)
	Events(f EventFilter) ([]Event, error)
	PutBytes(specID, runID string, kind ObjectType, path string, data []byte) (string, error)
	GetBytes(uri string) ([]byte, error)
	CurrentPolicy() (*PolicySnapshot, error)
	SetCurrentPolicy(p PolicySnapshot) error
	MergeBranch(from, to string, mode MergeMode) (int, error)
	Close() error
}

// URI builds the stable logical address of an object:
// mv2://<workspace>/<spec>/<run>/<kind>/<path>.
func URI(workspace, specID, runID string, kind ObjectType, path string) (string, error) {
	parts := []string{workspace, specID, runID, string(kind), strings.TrimLeft(path, "/")}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return "", fmt.Errorf("capsule: invalid uri component in %q", strings.Join(parts, "/"))
		}
	}
	return "mv2://" + strings.Join(parts, "/"), nil
}

// KindOf extracts the object type from a URI built by URI.
func KindOf(uri string) ObjectType {
	rest, ok := strings.CutPrefix(uri, "mv2://")
	if !ok {
		return ""
	}
	parts := strings.SplitN(rest, "/", 5)
	if len(parts) < 5 {
		return ""
	}
	return ObjectType(parts[3])
}
