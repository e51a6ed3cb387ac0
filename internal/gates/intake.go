package gates

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jorge-barreto/speckit/internal/capsule"
)

// BriefPath is the capsule object path of a persisted design brief.
const BriefPath = "intake/brief.md"

// CheckIntake requires a completed intake for the spec whose brief still
// resolves in the store. The newest IntakeCompleted event wins.
func CheckIntake(store capsule.Store, specID string) (Decision, *capsule.IntakeCompletedPayload) {
	if store == nil {
		return Decision{
			Verdict:  Warn,
			Messages: []string{"Capsule store unavailable; intake not verified"},
		}, nil
	}
	events, err := store.Events(capsule.EventFilter{Type: capsule.EventIntakeCompleted, SpecID: specID})
	if err != nil {
		return Decision{Verdict: Pause, Reason: fmt.Sprintf("Unable to read intake events for %s: %v", specID, err)}, nil
	}
	if len(events) == 0 {
		return Decision{Verdict: Pause, Reason: fmt.Sprintf("No intake recorded for %s. Provide a design brief to continue.", specID)}, nil
	}

	var p capsule.IntakeCompletedPayload
	if err := events[len(events)-1].Decode(&p); err != nil || p.BriefURI == "" {
		return Decision{Verdict: Pause, Reason: fmt.Sprintf("Intake for %s has no brief reference. Provide a design brief to continue.", specID)}, nil
	}
	if _, err := store.GetBytes(p.BriefURI); err != nil {
		return Decision{
			Verdict: Pause,
			Reason:  fmt.Sprintf("Intake brief for %s does not resolve (%s). Provide a design brief to continue.", specID, p.BriefURI),
		}, &p
	}
	return Decision{Verdict: Allow}, &p
}

// RecordIntake stores a design brief and emits IntakeCompleted pointing at it.
func RecordIntake(store capsule.Store, specID, runID string, brief []byte, at time.Time) (*capsule.IntakeCompletedPayload, error) {
	if store == nil {
		return nil, fmt.Errorf("recording intake for %s: no capsule store", specID)
	}
	uri, err := store.PutBytes(specID, runID, capsule.ObjectArtifact, BriefPath, brief)
	if err != nil {
		return nil, fmt.Errorf("storing brief: %w", err)
	}
	p := &capsule.IntakeCompletedPayload{SpecID: specID, BriefURI: uri, Hash: hashBytes(brief)}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if _, err := store.EmitEvent(capsule.Event{
		Type:      capsule.EventIntakeCompleted,
		SpecID:    specID,
		RunID:     runID,
		Timestamp: at,
		Payload:   payload,
	}); err != nil {
		return nil, fmt.Errorf("emitting intake event: %w", err)
	}
	return p, nil
}
