package gates

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/jorge-barreto/speckit/internal/capsule"
)

// PolicyPath is the capsule object path of a captured policy document.
const PolicyPath = "policy/policy.toml"

// CapturePolicy hashes the policy document at path, stores it, records it
// as the store's current policy and emits PolicySnapshotRef.
func CapturePolicy(store capsule.Store, path, specID, runID string, at time.Time) (*capsule.PolicySnapshot, error) {
	if store == nil {
		return nil, fmt.Errorf("capturing policy: no capsule store")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}

	uri, err := store.PutBytes(specID, runID, capsule.ObjectPolicy, PolicyPath, data)
	if err != nil {
		return nil, fmt.Errorf("storing policy: %w", err)
	}
	id, err := nanoid.New()
	if err != nil {
		return nil, err
	}
	snap := capsule.PolicySnapshot{ID: id, Hash: hashBytes(data), URI: uri, CapturedAt: at.UTC()}
	if err := store.SetCurrentPolicy(snap); err != nil {
		return nil, fmt.Errorf("recording policy: %w", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	if _, err := store.EmitEvent(capsule.Event{
		Type:      capsule.EventPolicySnapshotRef,
		SpecID:    specID,
		RunID:     runID,
		Timestamp: at,
		Payload:   payload,
	}); err != nil {
		return &snap, fmt.Errorf("emitting policy event: %w", err)
	}
	return &snap, nil
}

// VerifyBinding checks that the captured policy still resolves and hashes
// to the captured hash.
func VerifyBinding(store capsule.Store, snap *capsule.PolicySnapshot) error {
	if snap == nil {
		return nil
	}
	if store == nil {
		return fmt.Errorf("policy binding: no capsule store")
	}
	data, err := store.GetBytes(snap.URI)
	if err != nil {
		return fmt.Errorf("policy binding: %w", err)
	}
	if hashBytes(data) != snap.Hash {
		return fmt.Errorf("policy binding: %s no longer matches captured hash %s", snap.URI, snap.Hash)
	}
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
