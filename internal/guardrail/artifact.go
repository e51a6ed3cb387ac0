package guardrail

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jorge-barreto/speckit/internal/state"
)

// ErrNoTelemetry means no telemetry artifact exists for the requested
// spec and stage. It signals a setup problem, not a failed check.
var ErrNoTelemetry = errors.New("no telemetry found")

// Artifact is one telemetry file.
type Artifact struct {
	Path    string
	ModTime time.Time
	Data    []byte
}

// ArtifactSource locates the newest telemetry artifact for a spec whose
// name starts with prefix.
type ArtifactSource interface {
	LatestArtifact(specID, prefix string) (*Artifact, error)
}

// DirSource reads telemetry from the evidence commands tree, choosing the
// most recently modified matching *.json file.
type DirSource struct {
	Evidence state.Evidence
}

func (s DirSource) LatestArtifact(specID, prefix string) (*Artifact, error) {
	dir := s.Evidence.CommandsDir(specID)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = filepath.Join(dir, name)
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return nil, fmt.Errorf("%w for %s (pattern %s* in %s)", ErrNoTelemetry, specID, prefix, dir)
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", latest, err)
	}
	return &Artifact{Path: latest, ModTime: latestMod, Data: data}, nil
}
