package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PipelineBranch identifies one run so resumed runs only see responses
// from their own branch.
type PipelineBranch struct {
	ID        string
	Parent    string
	CreatedAt time.Time
	uuid      string
}

// NewPipelineBranch returns <spec>-<yyyymmddhhmmss>-<uuid>.
func NewPipelineBranch(specID string, now time.Time) PipelineBranch {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return PipelineBranch{
		ID:        fmt.Sprintf("%s-%s-%s", specID, now.UTC().Format("20060102150405"), u),
		CreatedAt: now,
		uuid:      u,
	}
}

// NestedBranch is a retry branch under parent.
func NestedBranch(specID, parent string, now time.Time) PipelineBranch {
	b := NewPipelineBranch(specID, now)
	b.Parent = parent
	return b
}

// ShortID is the first eight characters of the uuid, for display.
func (b PipelineBranch) ShortID() string {
	if len(b.uuid) < 8 {
		return b.uuid
	}
	return b.uuid[:8]
}

// StoreBranch is the capsule branch a run writes to.
func (b PipelineBranch) StoreBranch() string {
	return "run/" + b.ID
}
