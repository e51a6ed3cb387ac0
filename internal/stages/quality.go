package stages

// QualityCheckpoint is a review injected before a stage runs.
type QualityCheckpoint string

const (
	BeforeSpecify QualityCheckpoint = "before-specify"
	AfterSpecify  QualityCheckpoint = "after-specify"
	AfterTasks    QualityCheckpoint = "after-tasks"
)

// QualityGate is the kind of review a checkpoint performs.
type QualityGate string

const (
	GateClarify   QualityGate = "clarify"
	GateChecklist QualityGate = "checklist"
	GateAnalyze   QualityGate = "analyze"
)

// CheckpointFor returns the checkpoint that must complete before s runs.
func CheckpointFor(s Stage) (QualityCheckpoint, bool) {
	switch s {
	case Plan:
		return BeforeSpecify, true
	case Tasks:
		return AfterSpecify, true
	case Implement:
		return AfterTasks, true
	}
	return "", false
}

// Gate returns the review a checkpoint runs.
func (c QualityCheckpoint) Gate() QualityGate {
	switch c {
	case BeforeSpecify:
		return GateClarify
	case AfterSpecify:
		return GateChecklist
	default:
		return GateAnalyze
	}
}

// Command returns the slash command name of the gate.
func (g QualityGate) Command() string {
	return "/speckit." + string(g)
}
