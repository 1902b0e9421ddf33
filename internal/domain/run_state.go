package domain

// RunState is the lifecycle of one (fixture, parameter) pair.
type RunState string

const (
	RunStatePending               RunState = "pending"
	RunStateRecordingAndReplaying RunState = "recording_and_replaying"
	RunStateExtracting            RunState = "extracting"
	RunStateComplete              RunState = "complete"
	RunStateFailed                RunState = "failed"
)

func (s RunState) Terminal() bool {
	return s == RunStateComplete || s == RunStateFailed
}

// CanTransitionRunState enforces forward-only progression. Failed is reachable from
// every non-terminal state.
func CanTransitionRunState(current, next RunState) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	if current.Terminal() {
		return false
	}
	if next == RunStateFailed {
		return true
	}
	return runStateOrder(current)+1 == runStateOrder(next)
}

func runStateOrder(state RunState) int {
	switch state {
	case RunStatePending:
		return 1
	case RunStateRecordingAndReplaying:
		return 2
	case RunStateExtracting:
		return 3
	case RunStateComplete, RunStateFailed:
		return 4
	default:
		return 0
	}
}
