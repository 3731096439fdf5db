package task

// Outcome is the result of invoking the work: either a value or a failure.
type Outcome struct {
	Value   any
	Failure *TaskFailure
}

// Succeeded reports whether the work returned normally.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil
}

// State is the lifecycle position of an Envelope
type State int32

// Envelope states. Transitions only move forward:
// Created -> Started -> Finished|Failed -> Restored.
const (
	StateCreated State = iota
	StateStarted
	StateFinished
	StateFailed
	StateRestored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	default:
		return "unknown"
	}
}
