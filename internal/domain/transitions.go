package domain

// Trigger identifies what caused a state transition: a user-issued
// control action or a parsed stream event.
type Trigger string

const (
	// User actions, applied through the dispatcher.
	TriggerStart  Trigger = "start"
	TriggerPause  Trigger = "pause"
	TriggerResume Trigger = "resume"
	TriggerCancel Trigger = "cancel"
	TriggerRetry  Trigger = "retry"

	// Stream events, applied through ingestion.
	TriggerEventStarting  Trigger = "event_starting"
	TriggerEventProgress  Trigger = "event_progress"
	TriggerEventCompleted Trigger = "event_completed"
	TriggerEventFailed    Trigger = "event_failed"

	// TriggerStreamLost marks a stream that terminated without a
	// terminal event for the task.
	TriggerStreamLost Trigger = "stream_lost"

	// TriggerCreated is not a transition; it labels journal entries for
	// task creation.
	TriggerCreated Trigger = "created"

	// TriggerPruned labels journal entries for retention pruning.
	TriggerPruned Trigger = "pruned"
)

// IsAction reports whether the trigger is a user-issued control action.
func (t Trigger) IsAction() bool {
	switch t {
	case TriggerStart, TriggerPause, TriggerResume, TriggerCancel, TriggerRetry:
		return true
	}
	return false
}

// transitions is the single source of truth for the task state machine.
// Anything not listed here is rejected with InvalidTransitionError.
//
// running → running on a generic progress event is a status-preserving
// progress update, not a real transition; it is listed so in-flight step
// counters can advance without tripping validation.
var transitions = map[Status]map[Trigger]Status{
	StatusPending: {
		TriggerStart:         StatusStarting,
		TriggerEventStarting: StatusStarting,
		TriggerCancel:        StatusCancelled,
	},
	StatusStarting: {
		TriggerEventProgress: StatusRunning,
		TriggerEventFailed:   StatusFailed,
		TriggerCancel:        StatusCancelled,
	},
	StatusRunning: {
		TriggerPause:          StatusPaused,
		TriggerEventProgress:  StatusRunning,
		TriggerEventCompleted: StatusCompleted,
		TriggerEventFailed:    StatusFailed,
		TriggerCancel:         StatusCancelled,
		TriggerStreamLost:     StatusInterrupted,
	},
	StatusPaused: {
		TriggerResume: StatusResuming,
		TriggerCancel: StatusCancelled,
	},
	StatusResuming: {
		TriggerEventProgress: StatusRunning,
		TriggerCancel:        StatusCancelled,
	},
	StatusInterrupted: {
		TriggerRetry:  StatusPending,
		TriggerCancel: StatusCancelled,
	},
	StatusFailed: {
		TriggerRetry: StatusPending,
	},
	StatusCancelled: {
		TriggerRetry: StatusPending,
	},
}

// Next returns the destination status for (from, trigger) and whether
// the transition is permitted.
func Next(from Status, trigger Trigger) (Status, bool) {
	to, ok := transitions[from][trigger]
	return to, ok
}
