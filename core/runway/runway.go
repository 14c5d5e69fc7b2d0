// Package runway models the approval/execution workflow as a pure transition
// table. It has no concurrency and no I/O: callers hold the current state and
// ask the table what an event does to it.
package runway

// State is one step of the approval/execution workflow.
type State string

const (
	StateDraft           State = "draft"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateExecuting       State = "executing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// Event is a workflow action applied to a state.
type Event string

const (
	EventSubmit   Event = "submit"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventRevise   Event = "revise"
	EventExecute  Event = "execute"
	EventComplete Event = "complete"
	EventFail     Event = "fail"
	EventRetry    Event = "retry"
	EventCancel   Event = "cancel"
)

// transitions is the full enumeration of legal moves. Anything absent from
// the table is an illegal transition.
var transitions = map[State]map[Event]State{
	StateDraft: {
		EventSubmit: StatePendingApproval,
		EventCancel: StateCancelled,
	},
	StatePendingApproval: {
		EventApprove: StateApproved,
		EventReject:  StateRejected,
		EventCancel:  StateCancelled,
	},
	StateApproved: {
		EventExecute: StateExecuting,
		EventCancel:  StateCancelled,
	},
	StateRejected: {
		EventRevise: StateDraft,
		EventCancel: StateCancelled,
	},
	StateExecuting: {
		EventComplete: StateCompleted,
		EventFail:     StateFailed,
	},
	StateFailed: {
		EventRetry:  StateExecuting,
		EventCancel: StateCancelled,
	},
}

// Transition returns the state reached by applying event to state. The
// second return is false when the table has no entry for the pair.
func Transition(state State, event Event) (State, bool) {
	next, ok := transitions[state][event]
	return next, ok
}

// IsTerminal reports whether no event can move the workflow out of state.
func IsTerminal(state State) bool {
	return len(transitions[state]) == 0
}

// IsActive reports whether the workflow has been submitted and is still in
// flight: awaiting approval, approved, or executing.
func IsActive(state State) bool {
	switch state {
	case StatePendingApproval, StateApproved, StateExecuting:
		return true
	default:
		return false
	}
}

// eventOrder fixes the order AvailableEvents reports in, so callers can
// render choices deterministically.
var eventOrder = []Event{
	EventSubmit,
	EventApprove,
	EventReject,
	EventRevise,
	EventExecute,
	EventComplete,
	EventFail,
	EventRetry,
	EventCancel,
}

// AvailableEvents lists the events legal in the given state.
func AvailableEvents(state State) []Event {
	legal := transitions[state]
	if len(legal) == 0 {
		return nil
	}
	events := make([]Event, 0, len(legal))
	for _, event := range eventOrder {
		if _, ok := legal[event]; ok {
			events = append(events, event)
		}
	}
	return events
}
