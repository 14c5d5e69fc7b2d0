package runway

import (
	"slices"
	"testing"
)

func TestTransitions(t *testing.T) {
	for _, tc := range []struct {
		state State
		event Event
		want  State
	}{
		{StateDraft, EventSubmit, StatePendingApproval},
		{StateDraft, EventCancel, StateCancelled},
		{StatePendingApproval, EventApprove, StateApproved},
		{StatePendingApproval, EventReject, StateRejected},
		{StatePendingApproval, EventCancel, StateCancelled},
		{StateApproved, EventExecute, StateExecuting},
		{StateApproved, EventCancel, StateCancelled},
		{StateRejected, EventRevise, StateDraft},
		{StateExecuting, EventComplete, StateCompleted},
		{StateExecuting, EventFail, StateFailed},
		{StateFailed, EventRetry, StateExecuting},
		{StateFailed, EventCancel, StateCancelled},
	} {
		next, ok := Transition(tc.state, tc.event)
		if !ok {
			t.Fatalf("expected %s + %s to be legal", tc.state, tc.event)
		}
		if next != tc.want {
			t.Fatalf("expected %s + %s -> %s, got %s", tc.state, tc.event, tc.want, next)
		}
	}
}

func TestIllegalTransitions(t *testing.T) {
	for _, tc := range []struct {
		state State
		event Event
	}{
		{StateDraft, EventApprove},
		{StateDraft, EventComplete},
		{StatePendingApproval, EventExecute},
		{StateExecuting, EventCancel},
		{StateCompleted, EventRetry},
		{StateCancelled, EventSubmit},
	} {
		if _, ok := Transition(tc.state, tc.event); ok {
			t.Fatalf("expected %s + %s to be illegal", tc.state, tc.event)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for state, terminal := range map[State]bool{
		StateDraft:           false,
		StatePendingApproval: false,
		StateApproved:        false,
		StateRejected:        false,
		StateExecuting:       false,
		StateFailed:          false,
		StateCompleted:       true,
		StateCancelled:       true,
	} {
		if got := IsTerminal(state); got != terminal {
			t.Fatalf("expected IsTerminal(%s) = %v, got %v", state, terminal, got)
		}
	}
}

func TestActiveStates(t *testing.T) {
	for state, active := range map[State]bool{
		StateDraft:           false,
		StatePendingApproval: true,
		StateApproved:        true,
		StateExecuting:       true,
		StateRejected:        false,
		StateFailed:          false,
		StateCompleted:       false,
		StateCancelled:       false,
	} {
		if got := IsActive(state); got != active {
			t.Fatalf("expected IsActive(%s) = %v, got %v", state, active, got)
		}
	}
}

func TestAvailableEvents(t *testing.T) {
	if got := AvailableEvents(StatePendingApproval); !slices.Equal(got, []Event{EventApprove, EventReject, EventCancel}) {
		t.Fatalf("expected deterministic event list, got %v", got)
	}
	if got := AvailableEvents(StateCompleted); got != nil {
		t.Fatalf("expected no events in terminal state, got %v", got)
	}
}

func TestEveryTransitionLandsOnKnownState(t *testing.T) {
	known := map[State]bool{
		StateDraft: true, StatePendingApproval: true, StateApproved: true,
		StateRejected: true, StateExecuting: true, StateCompleted: true,
		StateFailed: true, StateCancelled: true,
	}
	for state, legal := range transitions {
		for event, next := range legal {
			if !known[next] {
				t.Fatalf("transition %s + %s lands on unknown state %s", state, event, next)
			}
		}
	}
}
