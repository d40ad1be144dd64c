package domain

import (
	"fmt"
	"strings"
)

type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateError      State = "ERROR"
	StateRefunded   State = "REFUNDED"
)

func ParseState(raw string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatePending, StateProcessing, StateSuccess, StateError, StateRefunded:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
}

// TransitionOutcome tells the caller whether anything must be written.
type TransitionOutcome int

const (
	TransitionApplied TransitionOutcome = iota + 1
	// TransitionRepeat is a redelivery of an event whose target already holds.
	TransitionRepeat
)

var transitions = map[State]map[State]struct{}{
	StatePending: {
		StateProcessing: {},
		StateSuccess:    {},
		StateError:      {},
	},
	StateProcessing: {
		StateSuccess: {},
		StateError:   {},
	},
	StateSuccess: {
		StateRefunded: {},
	},
}

// CanTransition reports whether from -> to is an edge of the state graph.
func CanTransition(from, to State) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition classifies from -> to. Repeats are only recognised for states a
// gateway event can target; REFUNDED -> REFUNDED is invalid.
func Transition(from, to State) (TransitionOutcome, error) {
	if from == to {
		switch to {
		case StateProcessing, StateSuccess, StateError:
			return TransitionRepeat, nil
		default:
			return 0, &InvalidTransitionError{From: string(from), To: string(to)}
		}
	}
	if CanTransition(from, to) {
		return TransitionApplied, nil
	}
	return 0, &InvalidTransitionError{From: string(from), To: string(to)}
}
