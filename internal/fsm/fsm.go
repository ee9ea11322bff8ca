// Package fsm drives small state machines from a transition table.
package fsm

import (
	"context"
)

type selector interface {
	~int
}

// Event contains "incoming" data processed by a state machine.
type Event struct {
	Tag  string
	Data any
}

// StateM is implemented by the types that Update can drive.
type StateM[Sel selector] interface {
	State() Sel
	SetState(s Sel)
}

// TransitionFunc processes evt and returns the next state.
type TransitionFunc[Sel selector, S StateM[Sel]] func(s S, ctx context.Context, evt Event) (Sel, error)

// Transition describes what a state accepts.
// Allow lists the Event tags the state accepts and Exit the states it may move to.
type Transition[Sel selector, S StateM[Sel]] struct {
	Allow []string
	Call  TransitionFunc[Sel, S]
	Exit  []Sel
}

// Update runs the Transition registered for s current state.
//
// s state is left unchanged if evt is not allowed or if the Transition Call errors.
func Update[Sel selector, S StateM[Sel]](ctx context.Context, s S, trs []Transition[Sel, S], evt Event) error {
	sel := s.State()
	if sel < 0 || int(sel) >= len(trs) {
		return newError("invalid inner state %d", sel)
	}

	tr := trs[int(sel)]
	var allowed bool
	for _, tag := range tr.Allow {
		if tag == evt.Tag {
			allowed = true
			break
		}
	}
	if !allowed {
		return newFlaggedError(ErrNotAllowed, "event %s not allowed in state %d", evt.Tag, sel)
	}

	var err error
	if nil != tr.Call {
		sel, err = tr.Call(s, ctx, evt)
		if nil != err {
			return err
		}
	}

	allowed = false
	for _, exit := range tr.Exit {
		if exit == sel {
			allowed = true
			break
		}
	}
	if !allowed {
		return newError("exit %d not allowed", sel)
	}

	s.SetState(sel)

	return nil
}
