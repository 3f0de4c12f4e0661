// Package workflow implements the issue state machine: states, guarded
// transitions and the functions run when an issue moves.
package workflow

import (
	"fmt"
	"slices"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/types"
)

var (
	// ErrUnknownTransition is returned for a transition key the machine does not define.
	ErrUnknownTransition = fmt.Errorf("%w: unknown transition", types.ErrInvalidArgument)
	// ErrInvalidTransition is returned for a known transition that does not
	// leave the issue's current state.
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", types.ErrInvalidArgument)
	// ErrUnknownStatus is returned when an issue is in a state the machine does not define.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", types.ErrIllegalState)
)

// StateMachine holds the workflow states and transitions. It is built once
// and never mutated, so concurrent reads need no locking.
type StateMachine struct {
	states      []types.Status
	transitions []*Transition
	byKey       map[string]*Transition
	setter      *fields.Setter
}

// Builder collects states and transitions in registration order.
type Builder struct {
	states      []types.Status
	transitions []*TransitionBuilder
	setter      *fields.Setter
}

// NewBuilder starts a state machine definition.
func NewBuilder(setter *fields.Setter) *Builder {
	if setter == nil {
		setter = fields.NewSetter()
	}
	return &Builder{setter: setter}
}

// States declares the workflow states.
func (b *Builder) States(states ...types.Status) *Builder {
	b.states = append(b.states, states...)
	return b
}

// Transition registers a transition. Registration order is the order
// transitions are listed in.
func (b *Builder) Transition(t *TransitionBuilder) *Builder {
	b.transitions = append(b.transitions, t)
	return b
}

// Build validates the definition and returns the immutable machine.
func (b *Builder) Build() (*StateMachine, error) {
	m := &StateMachine{
		states: slices.Clone(b.states),
		byKey:  make(map[string]*Transition, len(b.transitions)),
		setter: b.setter,
	}
	for _, tb := range b.transitions {
		t, err := tb.Build()
		if err != nil {
			return nil, err
		}
		if _, dup := m.byKey[t.key]; dup {
			return nil, fmt.Errorf("%w: duplicate transition %q", types.ErrInvalidArgument, t.key)
		}
		for _, s := range append(t.From(), t.to) {
			if !slices.Contains(m.states, s) {
				return nil, fmt.Errorf("%w: transition %q uses undeclared state %q", types.ErrInvalidArgument, t.key, s)
			}
		}
		m.byKey[t.key] = t
		m.transitions = append(m.transitions, t)
	}
	return m, nil
}

// States returns the declared states.
func (m *StateMachine) States() []types.Status {
	return slices.Clone(m.states)
}

// Transition looks a transition up by key.
func (m *StateMachine) Transition(key string) (*Transition, bool) {
	t, ok := m.byKey[key]
	return t, ok
}

// ManualTransitionKeys returns the keys of every manual transition in
// registration order.
func (m *StateMachine) ManualTransitionKeys() []string {
	var keys []string
	for _, t := range m.transitions {
		if !t.automatic {
			keys = append(keys, t.key)
		}
	}
	return keys
}

// OutTransitions returns the manual transitions leaving the issue's current
// state, in registration order, whether or not their conditions hold.
func (m *StateMachine) OutTransitions(issue *types.Issue) ([]*Transition, error) {
	if !slices.Contains(m.states, issue.Status) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, issue.Status)
	}
	var out []*Transition
	for _, t := range m.transitions {
		if !t.automatic && t.AppliesFrom(issue.Status) {
			out = append(out, t)
		}
	}
	return out, nil
}

// AvailableTransitions returns the out-transitions whose conditions hold.
func (m *StateMachine) AvailableTransitions(issue *types.Issue) ([]*Transition, error) {
	out, err := m.OutTransitions(issue)
	if err != nil {
		return nil, err
	}
	available := out[:0:0]
	for _, t := range out {
		if t.Supports(issue) {
			available = append(available, t)
		}
	}
	return available, nil
}

// DoManualTransition moves the issue along the transition named key.
//
// A key the machine does not define fails with ErrUnknownTransition and a
// key that does not leave the current state fails with ErrInvalidTransition.
// When the transition applies but a condition does not hold, the issue is
// left untouched and false is returned without error.
func (m *StateMachine) DoManualTransition(issue *types.Issue, key string, ctx types.ChangeContext) (bool, error) {
	t, ok := m.byKey[key]
	if !ok || t.automatic {
		return false, fmt.Errorf("%w: %q", ErrUnknownTransition, key)
	}
	out, err := m.OutTransitions(issue)
	if err != nil {
		return false, err
	}
	if !slices.Contains(out, t) {
		return false, fmt.Errorf("%w: %q does not apply from status %s", ErrInvalidTransition, key, issue.Status)
	}
	if !t.Supports(issue) {
		return false, nil
	}
	m.apply(t, issue, ctx)
	return true, nil
}

// DoAutomaticTransition applies the first automatic transition leaving the
// issue's state whose conditions hold, and reports whether one applied.
func (m *StateMachine) DoAutomaticTransition(issue *types.Issue, ctx types.ChangeContext) (bool, error) {
	if !slices.Contains(m.states, issue.Status) {
		return false, fmt.Errorf("%w: %q", ErrUnknownStatus, issue.Status)
	}
	for _, t := range m.transitions {
		if t.automatic && t.AppliesFrom(issue.Status) && t.Supports(issue) {
			m.apply(t, issue, ctx)
			return true, nil
		}
	}
	return false, nil
}

func (m *StateMachine) apply(t *Transition, issue *types.Issue, ctx types.ChangeContext) {
	fc := &FunctionContext{Issue: issue, Change: ctx, Setter: m.setter}
	for _, fn := range t.functions {
		fn(fc)
	}
	m.setter.SetStatus(issue, t.to, ctx)
}
