package workflow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/qualityhub/issueflow/internal/types"
)

// Transition is a named edge of the workflow. Transitions are immutable once
// built and safe to share between goroutines.
type Transition struct {
	key        string
	from       []types.Status
	to         types.Status
	permission string
	conditions []Condition
	functions  []Function
	automatic  bool
}

// Key returns the unique transition key.
func (t *Transition) Key() string { return t.key }

// From returns the source states.
func (t *Transition) From() []types.Status { return slices.Clone(t.from) }

// To returns the destination state.
func (t *Transition) To() types.Status { return t.to }

// RequiredPermission returns the project permission needed to run the
// transition, or "" when any authenticated caller may.
func (t *Transition) RequiredPermission() string { return t.permission }

// Conditions returns the guard conditions in evaluation order.
func (t *Transition) Conditions() []Condition { return slices.Clone(t.conditions) }

// Automatic reports whether only the engine may trigger the transition.
func (t *Transition) Automatic() bool { return t.automatic }

// AppliesFrom reports whether status is a source state of the transition.
func (t *Transition) AppliesFrom(status types.Status) bool {
	return slices.Contains(t.from, status)
}

// Supports reports whether every condition holds for issue.
func (t *Transition) Supports(issue *types.Issue) bool {
	return AllMatch(issue, t.conditions)
}

func (t *Transition) String() string {
	from := make([]string, len(t.from))
	for i, s := range t.from {
		from[i] = string(s)
	}
	return fmt.Sprintf("%s(%s->%s)", t.key, strings.Join(from, ","), t.to)
}

// TransitionBuilder assembles a Transition.
type TransitionBuilder struct {
	t Transition
}

// NewTransition starts building the transition named key.
func NewTransition(key string) *TransitionBuilder {
	return &TransitionBuilder{t: Transition{key: key}}
}

// From sets the source states.
func (b *TransitionBuilder) From(statuses ...types.Status) *TransitionBuilder {
	b.t.from = append(b.t.from, statuses...)
	return b
}

// To sets the destination state.
func (b *TransitionBuilder) To(status types.Status) *TransitionBuilder {
	b.t.to = status
	return b
}

// RequirePermission gates the transition behind a project permission.
func (b *TransitionBuilder) RequirePermission(permission string) *TransitionBuilder {
	b.t.permission = permission
	return b
}

// When appends guard conditions.
func (b *TransitionBuilder) When(conditions ...Condition) *TransitionBuilder {
	b.t.conditions = append(b.t.conditions, conditions...)
	return b
}

// Then appends post-transition functions.
func (b *TransitionBuilder) Then(functions ...Function) *TransitionBuilder {
	b.t.functions = append(b.t.functions, functions...)
	return b
}

// Automatic marks the transition as engine-only.
func (b *TransitionBuilder) Automatic() *TransitionBuilder {
	b.t.automatic = true
	return b
}

// Build validates and returns the transition.
func (b *TransitionBuilder) Build() (*Transition, error) {
	t := b.t
	if strings.TrimSpace(t.key) == "" {
		return nil, fmt.Errorf("%w: transition key must not be blank", types.ErrInvalidArgument)
	}
	if len(t.from) == 0 {
		return nil, fmt.Errorf("%w: transition %q has no source state", types.ErrInvalidArgument, t.key)
	}
	if !t.to.IsValid() {
		return nil, fmt.Errorf("%w: transition %q has invalid destination %q", types.ErrInvalidArgument, t.key, t.to)
	}
	for _, s := range t.from {
		if !s.IsValid() {
			return nil, fmt.Errorf("%w: transition %q has invalid source %q", types.ErrInvalidArgument, t.key, s)
		}
	}
	t.from = slices.Clone(t.from)
	t.conditions = slices.Clone(t.conditions)
	t.functions = slices.Clone(t.functions)
	return &t, nil
}
