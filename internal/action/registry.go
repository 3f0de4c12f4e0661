package action

import (
	"fmt"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/transition"
	"github.com/qualityhub/issueflow/internal/types"
)

// Registry holds the available actions by key, in registration order.
type Registry struct {
	actions []Action
	byKey   map[string]Action
}

// NewRegistry registers actions, rejecting duplicate keys.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Action, len(actions))}
	for _, a := range actions {
		if _, dup := r.byKey[a.Key()]; dup {
			return nil, fmt.Errorf("%w: duplicate action %q", types.ErrInvalidArgument, a.Key())
		}
		r.byKey[a.Key()] = a
		r.actions = append(r.actions, a)
	}
	return r, nil
}

// DefaultRegistry registers every built-in action.
func DefaultRegistry(setter *fields.Setter, users UserFinder, service *transition.Service) (*Registry, error) {
	assign, err := NewAssign(setter, users)
	if err != nil {
		return nil, err
	}
	severity, err := NewSetSeverity(setter)
	if err != nil {
		return nil, err
	}
	issueType, err := NewSetType(setter)
	if err != nil {
		return nil, err
	}
	addTags, err := NewAddTags(setter)
	if err != nil {
		return nil, err
	}
	removeTags, err := NewRemoveTags(setter)
	if err != nil {
		return nil, err
	}
	doTransition, err := NewDoTransition(service)
	if err != nil {
		return nil, err
	}
	comment, err := NewComment(setter)
	if err != nil {
		return nil, err
	}
	return NewRegistry(assign, severity, issueType, addTags, removeTags, doTransition, comment)
}

// Get returns the action registered under key.
func (r *Registry) Get(key string) (Action, bool) {
	a, ok := r.byKey[key]
	return a, ok
}

// All returns the actions in registration order.
func (r *Registry) All() []Action {
	return append([]Action(nil), r.actions...)
}
