package action

import (
	"context"
	"fmt"
	"slices"

	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/transition"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// DoTransition runs a manual workflow transition on every issue the caller
// may run it on. Issues where the transition is unavailable are skipped.
type DoTransition struct {
	base
	service *transition.Service
}

// NewDoTransition returns the transition action backed by service.
func NewDoTransition(service *transition.Service) (*DoTransition, error) {
	b, err := newBase(DoTransitionKey, KindDoTransition, true, "")
	if err != nil {
		return nil, err
	}
	return &DoTransition{base: b, service: service}, nil
}

// Verify checks the transition is a manual transition of the workflow.
func (a *DoTransition) Verify(_ context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	key, _ := props.String(TransitionParam)
	if key == "" {
		return false, missingParam(DoTransitionKey, TransitionParam)
	}
	if !slices.Contains(a.service.Machine().ManualTransitionKeys(), key) {
		return false, fmt.Errorf("%w: %q", workflow.ErrUnknownTransition, key)
	}
	return true, nil
}

func (a *DoTransition) Execute(props Properties, actx *Context) (bool, error) {
	key, _ := props.String(TransitionParam)
	available, err := a.service.ListTransitionKeys(actx.Issue, actx.Caller)
	if err != nil {
		return false, err
	}
	if !slices.Contains(available, key) {
		return false, nil
	}
	return a.service.DoTransition(actx.Issue, actx.Change, key)
}
