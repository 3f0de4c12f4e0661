// Package transition scopes workflow transitions to what the caller is
// allowed to see and do.
package transition

import (
	"fmt"

	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// Service is the permission-aware facade over the workflow state machine.
type Service struct {
	machine *workflow.StateMachine
}

// NewService wraps machine.
func NewService(machine *workflow.StateMachine) *Service {
	return &Service{machine: machine}
}

// ListTransitions returns the transitions the caller may run on issue right
// now, in registration order. Ungated transitions need a logged-in caller;
// gated ones need the permission on the issue's project.
func (s *Service) ListTransitions(issue *types.Issue, caller permission.Session) ([]*workflow.Transition, error) {
	available, err := s.machine.AvailableTransitions(issue)
	if err != nil {
		return nil, err
	}
	var out []*workflow.Transition
	for _, t := range available {
		if allowed(t, issue, caller) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListTransitionKeys is ListTransitions reduced to the transition keys.
func (s *Service) ListTransitionKeys(issue *types.Issue, caller permission.Session) ([]string, error) {
	ts, err := s.ListTransitions(issue, caller)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ts))
	for i, t := range ts {
		keys[i] = t.Key()
	}
	return keys, nil
}

// CheckTransitionPermission fails with types.ErrUnauthorized when the
// transition named key leaves the issue's state and requires a permission
// the caller lacks. A transition that does not apply right now is not a
// permission problem and passes.
func (s *Service) CheckTransitionPermission(key string, issue *types.Issue, caller permission.Session) error {
	out, err := s.machine.OutTransitions(issue)
	if err != nil {
		return err
	}
	for _, t := range out {
		if t.Key() != key {
			continue
		}
		if p := t.RequiredPermission(); p != "" && !caller.HasProjectPermission(p, issue.ProjectUUID) {
			return fmt.Errorf("%w: transition %q requires permission %q on project %s",
				types.ErrUnauthorized, key, p, issue.ProjectUUID)
		}
		return nil
	}
	return nil
}

// DoTransition runs the transition named key. It does not check
// permissions; call CheckTransitionPermission first for a hard failure.
func (s *Service) DoTransition(issue *types.Issue, ctx types.ChangeContext, key string) (bool, error) {
	return s.machine.DoManualTransition(issue, key, ctx)
}

// Machine returns the wrapped state machine.
func (s *Service) Machine() *workflow.StateMachine {
	return s.machine
}

func allowed(t *workflow.Transition, issue *types.Issue, caller permission.Session) bool {
	p := t.RequiredPermission()
	if p == "" {
		return caller.IsLoggedIn()
	}
	return caller.HasProjectPermission(p, issue.ProjectUUID)
}
