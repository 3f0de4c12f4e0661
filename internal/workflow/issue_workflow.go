package workflow

import (
	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
)

// Manual transition keys of the issue workflow.
const (
	Confirm       = "confirm"
	Unconfirm     = "unconfirm"
	Reopen        = "reopen"
	Resolve       = "resolve"
	FalsePositive = "falsepositive"
	WontFix       = "wontfix"
)

// Automatic transition keys of the issue workflow.
const (
	AutomaticReopen           = "automaticreopen"
	AutomaticClose            = "automaticclose"
	AutomaticUncloseOpen      = "automaticuncloseopen"
	AutomaticUncloseReopened  = "automaticunclosereopened"
	AutomaticUncloseConfirmed = "automaticuncloseconfirmed"
	AutomaticUncloseResolved  = "automaticuncloseresolved"
)

// NewIssueWorkflow builds the workflow of code quality issues.
func NewIssueWorkflow(setter *fields.Setter) (*StateMachine, error) {
	unresolvedStates := []types.Status{types.StatusOpen, types.StatusReopened, types.StatusConfirmed}

	b := NewBuilder(setter).States(types.Statuses...)

	b.Transition(NewTransition(Confirm).
		From(types.StatusOpen, types.StatusReopened).
		To(types.StatusConfirmed).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionNone)))
	b.Transition(NewTransition(Unconfirm).
		From(types.StatusConfirmed).
		To(types.StatusReopened).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionNone)))
	b.Transition(NewTransition(Reopen).
		From(types.StatusResolved).
		To(types.StatusReopened).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionNone)))
	b.Transition(NewTransition(FalsePositive).
		From(unresolvedStates...).
		To(types.StatusResolved).
		RequirePermission(permission.IssueAdmin).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionFalsePositive), UnsetAssignee))
	b.Transition(NewTransition(Resolve).
		From(unresolvedStates...).
		To(types.StatusResolved).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionFixed)))
	b.Transition(NewTransition(WontFix).
		From(unresolvedStates...).
		To(types.StatusResolved).
		RequirePermission(permission.IssueAdmin).
		When(NotReviewOnly).
		Then(SetResolution(types.ResolutionWontFix), UnsetAssignee))

	// A fixed issue that analysis still raises was not fixed after all.
	b.Transition(NewTransition(AutomaticReopen).
		From(types.StatusResolved).
		To(types.StatusReopened).
		When(NotReviewOnly, IsStillRaised, HasResolution(types.ResolutionFixed)).
		Then(SetResolution(types.ResolutionNone)).
		Automatic())
	b.Transition(NewTransition(AutomaticClose).
		From(types.StatusOpen, types.StatusReopened, types.StatusConfirmed, types.StatusResolved).
		To(types.StatusClosed).
		When(IsBeingClosed).
		Then(SetClosed).
		Automatic())
	for _, u := range []struct {
		key    string
		status types.Status
	}{
		{AutomaticUncloseOpen, types.StatusOpen},
		{AutomaticUncloseReopened, types.StatusReopened},
		{AutomaticUncloseConfirmed, types.StatusConfirmed},
		{AutomaticUncloseResolved, types.StatusResolved},
	} {
		b.Transition(NewTransition(u.key).
			From(types.StatusClosed).
			To(u.status).
			When(NotReviewOnly, IsStillRaised,
				HasResolution(types.ResolutionFixed, types.ResolutionRemoved),
				PreviousStatusWas(u.status)).
			Then(RestoreResolution, UnsetCloseDate).
			Automatic())
	}

	return b.Build()
}

// MustIssueWorkflow is NewIssueWorkflow for process start-up, where an
// invalid built-in definition is a programming error.
func MustIssueWorkflow(setter *fields.Setter) *StateMachine {
	m, err := NewIssueWorkflow(setter)
	if err != nil {
		panic(err)
	}
	return m
}
