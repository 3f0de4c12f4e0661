package workflow

import (
	"slices"

	"github.com/qualityhub/issueflow/internal/types"
)

// Condition is a predicate over the current state of an issue.
type Condition interface {
	Matches(issue *types.Issue) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(issue *types.Issue) bool

// Matches calls f(issue).
func (f ConditionFunc) Matches(issue *types.Issue) bool {
	return f(issue)
}

// AllMatch evaluates conditions in order and stops at the first failure.
func AllMatch(issue *types.Issue, conditions []Condition) bool {
	for _, c := range conditions {
		if !c.Matches(issue) {
			return false
		}
	}
	return true
}

// IsUnresolved holds when the issue carries no resolution.
var IsUnresolved Condition = ConditionFunc(func(issue *types.Issue) bool {
	return !issue.IsResolved()
})

// NotReviewOnly holds for every issue type except review-only ones.
var NotReviewOnly Condition = ConditionFunc(func(issue *types.Issue) bool {
	return !issue.Type.IsReviewOnly()
})

// IsBeingClosed holds when analysis no longer raises the issue.
var IsBeingClosed Condition = ConditionFunc(func(issue *types.Issue) bool {
	return issue.BeingClosed
})

// IsStillRaised holds when analysis still raises the issue.
var IsStillRaised Condition = ConditionFunc(func(issue *types.Issue) bool {
	return !issue.BeingClosed
})

// HasResolution holds when the issue resolution is one of resolutions.
func HasResolution(resolutions ...types.Resolution) Condition {
	return ConditionFunc(func(issue *types.Issue) bool {
		return slices.Contains(resolutions, issue.Resolution)
	})
}

// PreviousStatusWas holds when the status before the last status change
// recorded in the issue history was status.
func PreviousStatusWas(status types.Status) Condition {
	return ConditionFunc(func(issue *types.Issue) bool {
		prev, ok := previousValue(issue, types.FieldStatus)
		return ok && types.Status(prev) == status
	})
}

// previousValue returns the old value of the most recent diff on field,
// looking at the pending change first and then at the history, newest first.
func previousValue(issue *types.Issue, field string) (string, bool) {
	if d, ok := issue.CurrentChange().Get(field); ok {
		return d.OldValue, true
	}
	history := issue.History()
	for i := len(history) - 1; i >= 0; i-- {
		if d, ok := history[i].Get(field); ok {
			return d.OldValue, true
		}
	}
	return "", false
}
