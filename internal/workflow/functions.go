package workflow

import (
	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/types"
)

// Function is a post-transition step run before the status changes.
type Function func(fc *FunctionContext)

// FunctionContext hands a post-transition function the issue being moved.
type FunctionContext struct {
	Issue  *types.Issue
	Change types.ChangeContext
	Setter *fields.Setter
}

// SetResolution sets the resolution (empty to clear it).
func SetResolution(resolution types.Resolution) Function {
	return func(fc *FunctionContext) {
		fc.Setter.SetResolution(fc.Issue, resolution, fc.Change)
	}
}

// UnsetAssignee removes the assignee.
func UnsetAssignee(fc *FunctionContext) {
	fc.Setter.Assign(fc.Issue, "", fc.Change)
}

// SetClosed resolves a disappearing issue as fixed, or removed when its rule
// was disabled, and stamps the close date.
func SetClosed(fc *FunctionContext) {
	resolution := types.ResolutionFixed
	if fc.Issue.OnDisabledRule {
		resolution = types.ResolutionRemoved
	}
	fc.Setter.SetResolution(fc.Issue, resolution, fc.Change)
	date := fc.Change.Date
	fc.Setter.SetCloseDate(fc.Issue, &date)
}

// RestoreResolution puts back the resolution the issue had before it was closed.
func RestoreResolution(fc *FunctionContext) {
	prev, ok := previousValue(fc.Issue, types.FieldResolution)
	if !ok {
		prev = string(types.ResolutionNone)
	}
	fc.Setter.SetResolution(fc.Issue, types.Resolution(prev), fc.Change)
}

// UnsetCloseDate clears the close date.
func UnsetCloseDate(fc *FunctionContext) {
	fc.Setter.SetCloseDate(fc.Issue, nil)
}
