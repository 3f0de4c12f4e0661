package action

import (
	"context"
	"fmt"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// SetSeverity pins a manual severity on unresolved, triageable issues and
// mirrors it onto the impact of the issue's software quality.
type SetSeverity struct {
	base
	setter *fields.Setter
}

// NewSetSeverity returns the set severity action.
func NewSetSeverity(setter *fields.Setter) (*SetSeverity, error) {
	b, err := newBase(SetSeverityKey, KindSetSeverity, true, permission.IssueAdmin,
		workflow.IsUnresolved, workflow.NotReviewOnly)
	if err != nil {
		return nil, err
	}
	return &SetSeverity{base: b, setter: setter}, nil
}

func (a *SetSeverity) Verify(_ context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	_, err := severityParam(props)
	return err == nil, err
}

func (a *SetSeverity) Execute(props Properties, actx *Context) (bool, error) {
	sev, err := severityParam(props)
	if err != nil {
		return false, err
	}
	issue := actx.Issue
	changed := a.setter.SetManualSeverity(issue, sev, actx.Change)
	if a.mirrorImpact(issue, sev, actx.Change) {
		changed = true
	}
	return changed, nil
}

// mirrorImpact creates the impact of the issue's quality when the issue has
// none, and otherwise only updates an existing entry for that quality.
func (a *SetSeverity) mirrorImpact(issue *types.Issue, sev types.Severity, ctx types.ChangeContext) bool {
	quality, ok := types.QualityOf(issue.Type)
	if !ok {
		return false
	}
	impact, ok := types.ImpactSeverityOf(sev)
	if !ok {
		return false
	}
	if _, exists := issue.Impacts[quality]; len(issue.Impacts) > 0 && !exists {
		return false
	}
	return a.setter.SetImpactSeverity(issue, quality, impact, true, ctx)
}

func severityParam(props Properties) (types.Severity, error) {
	s, _ := props.String(SeverityParam)
	if s == "" {
		return "", missingParam(SetSeverityKey, SeverityParam)
	}
	return types.ParseSeverity(s)
}

// SetType changes the type of triageable issues. Security hotspots are
// neither a source nor a target.
type SetType struct {
	base
	setter *fields.Setter
}

// NewSetType returns the set type action.
func NewSetType(setter *fields.Setter) (*SetType, error) {
	b, err := newBase(SetTypeKey, KindSetType, true, permission.IssueAdmin, workflow.NotReviewOnly)
	if err != nil {
		return nil, err
	}
	return &SetType{base: b, setter: setter}, nil
}

func (a *SetType) Verify(_ context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	_, err := typeParam(props)
	return err == nil, err
}

func (a *SetType) Execute(props Properties, actx *Context) (bool, error) {
	t, err := typeParam(props)
	if err != nil {
		return false, err
	}
	return a.setter.SetType(actx.Issue, t, actx.Change), nil
}

func typeParam(props Properties) (types.IssueType, error) {
	s, _ := props.String(TypeParam)
	if s == "" {
		return "", missingParam(SetTypeKey, TypeParam)
	}
	t, err := types.ParseIssueType(s)
	if err != nil {
		return "", err
	}
	if t.IsReviewOnly() {
		return "", fmt.Errorf("%w: issues cannot be turned into %s", types.ErrInvalidArgument, t)
	}
	return t, nil
}
