// Package action implements the operations a user can apply to issues in
// bulk: assign, comment, set severity, set type, add and remove tags, and
// run a workflow transition.
//
// Every operation runs in two phases. Verify validates the request
// parameters once for the whole batch, may resolve lookups and stash the
// results in the Properties, and never touches an issue. Execute then
// mutates one issue at a time and reports whether it changed.
//
// The set of actions is closed: Action has an unexported method, and the
// Kind of every action is matched exhaustively where it matters.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// Action keys
const (
	AssignKey       = "assign"
	CommentKey      = "comment"
	SetSeverityKey  = "set_severity"
	SetTypeKey      = "set_type"
	AddTagsKey      = "add_tags"
	RemoveTagsKey   = "remove_tags"
	DoTransitionKey = "do_transition"
)

// Property names
const (
	AssigneeParam   = "assignee"
	CommentParam    = "comment"
	SeverityParam   = "severity"
	TypeParam       = "type"
	TagsParam       = "tags"
	TransitionParam = "transition"

	// verifiedAssignee holds the *types.User (nil to unassign) resolved by
	// Assign.Verify.
	verifiedAssignee = "verified_assignee"
	verifiedTags     = "verified_tags"
)

// Kind enumerates the actions.
type Kind int

const (
	KindAssign Kind = iota
	KindComment
	KindSetSeverity
	KindSetType
	KindAddTags
	KindRemoveTags
	KindDoTransition
)

func (k Kind) String() string {
	switch k {
	case KindAssign:
		return AssignKey
	case KindComment:
		return CommentKey
	case KindSetSeverity:
		return SetSeverityKey
	case KindSetType:
		return SetTypeKey
	case KindAddTags:
		return AddTagsKey
	case KindRemoveTags:
		return RemoveTagsKey
	case KindDoTransition:
		return DoTransitionKey
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Param returns the name of the request parameter an action of kind k reads.
func (k Kind) Param() string {
	switch k {
	case KindAssign:
		return AssigneeParam
	case KindComment:
		return CommentParam
	case KindSetSeverity:
		return SeverityParam
	case KindSetType:
		return TypeParam
	case KindAddTags, KindRemoveTags:
		return TagsParam
	case KindDoTransition:
		return TransitionParam
	}
	panic(fmt.Sprintf("action: unknown kind %d", int(k)))
}

// Properties are the request parameters of one action. Verify may add
// derived values for Execute.
type Properties map[string]any

// String returns the trimmed string parameter name and whether it was set.
func (p Properties) String(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), true
	case fmt.Stringer:
		return strings.TrimSpace(s.String()), true
	}
	return strings.TrimSpace(fmt.Sprint(v)), true
}

// Strings returns a list parameter, accepting a slice or a comma-separated
// string.
func (p Properties) Strings(name string) ([]string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return s, true
	case string:
		return strings.Split(s, ","), true
	}
	return nil, false
}

// Context is the per-issue input of Execute.
type Context struct {
	Issue  *types.Issue
	Change types.ChangeContext
	Caller permission.Session
}

// Action is a pluggable operation on issues. Actions are immutable and safe
// for concurrent use; per-request state lives in Properties.
type Action interface {
	Key() string
	Kind() Kind
	Conditions() []workflow.Condition
	// RequiredPermission is the project permission a caller needs, or "".
	RequiredPermission() string
	// Supports reports whether every condition holds on issue and the caller
	// holds the required permission on its project.
	Supports(issue *types.Issue, caller permission.Session) bool
	Verify(ctx context.Context, props Properties, issues []*types.Issue, caller permission.Session) (bool, error)
	Execute(props Properties, actx *Context) (bool, error)
	// ShouldRefreshMeasures reports whether measures depending on issues
	// must be recomputed after the action ran.
	ShouldRefreshMeasures() bool

	sealed()
}

// ErrNotVerified is returned by Execute when Verify did not run first.
var ErrNotVerified = fmt.Errorf("%w: action executed before verification", types.ErrIllegalState)

// base carries what every action shares.
type base struct {
	key        string
	kind       Kind
	conditions []workflow.Condition
	permission string
	refresh    bool
}

func newBase(key string, kind Kind, refresh bool, perm string, conditions ...workflow.Condition) (base, error) {
	if strings.TrimSpace(key) == "" {
		return base{}, errors.New("action key must be set")
	}
	return base{key: key, kind: kind, conditions: conditions, permission: perm, refresh: refresh}, nil
}

func (b base) Key() string                 { return b.key }
func (b base) Kind() Kind                  { return b.kind }
func (b base) RequiredPermission() string  { return b.permission }
func (b base) ShouldRefreshMeasures() bool { return b.refresh }
func (base) sealed()                       {}

func (b base) Conditions() []workflow.Condition {
	return append([]workflow.Condition(nil), b.conditions...)
}

func (b base) Supports(issue *types.Issue, caller permission.Session) bool {
	if !workflow.AllMatch(issue, b.conditions) {
		return false
	}
	return b.permission == "" || caller.HasProjectPermission(b.permission, issue.ProjectUUID)
}

func missingParam(key, param string) error {
	return fmt.Errorf("%w: missing parameter %q for action %s", types.ErrInvalidArgument, param, key)
}
