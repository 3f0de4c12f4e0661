package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/workflow"
)

// UserFinder resolves logins. storage.Queries satisfies it.
type UserFinder interface {
	SelectUserByLogin(ctx context.Context, login string) (*types.User, error)
}

// Assign sets or clears the assignee of unresolved issues.
type Assign struct {
	base
	setter *fields.Setter
	users  UserFinder
}

// NewAssign returns the assign action resolving logins with users.
func NewAssign(setter *fields.Setter, users UserFinder) (*Assign, error) {
	b, err := newBase(AssignKey, KindAssign, false, "", workflow.IsUnresolved)
	if err != nil {
		return nil, err
	}
	return &Assign{base: b, setter: setter, users: users}, nil
}

// Verify resolves the assignee login to an active user. A missing or blank
// assignee unassigns.
func (a *Assign) Verify(ctx context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	login, _ := props.String(AssigneeParam)
	if login == "" {
		props[verifiedAssignee] = (*types.User)(nil)
		return true, nil
	}
	user, err := a.users.SelectUserByLogin(ctx, login)
	if errors.Is(err, types.ErrNotFound) {
		return false, fmt.Errorf("%w: unknown user %q", types.ErrNotFound, login)
	}
	if err != nil {
		return false, fmt.Errorf("find user %q: %w", login, err)
	}
	if !user.Active {
		return false, fmt.Errorf("%w: user %q is not active", types.ErrNotFound, login)
	}
	props[verifiedAssignee] = user
	return true, nil
}

func (a *Assign) Execute(props Properties, actx *Context) (bool, error) {
	v, ok := props[verifiedAssignee]
	if !ok {
		return false, ErrNotVerified
	}
	uuid := ""
	if user, _ := v.(*types.User); user != nil {
		uuid = user.UUID
	}
	return a.setter.Assign(actx.Issue, uuid, actx.Change), nil
}
