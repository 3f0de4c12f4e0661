package action

import (
	"context"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
)

// Comment adds a markdown comment. It applies whatever the issue's state.
type Comment struct {
	base
	setter *fields.Setter
}

// NewComment returns the comment action.
func NewComment(setter *fields.Setter) (*Comment, error) {
	b, err := newBase(CommentKey, KindComment, false, "")
	if err != nil {
		return nil, err
	}
	return &Comment{base: b, setter: setter}, nil
}

func (c *Comment) Verify(_ context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	if _, err := commentText(props); err != nil {
		return false, err
	}
	return true, nil
}

// Execute queues the comment on the issue. It always reports a change.
func (c *Comment) Execute(props Properties, actx *Context) (bool, error) {
	text, err := commentText(props)
	if err != nil {
		return false, err
	}
	c.setter.AddComment(actx.Issue, text, actx.Change)
	return true, nil
}

func commentText(props Properties) (string, error) {
	text, _ := props.String(CommentParam)
	if text == "" {
		return "", missingParam(CommentKey, CommentParam)
	}
	return text, nil
}
