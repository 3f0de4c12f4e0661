package action

import (
	"context"
	"slices"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/types"
)

// Tags adds or removes tags. The new tag set replaces the old one as a
// whole, so one diff is recorded per issue.
type Tags struct {
	base
	setter *fields.Setter
	apply  func(current, requested []string) []string
}

// NewAddTags returns the action adding the requested tags.
func NewAddTags(setter *fields.Setter) (*Tags, error) {
	return newTags(AddTagsKey, KindAddTags, setter, union)
}

// NewRemoveTags returns the action removing the requested tags.
func NewRemoveTags(setter *fields.Setter) (*Tags, error) {
	return newTags(RemoveTagsKey, KindRemoveTags, setter, difference)
}

func newTags(key string, kind Kind, setter *fields.Setter, apply func(current, requested []string) []string) (*Tags, error) {
	b, err := newBase(key, kind, false, "")
	if err != nil {
		return nil, err
	}
	return &Tags{base: b, setter: setter, apply: apply}, nil
}

func (a *Tags) Verify(_ context.Context, props Properties, _ []*types.Issue, _ permission.Session) (bool, error) {
	raw, ok := props.Strings(TagsParam)
	if !ok {
		return false, missingParam(a.key, TagsParam)
	}
	tags, err := fields.ValidateTags(raw)
	if err != nil {
		return false, err
	}
	props[verifiedTags] = tags
	return true, nil
}

func (a *Tags) Execute(props Properties, actx *Context) (bool, error) {
	tags, ok := props[verifiedTags].([]string)
	if !ok {
		return false, ErrNotVerified
	}
	return a.setter.SetTags(actx.Issue, a.apply(actx.Issue.Tags, tags), actx.Change), nil
}

func union(current, requested []string) []string {
	out := slices.Clone(current)
	for _, t := range requested {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func difference(current, requested []string) []string {
	out := make([]string, 0, len(current))
	for _, t := range current {
		if !slices.Contains(requested, t) {
			out = append(out, t)
		}
	}
	return out
}
