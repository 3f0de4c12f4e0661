// Package changelog loads and formats the changelog and comments of issues.
//
// A FormattingContext is built once per request for a set of issues: the
// diff and comment rows of all issues are read in one batched query, and
// every user and file they reference is resolved in bulk. Callers that
// already hold some users or files pass them in to skip their lookup.
package changelog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/qualityhub/issueflow/internal/issuestore"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

// Mode selects what a FormattingContext loads.
type Mode int

const (
	LoadChangelog Mode = iota
	LoadComments
	LoadAll
)

func (m Mode) changeTypes() []string {
	switch m {
	case LoadChangelog:
		return []string{storage.ChangeTypeDiff}
	case LoadComments:
		return []string{storage.ChangeTypeComment}
	}
	return []string{storage.ChangeTypeDiff, storage.ChangeTypeComment}
}

// Preloaded holds entities the caller already resolved.
type Preloaded struct {
	Users []*types.User
	Files []*types.Component
}

// Support builds formatting contexts.
type Support struct {
	db       storage.Queries
	renderer MarkdownRenderer
	logger   *slog.Logger
}

// Option configures a Support.
type Option func(*Support)

// WithRenderer replaces the comment markdown renderer.
func WithRenderer(r MarkdownRenderer) Option {
	return func(s *Support) { s.renderer = r }
}

// WithLogger sets the logger malformed rows are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Support) { s.logger = l }
}

// New returns a Support reading from db.
func New(db storage.Queries, opts ...Option) *Support {
	s := &Support{db: db, renderer: NewMarkdownRenderer(), logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FormattingContext holds the loaded changelog and comments of a set of
// issues. It is read-only once built.
type FormattingContext struct {
	caller   permission.Session
	renderer MarkdownRenderer
	changes  map[string][]*types.FieldDiffs
	comments map[string][]*types.Comment
	users    map[string]*types.User
	files    map[string]*types.Component
}

// NewContext loads what mode asks for on issues.
func (s *Support) NewContext(ctx context.Context, mode Mode, issues []*types.Issue, caller permission.Session, pre Preloaded) (*FormattingContext, error) {
	fc := &FormattingContext{
		caller:   caller,
		renderer: s.renderer,
		changes:  make(map[string][]*types.FieldDiffs),
		comments: make(map[string][]*types.Comment),
		users:    make(map[string]*types.User),
		files:    make(map[string]*types.Component),
	}
	for _, u := range pre.Users {
		fc.users[u.UUID] = u
	}
	for _, f := range pre.Files {
		fc.files[f.UUID] = f
	}
	if len(issues) == 0 {
		return fc, nil
	}

	keys := make([]string, len(issues))
	for i, issue := range issues {
		keys[i] = issue.Key
	}
	rows, err := s.db.SelectChangesByIssueKeys(ctx, keys, mode.changeTypes()...)
	if err != nil {
		return nil, fmt.Errorf("load changes: %w", err)
	}
	for _, row := range rows {
		switch row.ChangeType {
		case storage.ChangeTypeDiff:
			diffs, err := issuestore.ParseChange(row)
			if err != nil {
				s.logger.Warn("skipping malformed change", "issue", row.IssueKey, "change", row.Key, "err", err)
				continue
			}
			fc.changes[row.IssueKey] = append(fc.changes[row.IssueKey], diffs)
		case storage.ChangeTypeComment:
			fc.comments[row.IssueKey] = append(fc.comments[row.IssueKey], &types.Comment{
				Key:       row.Key,
				IssueKey:  row.IssueKey,
				UserUUID:  row.UserUUID,
				Markdown:  row.Data,
				CreatedAt: row.ChangeDate,
				UpdatedAt: row.UpdatedAt,
			})
		}
	}
	for _, diffs := range fc.changes {
		sort.SliceStable(diffs, func(i, j int) bool { return diffs[i].CreatedAt.Before(diffs[j].CreatedAt) })
	}
	for _, comments := range fc.comments {
		sort.SliceStable(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	}

	if err := s.resolve(ctx, fc); err != nil {
		return nil, err
	}
	return fc, nil
}

// resolve loads the users and files referenced by the rows and not
// preloaded, users and files concurrently.
func (s *Support) resolve(ctx context.Context, fc *FormattingContext) error {
	var userUUIDs, fileUUIDs []string
	addUser := func(uuid string) {
		if _, ok := fc.users[uuid]; uuid != "" && !ok && !slices.Contains(userUUIDs, uuid) {
			userUUIDs = append(userUUIDs, uuid)
		}
	}
	addFile := func(uuid string) {
		if _, ok := fc.files[uuid]; uuid != "" && !ok && !slices.Contains(fileUUIDs, uuid) {
			fileUUIDs = append(fileUUIDs, uuid)
		}
	}
	for _, changes := range fc.changes {
		for _, c := range changes {
			addUser(c.UserUUID)
			if d, ok := c.Get(types.FieldFile); ok {
				addFile(d.OldValue)
				addFile(d.NewValue)
			}
		}
	}
	for _, comments := range fc.comments {
		for _, c := range comments {
			addUser(c.UserUUID)
		}
	}

	var users []*types.User
	var files []*types.Component
	g, gctx := errgroup.WithContext(ctx)
	if len(userUUIDs) > 0 {
		g.Go(func() error {
			var err error
			users, err = s.db.SelectUsersByUUIDs(gctx, userUUIDs)
			if err != nil {
				return fmt.Errorf("load users: %w", err)
			}
			return nil
		})
	}
	if len(fileUUIDs) > 0 {
		g.Go(func() error {
			var err error
			files, err = s.db.SelectComponentsByUUIDs(gctx, fileUUIDs)
			if err != nil {
				return fmt.Errorf("load files: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, u := range users {
		fc.users[u.UUID] = u
	}
	for _, f := range files {
		fc.files[f.UUID] = f
	}
	return nil
}

// Changes returns the changelog of issue, oldest first.
func (fc *FormattingContext) Changes(issue *types.Issue) []*types.FieldDiffs {
	return slices.Clone(fc.changes[issue.Key])
}

// Comments returns the comments of issue, oldest first.
func (fc *FormattingContext) Comments(issue *types.Issue) []*types.Comment {
	return slices.Clone(fc.comments[issue.Key])
}

// User returns a resolved user.
func (fc *FormattingContext) User(uuid string) (*types.User, bool) {
	u, ok := fc.users[uuid]
	return u, ok
}

// File returns a resolved file.
func (fc *FormattingContext) File(uuid string) (*types.Component, bool) {
	f, ok := fc.files[uuid]
	return f, ok
}

// IsUpdatableComment reports whether the caller authored c. Anonymous
// callers can update nothing.
func (fc *FormattingContext) IsUpdatableComment(c *types.Comment) bool {
	if fc.caller == nil || !fc.caller.IsLoggedIn() {
		return false
	}
	return c.UserUUID != "" && c.UserUUID == fc.caller.UserUUID()
}
