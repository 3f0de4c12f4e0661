package changelog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/testutil/teststore"
	"github.com/qualityhub/issueflow/internal/types"
)

// countingQueries counts user lookups.
type countingQueries struct {
	storage.Queries
	userLookups int
}

func (q *countingQueries) SelectUsersByUUIDs(ctx context.Context, uuids []string) ([]*types.User, error) {
	q.userLookups++
	return q.Queries.SelectUsersByUUIDs(ctx, uuids)
}

func diffRow(t *testing.T, key, issueKey, user string, at time.Time, set func(*types.FieldDiffs)) *storage.ChangeRecord {
	t.Helper()
	d := types.NewFieldDiffs(issueKey, types.UserChange(at, user))
	set(d)
	data, err := d.Encode()
	require.NoError(t, err)
	return &storage.ChangeRecord{Key: key, IssueKey: issueKey, UserUUID: user, ChangeType: storage.ChangeTypeDiff, Data: data, ChangeDate: at, CreatedAt: at, UpdatedAt: at}
}

func commentRow(key, issueKey, user, text string, at time.Time) *storage.ChangeRecord {
	return &storage.ChangeRecord{Key: key, IssueKey: issueKey, UserUUID: user, ChangeType: storage.ChangeTypeComment, Data: text, ChangeDate: at, CreatedAt: at, UpdatedAt: at}
}

func seed(t *testing.T) (*teststore.Env, *types.User) {
	t.Helper()
	env := teststore.NewEnv(t)
	alice := env.SeedUser("u-alice", "alice")
	env.SeedFile("file-2", "src/other.go")
	now := env.Now

	sess, err := env.Store.OpenSession(env.Ctx)
	require.NoError(t, err)
	defer sess.Close()
	// Rows are written out of order; contexts sort them.
	require.NoError(t, sess.InsertChanges(env.Ctx, []*storage.ChangeRecord{
		diffRow(t, "c2", "I1", "u-alice", now.Add(2*time.Minute), func(d *types.FieldDiffs) {
			d.SetDiff(types.FieldFile, teststore.FileUUID, "file-2")
			d.SetDiff(types.FieldTechnicalDebt, "10", "30")
		}),
		diffRow(t, "c1", "I1", "u-alice", now.Add(time.Minute), func(d *types.FieldDiffs) {
			d.SetDiff(types.FieldAssignee, "", "u-alice")
		}),
		diffRow(t, "c3", "I1", "u-gone", now.Add(3*time.Minute), func(d *types.FieldDiffs) {
			d.SetDiff(types.FieldFile, "file-2", "file-deleted")
		}),
		diffRow(t, "c4", "I2", "u-alice", now, func(d *types.FieldDiffs) {
			d.SetDiff(types.FieldSeverity, "MAJOR", "BLOCKER")
		}),
		commentRow("m2", "I1", "u-bob", "second", now.Add(2*time.Minute)),
		commentRow("m1", "I1", "u-alice", "**first**", now.Add(time.Minute)),
	}))
	require.NoError(t, sess.Commit(env.Ctx))
	return env, alice
}

func TestFormatChangelog(t *testing.T) {
	env, alice := seed(t)
	issue := &types.Issue{Key: "I1"}

	fc, err := New(env.Store).NewContext(env.Ctx, LoadChangelog, []*types.Issue{issue, {Key: "I2"}}, permission.Anonymous(), Preloaded{})
	require.NoError(t, err)
	assert.Empty(t, fc.Comments(issue), "changelog mode loads no comments")

	entries := fc.FormatChangelog(issue)
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, "alice", first.User)
	assert.True(t, first.IsUserActive)
	assert.Equal(t, Avatar(alice.Email), first.Avatar)
	assert.Equal(t, []Diff{{Key: types.FieldAssignee, NewValue: "u-alice"}}, first.Diffs)

	assert.Equal(t, []Diff{
		{Key: types.FieldFile, OldValue: "src/main.go", NewValue: "src/other.go"},
		{Key: FieldEffort, OldValue: "10", NewValue: "30"},
	}, entries[1].Diffs)

	// Unknown users and files are left out rather than failing.
	assert.Empty(t, entries[2].User)
	assert.Empty(t, entries[2].Avatar)
	assert.Equal(t, []Diff{{Key: types.FieldFile, OldValue: "src/other.go"}}, entries[2].Diffs)

	assert.Len(t, fc.FormatChangelog(&types.Issue{Key: "I2"}), 1)
}

func TestFormatComments(t *testing.T) {
	env, alice := seed(t)
	issue := &types.Issue{Key: "I1"}
	caller := permission.NewStaticSession(alice, nil)

	fc, err := New(env.Store).NewContext(env.Ctx, LoadComments, []*types.Issue{issue}, caller, Preloaded{})
	require.NoError(t, err)
	assert.Empty(t, fc.Changes(issue), "comments mode loads no changelog")

	comments, err := fc.FormatComments(issue)
	require.NoError(t, err)
	require.Len(t, comments, 2)

	assert.Equal(t, "m1", comments[0].Key)
	assert.Equal(t, "alice", comments[0].Login)
	assert.True(t, comments[0].Updatable)
	assert.Contains(t, string(comments[0].HTML), "<strong>first</strong>")

	assert.Equal(t, "m2", comments[1].Key)
	assert.Empty(t, comments[1].Login)
	assert.False(t, comments[1].Updatable)

	anon, err := New(env.Store).NewContext(env.Ctx, LoadComments, []*types.Issue{issue}, permission.Anonymous(), Preloaded{})
	require.NoError(t, err)
	for _, c := range anon.Comments(issue) {
		assert.False(t, anon.IsUpdatableComment(c), "anonymous callers update nothing")
	}
}

func TestPreloadedUsersAreNotLookedUp(t *testing.T) {
	env, alice := seed(t)
	q := &countingQueries{Queries: env.Store}
	issue := &types.Issue{Key: "I2"}

	fc, err := New(q).NewContext(env.Ctx, LoadAll, []*types.Issue{issue}, permission.Anonymous(), Preloaded{Users: []*types.User{alice}})
	require.NoError(t, err)
	assert.Zero(t, q.userLookups)
	assert.Equal(t, "alice", fc.FormatChangelog(issue)[0].User)

	_, err = New(q).NewContext(env.Ctx, LoadAll, []*types.Issue{{Key: "I1"}}, permission.Anonymous(), Preloaded{})
	require.NoError(t, err)
	assert.Equal(t, 1, q.userLookups, "users are resolved in one bulk lookup")
}

func TestRendererSanitizes(t *testing.T) {
	html, err := NewMarkdownRenderer().Render("hi <script>alert(1)</script> [x](javascript:alert(1))")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(html), "<script>"))
	assert.False(t, strings.Contains(string(html), "javascript:"))

	empty, err := NewMarkdownRenderer().Render("   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAvatar(t *testing.T) {
	assert.Equal(t, "", Avatar(""))
	assert.Equal(t, Avatar("alice@example.com"), Avatar(" Alice@Example.com "))
	assert.Len(t, Avatar("alice@example.com"), 32)
}
