//go:build integration

package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/issuestore"
	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/storage/sqlstore"
	"github.com/qualityhub/issueflow/internal/types"
)

const doltImage = "dolthub/dolt-sql-server:1.43.0"

// startDoltServer runs a Dolt sql-server container and returns a DSN for it.
func startDoltServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	c, err := dolt.Run(ctx, doltImage,
		dolt.WithDatabase("issueflow"),
		dolt.WithUsername("iflow"),
		dolt.WithPassword("iflow"),
	)
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	dsn, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return dsn
}

func openServerStore(t *testing.T, backend sqlstore.Backend, dsn string) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Backend:        backend,
		DSN:            dsn,
		Database:       "issueflow",
		CommitterName:  "iflow",
		CommitterEmail: "iflow@example.com",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, db storage.DB, now time.Time) {
	t.Helper()
	ctx := context.Background()
	sess, err := db.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.UpsertComponents(ctx, []*types.Component{
		{UUID: "prj-1", Key: "prj", Name: "Project", Qualifier: types.QualifierProject, ProjectUUID: "prj-1"},
		{UUID: "file-1", Key: "prj:main.go", Name: "main.go", Qualifier: types.QualifierFile, ProjectUUID: "prj-1"},
	}))
	require.NoError(t, sess.UpsertRules(ctx, []*types.Rule{
		{UUID: "rule-1", Key: types.RuleKey{Repository: "go", Rule: "S1144"}, Name: "Unused", Type: types.TypeCodeSmell, Severity: types.SeverityMajor},
	}))
	require.NoError(t, sess.Commit(ctx))

	store := issuestore.New(db, issuestore.WithClock(func() time.Time { return now }))
	_, err = store.Save(ctx, []*types.Issue{{
		Key:           "I1",
		ProjectUUID:   "prj-1",
		ComponentUUID: "file-1",
		RuleKey:       types.RuleKey{Repository: "go", Rule: "S1144"},
		Status:        types.StatusOpen,
		Severity:      types.SeverityMajor,
		Type:          types.TypeCodeSmell,
		IsNew:         true,
	}})
	require.NoError(t, err)
}

func TestDoltServerConcurrentUpdate(t *testing.T) {
	dsn := startDoltServer(t)
	db := openServerStore(t, sqlstore.BackendDolt, dsn)
	assert.Equal(t, sqlstore.BackendDolt, db.Backend())

	now := time.Now().UTC().Truncate(time.Second)
	seed(t, db, now.Add(-time.Minute))

	ctx := context.Background()
	tick := now
	store := issuestore.New(db, issuestore.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	setter := fields.NewSetter()

	first, err := store.LoadOne(ctx, "I1")
	require.NoError(t, err)
	second, err := store.LoadOne(ctx, "I1")
	require.NoError(t, err)

	setter.SetStatus(first, types.StatusConfirmed, types.UserChange(now, "u1"))
	_, err = store.Save(ctx, []*types.Issue{first})
	require.NoError(t, err)

	setter.Assign(second, "u2", types.UserChange(now, "u2"))
	_, err = store.Save(ctx, []*types.Issue{second})
	var conflict *issuestore.ConflictError
	require.True(t, errors.As(err, &conflict), "expected a conflict, got %v", err)
	assert.Equal(t, []string{"I1"}, conflict.Keys)

	reloaded, err := store.LoadOne(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, reloaded.Status)
	assert.Empty(t, reloaded.Assignee)
	require.Len(t, reloaded.History(), 1)

	var commits int
	require.NoError(t, db.UnderlyingDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM dolt_log").Scan(&commits))
	assert.Greater(t, commits, 1, "each committed session records a Dolt commit")
}

func TestMySQLBackendOnDoltServer(t *testing.T) {
	dsn := startDoltServer(t)
	db := openServerStore(t, sqlstore.BackendMySQL, dsn)

	seed(t, db, time.Now().UTC().Truncate(time.Second))
	keys, err := db.SelectIssueKeys(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"I1"}, keys)
}
