package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/testutil/teststore"
	"github.com/qualityhub/issueflow/internal/types"
)

func TestRefreshMeasures(t *testing.T) {
	env := teststore.NewEnv(t)
	idx := New(env.Store)
	require.NoError(t, idx.store([]*storage.IssueRecord{
		newRecord("I1", nil),
		newRecord("I2", func(r *storage.IssueRecord) { r.Severity = types.SeverityBlocker; r.Type = types.TypeBug }),
		newRecord("I3", func(r *storage.IssueRecord) {
			r.Status = types.StatusResolved
			r.Resolution = types.ResolutionFalsePositive
		}),
		newRecord("I4", func(r *storage.IssueRecord) { r.ProjectUUID = "prj-2" }),
	}))

	require.NoError(t, idx.RefreshMeasures(env.Ctx, []string{teststore.ProjectUUID}))

	cached := idx.CachedMeasures()
	require.Len(t, cached, 1)
	m := cached[0]
	assert.Equal(t, teststore.ProjectUUID, m.ProjectUUID)
	assert.Equal(t, 3, m.Issues)
	assert.Equal(t, 2, m.Unresolved)
	assert.Equal(t, 1, m.FalsePos)
	assert.Equal(t, map[string]int{"MAJOR": 1, "BLOCKER": 1}, m.BySeverity)
	assert.Equal(t, map[string]int{"CODE_SMELL": 1, "BUG": 1}, m.ByType)
}
