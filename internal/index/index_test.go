package index

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/testutil/teststore"
	"github.com/qualityhub/issueflow/internal/types"
)

func newRecord(key string, mutate func(*storage.IssueRecord)) *storage.IssueRecord {
	r := &storage.IssueRecord{
		Key:            key,
		ProjectUUID:    teststore.ProjectUUID,
		ComponentUUID:  teststore.FileUUID,
		RuleKey:        teststore.RuleKey,
		Status:         types.StatusOpen,
		Severity:       types.SeverityMajor,
		Type:           types.TypeCodeSmell,
		Message:        "Remove this unused function",
		IssueUpdatedAt: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

func commit(t *testing.T, env *teststore.Env, idx *Index, issues ...*types.Issue) {
	t.Helper()
	env.InsertIssue(issues...)
	var recs []*storage.IssueRecord
	for _, issue := range issues {
		recs = append(recs, env.Load(issue.Key))
	}
	sess, err := env.Store.OpenSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := idx.CommitAndIndexIssues(env.Ctx, sess, recs); err != nil {
		t.Fatalf("CommitAndIndexIssues: %v", err)
	}
}

func queueLen(t *testing.T, env *teststore.Env) int {
	t.Helper()
	items, err := env.Store.SelectQueueItems(env.Ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	return len(items)
}

func TestCommitAndIndexClearsQueue(t *testing.T) {
	env := teststore.NewEnv(t)
	idx := New(env.Store)

	commit(t, env, idx, env.Issue("I1"), env.Issue("I2"))
	if idx.Len() != 2 {
		t.Errorf("indexed %d issues, want 2", idx.Len())
	}
	if n := queueLen(t, env); n != 0 {
		t.Errorf("queue has %d rows after successful indexing", n)
	}
}

// unavailable fails every document write while down is set.
func unavailable(down *bool) Option {
	return withWriter(func(idx *Index, records []*storage.IssueRecord) error {
		if *down {
			return errors.New("index unavailable")
		}
		return idx.store(records)
	})
}

func TestFailedIndexingIsRecovered(t *testing.T) {
	env := teststore.NewEnv(t)
	down := true
	idx := New(env.Store, unavailable(&down))

	commit(t, env, idx, env.Issue("I1"))
	if idx.Len() != 0 {
		t.Fatal("failed indexing must not index")
	}
	if n := queueLen(t, env); n != 1 {
		t.Fatalf("queue has %d rows, want 1", n)
	}

	down = false
	n, err := idx.Recover(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	if _, ok := idx.Get("I1"); !ok {
		t.Error("recovered issue should be indexed")
	}
	if n := queueLen(t, env); n != 0 {
		t.Errorf("queue has %d rows after recovery", n)
	}
}

func TestEnqueuedRowsAreClearedOnIndexing(t *testing.T) {
	env := teststore.NewEnv(t)
	idx := New(env.Store)
	env.InsertIssue(env.Issue("I1"))
	rec := env.Load("I1")

	sess, err := env.Store.OpenSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if err := idx.Enqueue(env.Ctx, sess, []*storage.IssueRecord{rec}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := sess.Commit(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if n := queueLen(t, env); n != 1 {
		t.Fatalf("queue has %d rows after Enqueue, want 1", n)
	}
	if _, ok := idx.Get("I1"); ok {
		t.Fatal("Enqueue must not index")
	}

	if err := idx.CommitAndIndexIssues(env.Ctx, sess, []*storage.IssueRecord{rec}); err != nil {
		t.Fatalf("CommitAndIndexIssues: %v", err)
	}
	if _, ok := idx.Get("I1"); !ok {
		t.Error("issue should be indexed")
	}
	if n := queueLen(t, env); n != 0 {
		t.Errorf("queue has %d rows, want the enqueued row cleared too", n)
	}
}

func TestRebuild(t *testing.T) {
	env := teststore.NewEnv(t)
	var issues []*types.Issue
	for i := 0; i < 7; i++ {
		issues = append(issues, env.Issue(fmt.Sprintf("I%d", i)))
	}
	env.InsertIssue(issues...)

	idx := New(env.Store, WithBatchSize(3))
	idx.docs["stale"] = mapRecord(newRecord("stale", nil))
	n, err := idx.Rebuild(env.Ctx)
	if err != nil || n != 7 {
		t.Fatalf("Rebuild = %d, %v", n, err)
	}
	if _, ok := idx.Get("stale"); ok {
		t.Error("rebuild should drop documents missing from the database")
	}
}

func TestSearch(t *testing.T) {
	idx := New(nil)
	_ = idx.store([]*storage.IssueRecord{
		newRecord("A1", func(r *storage.IssueRecord) { r.Assignee = "alice"; r.Tags = []string{"perf"} }),
		newRecord("A2", func(r *storage.IssueRecord) {
			r.Severity = types.SeverityBlocker
			r.Type = types.TypeBug
			r.Message = "Null pointer dereference"
		}),
		newRecord("A3", func(r *storage.IssueRecord) {
			r.Status = types.StatusResolved
			r.Resolution = types.ResolutionFixed
		}),
	})

	tests := []struct {
		query string
		want  []string
	}{
		{"status:open", []string{"A1", "A2"}},
		{"assignee:alice", []string{"A1"}},
		{"assignee:none", []string{"A2", "A3"}},
		{"tag:perf", []string{"A1"}},
		{"type:bug", []string{"A2"}},
		{"is:resolved", []string{"A3"}},
		{"pointer", []string{"A2"}},
		{"go:s1144 status:resolved", []string{"A3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			results, err := idx.Search(context.Background(), tt.query, 0, "")
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, r := range results {
				got = append(got, r.Key)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestSearchSortsBySeverity(t *testing.T) {
	idx := New(nil)
	_ = idx.store([]*storage.IssueRecord{
		newRecord("A1", nil),
		newRecord("A2", func(r *storage.IssueRecord) { r.Severity = types.SeverityBlocker }),
		newRecord("A3", func(r *storage.IssueRecord) { r.Severity = types.SeverityInfo }),
	})
	results, err := idx.Search(context.Background(), "severity:blocker,major,info", 2, SortSeverity)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Key != "A2" || results[1].Key != "A1" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchCanceled(t *testing.T) {
	idx := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Search(ctx, "x", 10, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
