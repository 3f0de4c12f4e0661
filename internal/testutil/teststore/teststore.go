// Package teststore provides SQLite-backed test helpers for packages that
// persist issues.
//
// Every store lives in its own temporary directory and is closed when the
// test completes. Helpers write through storage.Session so tests exercise
// the same code paths as production.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    env.SeedUser("u1", "alice")
//	    env.InsertIssue(env.Issue("I1"))
//	}
package teststore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/storage/sqlstore"
	"github.com/qualityhub/issueflow/internal/types"
)

// Fixture identifiers shared by the helpers.
const (
	ProjectUUID = "prj-1"
	FileUUID    = "file-1"
	RuleUUID    = "rule-1"
)

// RuleKey is the key of the seeded rule.
var RuleKey = types.RuleKey{Repository: "go", Rule: "S1144"}

// New creates an isolated store for a single test. batchSize 0 uses the
// default.
func New(t testing.TB, batchSize int) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Backend:   sqlstore.BackendSQLite,
		Path:      filepath.Join(t.TempDir(), "issues.db"),
		BatchSize: batchSize,
	})
	if err != nil {
		t.Fatalf("teststore: failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Env provides a test environment with common setup and helpers.
type Env struct {
	t     testing.TB
	Store *sqlstore.Store
	Ctx   context.Context
	Now   time.Time
}

// NewEnv creates a store seeded with one project, one file and one rule.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	e := &Env{
		t:     t,
		Store: New(t, 0),
		Ctx:   context.Background(),
		Now:   time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
	}
	e.write(func(s storage.Session) error {
		if err := s.UpsertComponents(e.Ctx, []*types.Component{
			{UUID: ProjectUUID, Key: "prj", Name: "Project", Qualifier: types.QualifierProject, ProjectUUID: ProjectUUID},
			{UUID: FileUUID, Key: "prj:src/main.go", Name: "main.go", LongName: "src/main.go", Qualifier: types.QualifierFile, ProjectUUID: ProjectUUID},
		}); err != nil {
			return err
		}
		return s.UpsertRules(e.Ctx, []*types.Rule{{
			UUID:               RuleUUID,
			Key:                RuleKey,
			Name:               "Unused private functions should be removed",
			Type:               types.TypeCodeSmell,
			Severity:           types.SeverityMajor,
			CleanCodeAttribute: types.AttributeClear,
			DefaultImpacts:     map[types.SoftwareQuality]types.ImpactSeverity{types.QualityMaintainability: types.ImpactMedium},
		}})
	})
	return e
}

func (e *Env) write(fn func(storage.Session) error) {
	e.t.Helper()
	sess, err := e.Store.OpenSession(e.Ctx)
	if err != nil {
		e.t.Fatalf("teststore: open session: %v", err)
	}
	defer sess.Close()
	if err := fn(sess); err != nil {
		e.t.Fatalf("teststore: write: %v", err)
	}
	if err := sess.Commit(e.Ctx); err != nil {
		e.t.Fatalf("teststore: commit: %v", err)
	}
}

// SeedUser stores an active user.
func (e *Env) SeedUser(uuid, login string) *types.User {
	e.t.Helper()
	u := &types.User{UUID: uuid, Login: login, Name: login, Email: login + "@example.com", Active: true}
	e.write(func(s storage.Session) error { return s.UpsertUsers(e.Ctx, []*types.User{u}) })
	return u
}

// SeedFile stores a file component of the seeded project.
func (e *Env) SeedFile(uuid, path string) *types.Component {
	e.t.Helper()
	c := &types.Component{
		UUID:        uuid,
		Key:         "prj:" + path,
		Name:        filepath.Base(path),
		LongName:    path,
		Qualifier:   types.QualifierFile,
		ProjectUUID: ProjectUUID,
	}
	e.write(func(s storage.Session) error { return s.UpsertComponents(e.Ctx, []*types.Component{c}) })
	return c
}

// Issue returns an unsaved open code smell on the seeded file and rule.
func (e *Env) Issue(key string) *types.Issue {
	return &types.Issue{
		Key:           key,
		ProjectUUID:   ProjectUUID,
		ComponentUUID: FileUUID,
		RuleKey:       RuleKey,
		Status:        types.StatusOpen,
		Severity:      types.SeverityMajor,
		Type:          types.TypeCodeSmell,
		Message:       "Remove this unused function",
		Line:          10,
		CreatedAt:     e.Now,
		UpdatedAt:     e.Now,
		IsNew:         true,
	}
}

// InsertIssue writes issues directly, bypassing change tracking.
func (e *Env) InsertIssue(issues ...*types.Issue) {
	e.t.Helper()
	rule := &types.Rule{UUID: RuleUUID, Key: RuleKey, CleanCodeAttribute: types.AttributeClear}
	e.write(func(s storage.Session) error {
		var recs []*storage.IssueRecord
		var impacts []*storage.ImpactRecord
		for _, issue := range issues {
			rec := storage.NewIssueRecord(issue, rule, e.Now)
			recs = append(recs, rec)
			impacts = append(impacts, rec.Impacts...)
		}
		if err := s.InsertIssues(e.Ctx, recs); err != nil {
			return err
		}
		return s.InsertImpacts(e.Ctx, impacts)
	})
	for _, issue := range issues {
		issue.IsNew = false
		issue.SelectedAt = e.Now
	}
}

// Load reads one issue back from the store.
func (e *Env) Load(key string) *storage.IssueRecord {
	e.t.Helper()
	recs, err := e.Store.SelectIssuesByKeys(e.Ctx, []string{key})
	if err != nil {
		e.t.Fatalf("teststore: load %s: %v", key, err)
	}
	if len(recs) == 0 {
		e.t.Fatalf("teststore: issue %s not found", key)
	}
	return recs[0]
}
