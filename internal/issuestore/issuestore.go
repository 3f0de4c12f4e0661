// Package issuestore persists mutated issues: new issues through bounded
// insert batches, existing issues through a separate update session with
// concurrent modification detection, and both through the search index.
package issuestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

// DefaultBatchSize is the number of inserted issues committed per flush.
const DefaultBatchSize = 500

// RuleFinder resolves the authoritative definition of a rule. Lookups that
// need the database go through q so they share the caller's session.
type RuleFinder interface {
	FindRule(ctx context.Context, q storage.Queries, key types.RuleKey) (*types.Rule, error)
}

// DBRules finds rules in the rules table.
type DBRules struct{}

// FindRule implements RuleFinder.
func (DBRules) FindRule(ctx context.Context, q storage.Queries, key types.RuleKey) (*types.Rule, error) {
	return q.SelectRuleByKey(ctx, key)
}

// Indexer makes persisted issues visible to search. Implementations must
// commit sess before indexing.
type Indexer interface {
	CommitAndIndexIssues(ctx context.Context, sess storage.Session, records []*storage.IssueRecord) error
}

// Queuer is implemented by indexers that keep a durable indexing queue.
// Every insert batch is queued in the session that commits it, so inserts
// committed by a save that fails later are still picked up by recovery.
type Queuer interface {
	Enqueue(ctx context.Context, sess storage.Session, records []*storage.IssueRecord) error
}

// CommitOnly is an Indexer that commits and indexes nothing.
type CommitOnly struct{}

// CommitAndIndexIssues implements Indexer.
func (CommitOnly) CommitAndIndexIssues(ctx context.Context, sess storage.Session, _ []*storage.IssueRecord) error {
	return sess.Commit(ctx)
}

// Saver persists issues. *Store implements it; telemetry wraps it.
type Saver interface {
	Save(ctx context.Context, issues []*types.Issue) ([]*storage.IssueRecord, error)
}

// ConflictError reports updates that matched no row because the issue was
// modified after it was loaded.
type ConflictError struct {
	Keys []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("issues modified concurrently: %s", strings.Join(e.Keys, ", "))
}

// Unwrap lets errors.Is match types.ErrConflict.
func (e *ConflictError) Unwrap() error {
	return types.ErrConflict
}

// Stats are cumulative counters of a Store.
type Stats struct {
	Inserted       int
	Updated        int
	Conflicts      int
	InsertFlushes  int
	InsertDuration time.Duration
	UpdateDuration time.Duration
}

// Store saves and loads issues.
type Store struct {
	db        storage.DB
	rules     RuleFinder
	indexer   Indexer
	batchSize int
	now       func() time.Time
	newKey    func() string
	logger    *slog.Logger

	mu    sync.Mutex
	stats Stats
}

var _ Saver = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets the number of inserts per flush.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRuleFinder replaces the database rule lookup.
func WithRuleFinder(f RuleFinder) Option {
	return func(s *Store) { s.rules = f }
}

// WithIndexer sets the search index notified after each save.
func WithIndexer(idx Indexer) Option {
	return func(s *Store) { s.indexer = idx }
}

// WithClock overrides the clock stamping technical dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store on db.
func New(db storage.DB, opts ...Option) *Store {
	s := &Store{
		db:        db,
		rules:     DBRules{},
		indexer:   CommitOnly{},
		batchSize: DefaultBatchSize,
		now:       time.Now,
		newKey:    uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters accumulated since the Store was created.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) record(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

// Save persists new issues and the changed fields of existing ones, then
// indexes every persisted record. Unchanged existing issues are skipped.
//
// Inserts are committed every batch size issues, so a failure may leave
// earlier batches committed. Updates that lose a race are left out and
// reported through a *ConflictError after the others were committed.
func (s *Store) Save(ctx context.Context, issues []*types.Issue) ([]*storage.IssueRecord, error) {
	var toInsert, toUpdate []*types.Issue
	for _, issue := range issues {
		if err := issue.Validate(); err != nil {
			return nil, err
		}
		switch {
		case issue.IsNew:
			toInsert = append(toInsert, issue)
		case issue.IsChanged():
			if issue.SelectedAt.IsZero() {
				return nil, fmt.Errorf("%w: issue %s was not loaded from storage", types.ErrIllegalState, issue.Key)
			}
			toUpdate = append(toUpdate, issue)
		}
	}

	inserted, err := s.insert(ctx, toInsert)
	if err != nil {
		return nil, err
	}
	updated, conflicts, err := s.updateAndIndex(ctx, toUpdate, inserted)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, issue := range toUpdate {
		if !conflicts[issue.Key] {
			issue.RowVersion++
		}
	}
	for _, issue := range append(toInsert, toUpdate...) {
		if conflicts[issue.Key] {
			continue
		}
		issue.ClearPending()
		issue.IsNew = false
		issue.SelectedAt = now
	}

	records := append(inserted, updated...)
	if len(conflicts) > 0 {
		keys := make([]string, 0, len(conflicts))
		for _, issue := range toUpdate {
			if conflicts[issue.Key] {
				keys = append(keys, issue.Key)
			}
		}
		return records, &ConflictError{Keys: keys}
	}
	return records, nil
}

// insert writes new issues in bounded batches, each committed on its own,
// then writes their impacts and commits once more.
func (s *Store) insert(ctx context.Context, issues []*types.Issue) ([]*storage.IssueRecord, error) {
	if len(issues) == 0 {
		return nil, nil
	}
	start := time.Now()
	sess, err := s.db.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open insert session: %w", err)
	}
	defer sess.Close()

	if err := s.resolveComponents(ctx, sess, issues); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		all     []*storage.IssueRecord
		pending []*storage.IssueRecord
		changes []*storage.ChangeRecord
		flushes int
	)
	queuer, _ := s.indexer.(Queuer)
	flush := func() error {
		if err := sess.InsertIssues(ctx, pending); err != nil {
			return err
		}
		if err := sess.InsertChanges(ctx, changes); err != nil {
			return err
		}
		if queuer != nil {
			if err := queuer.Enqueue(ctx, sess, pending); err != nil {
				return err
			}
		}
		if err := sess.Commit(ctx); err != nil {
			return err
		}
		flushes++
		s.logger.Debug("flushed issue inserts", "issues", len(pending), "changes", len(changes))
		pending, changes = pending[:0], changes[:0]
		return nil
	}

	for _, issue := range issues {
		rule, err := s.findRule(ctx, sess, issue)
		if err != nil {
			return nil, err
		}
		rec := storage.NewIssueRecord(issue, rule, now)
		issueChanges, err := s.changeRecords(issue, now)
		if err != nil {
			return nil, err
		}
		all = append(all, rec)
		pending = append(pending, rec)
		changes = append(changes, issueChanges...)
		if len(pending) >= s.batchSize {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("insert issues: %w", err)
			}
		}
	}
	if len(pending) > 0 {
		if err := flush(); err != nil {
			return nil, fmt.Errorf("insert issues: %w", err)
		}
	}

	var impacts []*storage.ImpactRecord
	for _, rec := range all {
		impacts = append(impacts, rec.Impacts...)
	}
	if err := sess.InsertImpacts(ctx, impacts); err != nil {
		return nil, fmt.Errorf("insert impacts: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit impacts: %w", err)
	}

	s.record(func(st *Stats) {
		st.Inserted += len(all)
		st.InsertFlushes += flushes
		st.InsertDuration += time.Since(start)
	})
	return all, nil
}

// updateAndIndex writes existing issues in a session of its own and hands
// every persisted record to the indexer, which commits that session.
func (s *Store) updateAndIndex(ctx context.Context, issues []*types.Issue, inserted []*storage.IssueRecord) ([]*storage.IssueRecord, map[string]bool, error) {
	start := time.Now()
	sess, err := s.db.OpenSession(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open update session: %w", err)
	}
	defer sess.Close()

	now := s.now()
	var (
		updated   []*storage.IssueRecord
		keys      []string
		changes   []*storage.ChangeRecord
		impacts   []*storage.ImpactRecord
		conflicts = make(map[string]bool)
	)
	for _, issue := range issues {
		rule, err := s.findRule(ctx, sess, issue)
		if err != nil {
			return nil, nil, err
		}
		rec := storage.NewIssueRecord(issue, rule, now)
		n, err := sess.UpdateIssue(ctx, rec)
		if err != nil {
			return nil, nil, fmt.Errorf("update issue %s: %w", issue.Key, err)
		}
		if n == 0 {
			s.logger.Warn("issue modified concurrently", "issue", issue.Key, "row_version", issue.RowVersion)
			conflicts[issue.Key] = true
			continue
		}
		rec.Version++
		issueChanges, err := s.changeRecords(issue, now)
		if err != nil {
			return nil, nil, err
		}
		updated = append(updated, rec)
		keys = append(keys, rec.Key)
		changes = append(changes, issueChanges...)
		impacts = append(impacts, rec.Impacts...)
	}

	if err := sess.InsertChanges(ctx, changes); err != nil {
		return nil, nil, fmt.Errorf("insert changes: %w", err)
	}
	if err := sess.DeleteImpacts(ctx, keys); err != nil {
		return nil, nil, fmt.Errorf("delete impacts: %w", err)
	}
	if err := sess.InsertImpacts(ctx, impacts); err != nil {
		return nil, nil, fmt.Errorf("insert impacts: %w", err)
	}

	all := make([]*storage.IssueRecord, 0, len(inserted)+len(updated))
	all = append(all, inserted...)
	all = append(all, updated...)
	if err := s.indexer.CommitAndIndexIssues(ctx, sess, all); err != nil {
		return nil, nil, fmt.Errorf("commit and index: %w", err)
	}

	s.record(func(st *Stats) {
		st.Updated += len(updated)
		st.Conflicts += len(conflicts)
		st.UpdateDuration += time.Since(start)
	})
	return updated, conflicts, nil
}

// resolveComponents checks that every new issue points at a stored component
// and fills in its project and component keys.
func (s *Store) resolveComponents(ctx context.Context, q storage.Queries, issues []*types.Issue) error {
	seen := make(map[string]bool)
	var uuids []string
	for _, issue := range issues {
		for _, u := range []string{issue.ComponentUUID, issue.ProjectUUID} {
			if !seen[u] {
				seen[u] = true
				uuids = append(uuids, u)
			}
		}
	}
	comps, err := q.SelectComponentsByUUIDs(ctx, uuids)
	if err != nil {
		return fmt.Errorf("resolve components: %w", err)
	}
	byUUID := make(map[string]*types.Component, len(comps))
	for _, c := range comps {
		byUUID[c.UUID] = c
	}
	for _, issue := range issues {
		comp, ok := byUUID[issue.ComponentUUID]
		if !ok {
			return fmt.Errorf("%w: component %s of issue %s not found", types.ErrIllegalState, issue.ComponentUUID, issue.Key)
		}
		if comp.ProjectUUID != issue.ProjectUUID {
			return fmt.Errorf("%w: component %s of issue %s belongs to project %s, not %s",
				types.ErrIllegalState, comp.UUID, issue.Key, comp.ProjectUUID, issue.ProjectUUID)
		}
		issue.ComponentKey = comp.Key
		if project, ok := byUUID[issue.ProjectUUID]; ok {
			issue.ProjectKey = project.Key
		}
	}
	return nil
}

// findRule resolves the rule of issue. A missing rule means the catalog and
// the database drifted apart and is not recoverable.
func (s *Store) findRule(ctx context.Context, q storage.Queries, issue *types.Issue) (*types.Rule, error) {
	rule, err := s.rules.FindRule(ctx, q, issue.RuleKey)
	if errors.Is(err, types.ErrNotFound) || (err == nil && rule == nil) {
		return nil, fmt.Errorf("%w: rule %s of issue %s not found", types.ErrIllegalState, issue.RuleKey, issue.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("find rule %s: %w", issue.RuleKey, err)
	}
	return rule, nil
}

// changeRecords turns the pending diffs and comments of issue into rows.
// Empty diffs are never persisted.
func (s *Store) changeRecords(issue *types.Issue, now time.Time) ([]*storage.ChangeRecord, error) {
	var out []*storage.ChangeRecord
	if diffs := issue.CurrentChange(); !diffs.IsEmpty() {
		data, err := diffs.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode changes of %s: %w", issue.Key, err)
		}
		date := diffs.CreatedAt
		if date.IsZero() {
			date = now
		}
		out = append(out, &storage.ChangeRecord{
			Key:        s.newKey(),
			IssueKey:   issue.Key,
			UserUUID:   diffs.UserUUID,
			ChangeType: storage.ChangeTypeDiff,
			Data:       data,
			ChangeDate: date,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	for _, c := range issue.NewComments() {
		key := c.Key
		if key == "" {
			key = s.newKey()
		}
		date := c.CreatedAt
		if date.IsZero() {
			date = now
		}
		out = append(out, &storage.ChangeRecord{
			Key:        key,
			IssueKey:   issue.Key,
			UserUUID:   c.UserUUID,
			ChangeType: storage.ChangeTypeComment,
			Data:       c.Markdown,
			ChangeDate: date,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	return out, nil
}
