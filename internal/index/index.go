// Package index keeps an in-memory search index of issues consistent with
// the database. Writes go through a durable recovery queue: queue rows are
// committed together with the issue rows, and removed once the documents
// are indexed, so a crash or failure between the two is repaired by Recover.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qualityhub/issueflow/internal/storage"
)

// DefaultBatchSize bounds the issues loaded per recovery or rebuild step.
const DefaultBatchSize = 500

// Option configures an Index.
type Option func(*Index)

// WithClock injects a deterministic clock (used for testing).
func WithClock(clock func() time.Time) Option {
	return func(idx *Index) {
		if clock != nil {
			idx.now = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// WithBatchSize overrides the number of issues loaded per step.
func WithBatchSize(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// Index is safe for concurrent use.
type Index struct {
	db        storage.DB
	now       func() time.Time
	newKey    func() string
	logger    *slog.Logger
	batchSize int
	write     func([]*storage.IssueRecord) error

	mu       sync.RWMutex
	docs     map[string]record
	measures map[string]Measures
	// queued holds the queue rows written by Enqueue, by issue key, until
	// the issue is indexed.
	queued map[string][]string
}

// New returns an empty index over db.
func New(db storage.DB, opts ...Option) *Index {
	idx := &Index{
		db:        db,
		now:       time.Now,
		newKey:    uuid.NewString,
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		docs:      make(map[string]record),
		measures:  make(map[string]Measures),
		queued:    make(map[string][]string),
	}
	idx.write = idx.store
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Index) queueItems(records []*storage.IssueRecord) []*storage.QueueItem {
	now := idx.now()
	items := make([]*storage.QueueItem, len(records))
	for i, rec := range records {
		items[i] = &storage.QueueItem{UUID: idx.newKey(), DocID: rec.Key, CreatedAt: now}
	}
	return items
}

// Enqueue writes queue rows for records in sess without committing it, so
// they become durable with whatever else sess commits. The rows are removed
// by the CommitAndIndexIssues call that indexes the same issues, or by
// Recover.
func (idx *Index) Enqueue(ctx context.Context, sess storage.Session, records []*storage.IssueRecord) error {
	if len(records) == 0 {
		return nil
	}
	items := idx.queueItems(records)
	if err := sess.InsertQueueItems(ctx, items); err != nil {
		return fmt.Errorf("queue issues for indexing: %w", err)
	}
	idx.mu.Lock()
	for _, item := range items {
		idx.queued[item.DocID] = append(idx.queued[item.DocID], item.UUID)
	}
	idx.mu.Unlock()
	return nil
}

// CommitAndIndexIssues queues records for indexing in sess, commits sess,
// indexes the records and finally removes their queue rows, including those
// written earlier by Enqueue. When indexing fails the queue rows stay behind
// for Recover and no error is returned, because the database commit already
// succeeded.
func (idx *Index) CommitAndIndexIssues(ctx context.Context, sess storage.Session, records []*storage.IssueRecord) error {
	if len(records) == 0 {
		return sess.Commit(ctx)
	}
	items := idx.queueItems(records)
	uuids := make([]string, 0, len(items))
	for _, item := range items {
		uuids = append(uuids, item.UUID)
	}
	if err := sess.InsertQueueItems(ctx, items); err != nil {
		return fmt.Errorf("queue issues for indexing: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return err
	}
	idx.mu.Lock()
	for _, rec := range records {
		uuids = append(uuids, idx.queued[rec.Key]...)
		delete(idx.queued, rec.Key)
	}
	idx.mu.Unlock()

	if err := idx.write(records); err != nil {
		idx.logger.Warn("indexing failed, issues left in recovery queue", "issues", len(records), "err", err)
		return nil
	}
	if err := sess.DeleteQueueItems(ctx, uuids); err != nil {
		idx.logger.Warn("failed to clear indexing queue", "err", err)
		return nil
	}
	if err := sess.Commit(ctx); err != nil {
		idx.logger.Warn("failed to clear indexing queue", "err", err)
	}
	return nil
}

// Recover indexes the issues left in the queue by failed or interrupted
// commits and returns how many queue rows were processed.
func (idx *Index) Recover(ctx context.Context) (int, error) {
	total := 0
	for {
		items, err := idx.db.SelectQueueItems(ctx, idx.batchSize)
		if err != nil {
			return total, fmt.Errorf("read indexing queue: %w", err)
		}
		if len(items) == 0 {
			return total, nil
		}

		seen := make(map[string]bool)
		var keys, uuids []string
		for _, item := range items {
			uuids = append(uuids, item.UUID)
			if !seen[item.DocID] {
				seen[item.DocID] = true
				keys = append(keys, item.DocID)
			}
		}
		recs, err := idx.db.SelectIssuesByKeys(ctx, keys)
		if err != nil {
			return total, fmt.Errorf("load queued issues: %w", err)
		}
		if err := idx.write(recs); err != nil {
			return total, fmt.Errorf("index queued issues: %w", err)
		}
		// Queued issues that no longer exist are dropped from the index.
		found := make(map[string]bool, len(recs))
		for _, r := range recs {
			found[r.Key] = true
		}
		idx.mu.Lock()
		for _, k := range keys {
			if !found[k] {
				delete(idx.docs, k)
			}
		}
		idx.mu.Unlock()

		if err := idx.deleteQueueItems(ctx, uuids); err != nil {
			return total, err
		}
		total += len(items)
		idx.logger.Debug("recovered indexing queue batch", "items", len(items))
	}
}

func (idx *Index) deleteQueueItems(ctx context.Context, uuids []string) error {
	sess, err := idx.db.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.DeleteQueueItems(ctx, uuids); err != nil {
		return fmt.Errorf("clear indexing queue: %w", err)
	}
	return sess.Commit(ctx)
}

// Rebuild replaces the index with every issue in the database.
func (idx *Index) Rebuild(ctx context.Context) (int, error) {
	var pages [][]string
	after := ""
	for {
		keys, err := idx.db.SelectIssueKeys(ctx, after, idx.batchSize)
		if err != nil {
			return 0, fmt.Errorf("list issue keys: %w", err)
		}
		if len(keys) == 0 {
			break
		}
		pages = append(pages, keys)
		after = keys[len(keys)-1]
	}

	var mu sync.Mutex
	docs := make(map[string]record)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, page := range pages {
		g.Go(func() error {
			recs, err := idx.db.SelectIssuesByKeys(gctx, page)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range recs {
				docs[r.Key] = mapRecord(r)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("load issues: %w", err)
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.mu.Unlock()
	return len(docs), nil
}

func (idx *Index) store(records []*storage.IssueRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, r := range records {
		idx.docs[r.Key] = mapRecord(r)
	}
	return nil
}

// Len returns the number of indexed issues.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Get returns the indexed document of key.
func (idx *Index) Get(key string) (Result, bool) {
	idx.mu.RLock()
	rec, ok := idx.docs[key]
	idx.mu.RUnlock()
	if !ok {
		return Result{}, false
	}
	return rec.result(0, ""), true
}

// Keys returns the indexed keys in order.
func (idx *Index) Keys() []string {
	idx.mu.RLock()
	keys := make([]string, 0, len(idx.docs))
	for k := range idx.docs {
		keys = append(keys, k)
	}
	idx.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

type record struct {
	key        string
	project    string
	rule       string
	status     string
	resolution string
	severity   string
	issueType  string
	assignee   string
	tags       []string
	message    string

	lowerKey     string
	lowerRule    string
	lowerMessage string
	updatedAt    time.Time
}

func mapRecord(r *storage.IssueRecord) record {
	tags := append([]string(nil), r.Tags...)
	rule := ""
	if !r.RuleKey.IsZero() {
		rule = r.RuleKey.String()
	}
	msg := strings.TrimSpace(r.Message)
	return record{
		key:          r.Key,
		project:      r.ProjectUUID,
		rule:         rule,
		status:       string(r.Status),
		resolution:   string(r.Resolution),
		severity:     string(r.Severity),
		issueType:    string(r.Type),
		assignee:     r.Assignee,
		tags:         tags,
		message:      msg,
		lowerKey:     strings.ToLower(r.Key),
		lowerRule:    strings.ToLower(rule),
		lowerMessage: strings.ToLower(msg),
		updatedAt:    r.IssueUpdatedAt,
	}
}

func (rec record) result(score float64, snippet string) Result {
	return Result{
		Key:        rec.key,
		Project:    rec.project,
		Rule:       rec.rule,
		Status:     rec.status,
		Resolution: rec.resolution,
		Severity:   rec.severity,
		Type:       rec.issueType,
		Assignee:   rec.assignee,
		Tags:       append([]string(nil), rec.tags...),
		Message:    rec.message,
		Snippet:    snippet,
		Score:      score,
		UpdatedAt:  rec.updatedAt,
	}
}
