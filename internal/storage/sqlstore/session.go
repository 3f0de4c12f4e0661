package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

var errSessionClosed = errors.New("session is closed")

// session is a storage.Session over one lazily begun transaction.
type session struct {
	queries

	store  *Store
	txn    *sql.Tx
	wrote  bool
	closed bool
}

var _ storage.Session = (*session)(nil)

// tx returns the open transaction, beginning one if needed.
func (s *session) tx(ctx context.Context) (querier, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if s.txn != nil {
		return s.txn, nil
	}
	err := withRetry(ctx, func() error {
		var beginErr error
		s.txn, beginErr = s.store.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return s.txn, nil
}

func (s *session) exec(ctx context.Context, op string, fn func(q querier) error) error {
	q, err := s.tx(ctx)
	if err != nil {
		return err
	}
	if err := fn(q); err != nil {
		return wrapDBError(op, err)
	}
	s.wrote = true
	return nil
}

func (s *session) InsertIssues(ctx context.Context, records []*storage.IssueRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.exec(ctx, "insert issues", func(q querier) error {
		return insertRows(ctx, q, "INSERT INTO issues ("+issueColumns+") VALUES", issueColumnCount, records, issueValues)
	})
}

func (s *session) UpdateIssue(ctx context.Context, r *storage.IssueRecord) (int64, error) {
	var affected int64
	var ruleKey string
	if !r.RuleKey.IsZero() {
		ruleKey = r.RuleKey.String()
	}
	err := s.exec(ctx, "update issue", func(q querier) error {
		res, err := q.ExecContext(ctx, `UPDATE issues SET
			component_uuid = ?, rule_uuid = ?, rule_key = ?, status = ?, resolution = ?, severity = ?,
			manual_severity = ?, issue_type = ?, assignee = ?, tags = ?, attributes = ?, message = ?,
			line = ?, effort = ?, clean_code_attribute = ?, issue_update_date = ?, issue_close_date = ?,
			updated_at = ?, row_version = row_version + 1
			WHERE kee = ? AND row_version = ?`,
			r.ComponentUUID, r.RuleUUID, ruleKey, string(r.Status), string(r.Resolution), string(r.Severity),
			r.ManualSeverity, string(r.Type), r.Assignee, encodeTags(r.Tags), encodeAttributes(r.Attributes), r.Message,
			r.Line, r.Effort, string(r.CleanCodeAttribute), toMillis(r.IssueUpdatedAt), nullableMillis(r.IssueClosedAt),
			toMillis(r.UpdatedAt),
			r.Key, r.Version)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *session) InsertChanges(ctx context.Context, changes []*storage.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	return s.exec(ctx, "insert issue changes", func(q querier) error {
		return insertRows(ctx, q, "INSERT INTO issue_changes ("+changeColumns+") VALUES", 8, changes,
			func(c *storage.ChangeRecord) []any {
				return []any{c.Key, c.IssueKey, c.UserUUID, c.ChangeType, c.Data,
					toMillis(c.ChangeDate), toMillis(c.CreatedAt), toMillis(c.UpdatedAt)}
			})
	})
}

func (s *session) InsertImpacts(ctx context.Context, impacts []*storage.ImpactRecord) error {
	if len(impacts) == 0 {
		return nil
	}
	return s.exec(ctx, "insert impacts", func(q querier) error {
		return insertRows(ctx, q, "INSERT INTO issues_impacts (issue_key, software_quality, severity, manual_severity) VALUES", 4, impacts,
			func(i *storage.ImpactRecord) []any {
				return []any{i.IssueKey, string(i.Quality), string(i.Severity), i.Manual}
			})
	})
}

func (s *session) DeleteImpacts(ctx context.Context, issueKeys []string) error {
	return s.deleteIn(ctx, "delete impacts", "DELETE FROM issues_impacts WHERE issue_key IN (%s)", issueKeys)
}

func (s *session) UpsertUsers(ctx context.Context, users []*types.User) error {
	if len(users) == 0 {
		return nil
	}
	return s.exec(ctx, "upsert users", func(q querier) error {
		return insertRows(ctx, q, "REPLACE INTO users (uuid, login, name, email, active) VALUES", 5, users,
			func(u *types.User) []any {
				return []any{u.UUID, u.Login, u.Name, u.Email, u.Active}
			})
	})
}

func (s *session) UpsertComponents(ctx context.Context, components []*types.Component) error {
	if len(components) == 0 {
		return nil
	}
	return s.exec(ctx, "upsert components", func(q querier) error {
		return insertRows(ctx, q, "REPLACE INTO components (uuid, kee, name, long_name, qualifier, project_uuid) VALUES", 6, components,
			func(c *types.Component) []any {
				return []any{c.UUID, c.Key, c.Name, c.LongName, c.Qualifier, c.ProjectUUID}
			})
	})
}

func (s *session) UpsertRules(ctx context.Context, rules []*types.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	values := make([][]any, len(rules))
	for i, r := range rules {
		var impacts any
		if len(r.DefaultImpacts) > 0 {
			data, err := json.Marshal(r.DefaultImpacts)
			if err != nil {
				return fmt.Errorf("rule %s: encode impacts: %w", r.Key, err)
			}
			impacts = string(data)
		}
		values[i] = []any{r.UUID, r.Key.String(), r.Name, string(r.Type), string(r.Severity), string(r.CleanCodeAttribute), impacts}
	}
	return s.exec(ctx, "upsert rules", func(q querier) error {
		return insertRows(ctx, q, "REPLACE INTO rules (uuid, rule_key, name, rule_type, severity, clean_code_attribute, impacts) VALUES", 7, values,
			func(v []any) []any { return v })
	})
}

func (s *session) InsertQueueItems(ctx context.Context, items []*storage.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.exec(ctx, "insert queue items", func(q querier) error {
		return insertRows(ctx, q, "INSERT INTO index_queue (uuid, doc_id, created_at) VALUES", 3, items,
			func(i *storage.QueueItem) []any {
				return []any{i.UUID, i.DocID, toMillis(i.CreatedAt)}
			})
	})
}

func (s *session) DeleteQueueItems(ctx context.Context, uuids []string) error {
	return s.deleteIn(ctx, "delete queue items", "DELETE FROM index_queue WHERE uuid IN (%s)", uuids)
}

// nolint:gosec // G201: template is filled with ? placeholders only
func (s *session) deleteIn(ctx context.Context, op, template string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.exec(ctx, op, func(q querier) error {
		for i := 0; i < len(ids); i += s.batchSize {
			end := min(i+s.batchSize, len(ids))
			args := make([]any, 0, end-i)
			for _, id := range ids[i:end] {
				args = append(args, id)
			}
			if _, err := q.ExecContext(ctx, fmt.Sprintf(template, placeholders(end-i)), args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Commit makes the session's writes visible. The session stays usable and
// begins a new transaction on its next statement.
func (s *session) Commit(ctx context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	if s.txn == nil {
		return nil
	}
	err := s.txn.Commit()
	s.txn = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if s.wrote {
		s.wrote = false
		return s.store.commitDolt(ctx, "iflow: update issues")
	}
	return nil
}

// Close rolls back anything not committed.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.txn == nil {
		return nil
	}
	err := s.txn.Rollback()
	s.txn = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
