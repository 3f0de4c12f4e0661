package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qualityhub/issueflow/internal/storage"
	"github.com/qualityhub/issueflow/internal/types"
)

// queries implements storage.Queries over whatever connection conn returns:
// the pool for a Store, the transaction for a session.
type queries struct {
	batchSize int
	conn      func(ctx context.Context) (querier, error)
}

const issueColumns = `kee, project_uuid, component_uuid, rule_uuid, rule_key, status, resolution,
	severity, manual_severity, issue_type, assignee, tags, attributes, message, line, effort,
	clean_code_attribute, issue_creation_date, issue_update_date, issue_close_date, created_at, updated_at, row_version`

const issueColumnCount = 23

const changeColumns = `kee, issue_key, user_uuid, change_type, change_data, issue_change_creation_date, created_at, updated_at`

func (q queries) SelectIssuesByKeys(ctx context.Context, keys []string) ([]*storage.IssueRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := batchIN(ctx, c, keys, q.batchSize,
		"SELECT "+issueColumns+" FROM issues WHERE kee IN (%s)", nil, scanIssue)
	if err != nil {
		return nil, wrapDBError("select issues", err)
	}
	if len(issues) == 0 {
		return nil, nil
	}

	found := make([]string, len(issues))
	byKey := make(map[string]*storage.IssueRecord, len(issues))
	for i, r := range issues {
		found[i] = r.Key
		byKey[r.Key] = r
	}
	impacts, err := q.SelectImpactsByIssueKeys(ctx, found)
	if err != nil {
		return nil, err
	}
	for _, imp := range impacts {
		if r := byKey[imp.IssueKey]; r != nil {
			r.Impacts = append(r.Impacts, imp)
		}
	}
	return issues, nil
}

func (q queries) SelectIssueKeys(ctx context.Context, afterKey string, limit int) ([]string, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx, "SELECT kee FROM issues WHERE kee > ? ORDER BY kee LIMIT ?", afterKey, limit)
	if err != nil {
		return nil, wrapDBError("select issue keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapDBError("scan issue key", err)
		}
		keys = append(keys, k)
	}
	return keys, wrapDBError("select issue keys", rows.Err())
}

func (q queries) SelectChangesByIssueKeys(ctx context.Context, issueKeys []string, changeTypes ...string) ([]*storage.ChangeRecord, error) {
	if len(issueKeys) == 0 {
		return nil, nil
	}
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + changeColumns + " FROM issue_changes WHERE issue_key IN (%s)"
	var extra []any
	if len(changeTypes) > 0 {
		query += " AND change_type IN (" + placeholders(len(changeTypes)) + ")"
		for _, t := range changeTypes {
			extra = append(extra, t)
		}
	}
	query += " ORDER BY issue_change_creation_date, id"

	changes, err := batchIN(ctx, c, issueKeys, q.batchSize, query, extra, scanChange)
	if err != nil {
		return nil, wrapDBError("select issue changes", err)
	}
	// Batches are ordered independently.
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].ChangeDate.Before(changes[j].ChangeDate)
	})
	return changes, nil
}

func (q queries) SelectImpactsByIssueKeys(ctx context.Context, issueKeys []string) ([]*storage.ImpactRecord, error) {
	if len(issueKeys) == 0 {
		return nil, nil
	}
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	impacts, err := batchIN(ctx, c, issueKeys, q.batchSize,
		"SELECT issue_key, software_quality, severity, manual_severity FROM issues_impacts WHERE issue_key IN (%s) ORDER BY issue_key, software_quality",
		nil, func(rows *sql.Rows) (*storage.ImpactRecord, error) {
			var r storage.ImpactRecord
			err := rows.Scan(&r.IssueKey, &r.Quality, &r.Severity, &r.Manual)
			return &r, err
		})
	return impacts, wrapDBError("select impacts", err)
}

func (q queries) SelectUsersByUUIDs(ctx context.Context, uuids []string) ([]*types.User, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	users, err := batchIN(ctx, c, uuids, q.batchSize,
		"SELECT uuid, login, name, email, active FROM users WHERE uuid IN (%s)", nil, scanUser)
	return users, wrapDBError("select users", err)
}

func (q queries) SelectUserByLogin(ctx context.Context, login string) (*types.User, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx, "SELECT uuid, login, name, email, active FROM users WHERE login = ?", login)
	if err != nil {
		return nil, wrapDBError("select user", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapDBError("select user", err)
		}
		return nil, fmt.Errorf("user %q: %w", login, storage.ErrNotFound)
	}
	u, err := scanUser(rows)
	return u, wrapDBError("scan user", err)
}

func (q queries) SelectComponentsByUUIDs(ctx context.Context, uuids []string) ([]*types.Component, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	comps, err := batchIN(ctx, c, uuids, q.batchSize,
		"SELECT uuid, kee, name, long_name, qualifier, project_uuid FROM components WHERE uuid IN (%s)",
		nil, func(rows *sql.Rows) (*types.Component, error) {
			var comp types.Component
			err := rows.Scan(&comp.UUID, &comp.Key, &comp.Name, &comp.LongName, &comp.Qualifier, &comp.ProjectUUID)
			return &comp, err
		})
	return comps, wrapDBError("select components", err)
}

func (q queries) SelectRuleByKey(ctx context.Context, key types.RuleKey) (*types.Rule, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx,
		"SELECT uuid, rule_key, name, rule_type, severity, clean_code_attribute, impacts FROM rules WHERE rule_key = ?",
		key.String())
	if err != nil {
		return nil, wrapDBError("select rule", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapDBError("select rule", err)
		}
		return nil, fmt.Errorf("rule %s: %w", key, storage.ErrNotFound)
	}

	var (
		r       types.Rule
		ruleKey string
		impacts sql.NullString
	)
	if err := rows.Scan(&r.UUID, &ruleKey, &r.Name, &r.Type, &r.Severity, &r.CleanCodeAttribute, &impacts); err != nil {
		return nil, wrapDBError("scan rule", err)
	}
	if r.Key, err = types.ParseRuleKey(ruleKey); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.UUID, err)
	}
	if impacts.Valid && impacts.String != "" {
		if err := json.Unmarshal([]byte(impacts.String), &r.DefaultImpacts); err != nil {
			return nil, fmt.Errorf("rule %s: decode impacts: %w", key, err)
		}
	}
	return &r, nil
}

func (q queries) SelectQueueItems(ctx context.Context, limit int) ([]*storage.QueueItem, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx, "SELECT uuid, doc_id, created_at FROM index_queue ORDER BY created_at, uuid LIMIT ?", limit)
	if err != nil {
		return nil, wrapDBError("select queue", err)
	}
	defer rows.Close()

	var items []*storage.QueueItem
	for rows.Next() {
		var (
			item    storage.QueueItem
			created int64
		)
		if err := rows.Scan(&item.UUID, &item.DocID, &created); err != nil {
			return nil, wrapDBError("scan queue item", err)
		}
		item.CreatedAt = fromMillis(created)
		items = append(items, &item)
	}
	return items, wrapDBError("select queue", rows.Err())
}

func scanIssue(rows *sql.Rows) (*storage.IssueRecord, error) {
	var (
		r                          storage.IssueRecord
		ruleKey, tags              string
		attributes                 sql.NullString
		issueCreated, issueUpdated int64
		issueClosed                sql.NullInt64
		created, updated           int64
	)
	if err := rows.Scan(&r.Key, &r.ProjectUUID, &r.ComponentUUID, &r.RuleUUID, &ruleKey, &r.Status, &r.Resolution,
		&r.Severity, &r.ManualSeverity, &r.Type, &r.Assignee, &tags, &attributes, &r.Message, &r.Line, &r.Effort,
		&r.CleanCodeAttribute, &issueCreated, &issueUpdated, &issueClosed, &created, &updated, &r.Version); err != nil {
		return nil, err
	}
	if ruleKey != "" {
		k, err := types.ParseRuleKey(ruleKey)
		if err != nil {
			return nil, fmt.Errorf("issue %s: %w", r.Key, err)
		}
		r.RuleKey = k
	}
	r.Tags = decodeTags(tags)
	if attributes.Valid && attributes.String != "" {
		if err := json.Unmarshal([]byte(attributes.String), &r.Attributes); err != nil {
			return nil, fmt.Errorf("issue %s: decode attributes: %w", r.Key, err)
		}
	}
	r.IssueCreatedAt = fromMillis(issueCreated)
	r.IssueUpdatedAt = fromMillis(issueUpdated)
	if issueClosed.Valid {
		t := fromMillis(issueClosed.Int64)
		r.IssueClosedAt = &t
	}
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}

func scanChange(rows *sql.Rows) (*storage.ChangeRecord, error) {
	var (
		c                            storage.ChangeRecord
		changeDate, created, updated int64
	)
	if err := rows.Scan(&c.Key, &c.IssueKey, &c.UserUUID, &c.ChangeType, &c.Data, &changeDate, &created, &updated); err != nil {
		return nil, err
	}
	c.ChangeDate = fromMillis(changeDate)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func scanUser(rows *sql.Rows) (*types.User, error) {
	var u types.User
	err := rows.Scan(&u.UUID, &u.Login, &u.Name, &u.Email, &u.Active)
	return &u, err
}

// issueValues returns the column values of r in issueColumns order.
func issueValues(r *storage.IssueRecord) []any {
	var ruleKey string
	if !r.RuleKey.IsZero() {
		ruleKey = r.RuleKey.String()
	}
	return []any{
		r.Key, r.ProjectUUID, r.ComponentUUID, r.RuleUUID, ruleKey, string(r.Status), string(r.Resolution),
		string(r.Severity), r.ManualSeverity, string(r.Type), r.Assignee, encodeTags(r.Tags), encodeAttributes(r.Attributes),
		r.Message, r.Line, r.Effort, string(r.CleanCodeAttribute), toMillis(r.IssueCreatedAt), toMillis(r.IssueUpdatedAt),
		nullableMillis(r.IssueClosedAt), toMillis(r.CreatedAt), toMillis(r.UpdatedAt), r.Version,
	}
}

// Tags never contain spaces.
func encodeTags(tags []string) string {
	return strings.Join(tags, " ")
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func encodeAttributes(attrs map[string]string) any {
	if len(attrs) == 0 {
		return nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil
	}
	return string(data)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
