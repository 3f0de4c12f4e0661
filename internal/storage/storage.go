// Package storage defines the relational store the engine persists issues,
// changelogs and impacts to.
//
// The concrete implementation lives in the sqlstore sub-package. This package
// holds the interfaces and row types shared by the implementation and its
// consumers (issuestore, changelog, index, cmd/iflow).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/qualityhub/issueflow/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("%w: no such row", types.ErrNotFound)

// Change types stored in the issue_changes table.
const (
	ChangeTypeDiff    = "diff"
	ChangeTypeComment = "comment"
)

// Queries are the read operations available on the database and on every
// session.
type Queries interface {
	SelectIssuesByKeys(ctx context.Context, keys []string) ([]*IssueRecord, error)
	// SelectIssueKeys pages through issue keys greater than afterKey.
	SelectIssueKeys(ctx context.Context, afterKey string, limit int) ([]string, error)
	SelectChangesByIssueKeys(ctx context.Context, issueKeys []string, changeTypes ...string) ([]*ChangeRecord, error)
	SelectImpactsByIssueKeys(ctx context.Context, issueKeys []string) ([]*ImpactRecord, error)
	SelectUsersByUUIDs(ctx context.Context, uuids []string) ([]*types.User, error)
	SelectUserByLogin(ctx context.Context, login string) (*types.User, error)
	SelectComponentsByUUIDs(ctx context.Context, uuids []string) ([]*types.Component, error)
	SelectRuleByKey(ctx context.Context, key types.RuleKey) (*types.Rule, error)
	SelectQueueItems(ctx context.Context, limit int) ([]*QueueItem, error)
}

// Session is a unit of work on the database. A session is not safe for
// concurrent use. Writes become visible to other sessions on Commit; Close
// discards anything not committed.
type Session interface {
	Queries

	// InsertIssues writes rows in one statement.
	InsertIssues(ctx context.Context, records []*IssueRecord) error
	// UpdateIssue writes rec only if the stored row still has rec.Version,
	// bumping the version, and returns the number of rows affected.
	UpdateIssue(ctx context.Context, rec *IssueRecord) (int64, error)
	InsertChanges(ctx context.Context, changes []*ChangeRecord) error
	InsertImpacts(ctx context.Context, impacts []*ImpactRecord) error
	DeleteImpacts(ctx context.Context, issueKeys []string) error
	UpsertUsers(ctx context.Context, users []*types.User) error
	UpsertComponents(ctx context.Context, components []*types.Component) error
	UpsertRules(ctx context.Context, rules []*types.Rule) error
	InsertQueueItems(ctx context.Context, items []*QueueItem) error
	DeleteQueueItems(ctx context.Context, uuids []string) error

	Commit(ctx context.Context) error
	Close() error
}

// DB is an open database. Its Queries run on the connection pool and are
// safe for concurrent use.
type DB interface {
	Queries
	OpenSession(ctx context.Context) (Session, error)
	Close() error
}

// IssueRecord is the persisted row of an issue.
type IssueRecord struct {
	Key                string
	ProjectUUID        string
	ComponentUUID      string
	RuleUUID           string
	RuleKey            types.RuleKey
	Status             types.Status
	Resolution         types.Resolution
	Severity           types.Severity
	ManualSeverity     bool
	Type               types.IssueType
	Assignee           string
	Tags               []string
	Attributes         map[string]string
	Message            string
	Line               int
	Effort             int64
	CleanCodeAttribute types.CleanCodeAttribute
	IssueCreatedAt     time.Time
	IssueUpdatedAt     time.Time
	IssueClosedAt      *time.Time
	// CreatedAt and UpdatedAt are technical row dates.
	CreatedAt time.Time
	UpdatedAt time.Time
	// Version counts the updates of the row and drives concurrent
	// modification detection.
	Version int64

	Impacts []*ImpactRecord
}

// ChangeRecord is a persisted changelog entry or comment.
type ChangeRecord struct {
	Key        string
	IssueKey   string
	UserUUID   string
	ChangeType string
	Data       string
	// ChangeDate is when the change happened, CreatedAt/UpdatedAt when the
	// row was written or edited.
	ChangeDate time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ImpactRecord is the persisted impact of an issue on one software quality.
type ImpactRecord struct {
	IssueKey string
	Quality  types.SoftwareQuality
	Severity types.ImpactSeverity
	Manual   bool
}

// QueueItem marks an issue whose index document may be stale.
type QueueItem struct {
	UUID      string
	DocID     string
	CreatedAt time.Time
}

// NewIssueRecord builds the row of issue, denormalizing rule-derived fields.
func NewIssueRecord(issue *types.Issue, rule *types.Rule, now time.Time) *IssueRecord {
	rec := &IssueRecord{
		Key:                issue.Key,
		ProjectUUID:        issue.ProjectUUID,
		ComponentUUID:      issue.ComponentUUID,
		RuleUUID:           rule.UUID,
		RuleKey:            rule.Key,
		Status:             issue.Status,
		Resolution:         issue.Resolution,
		Severity:           issue.Severity,
		ManualSeverity:     issue.ManualSeverity,
		Type:               issue.Type,
		Assignee:           issue.Assignee,
		Tags:               issue.Tags,
		Attributes:         issue.Attributes,
		Message:            issue.Message,
		Line:               issue.Line,
		Effort:             issue.EffortMinutes,
		CleanCodeAttribute: rule.CleanCodeAttribute,
		IssueCreatedAt:     issue.CreatedAt,
		IssueUpdatedAt:     issue.UpdatedAt,
		IssueClosedAt:      issue.ClosedAt,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            issue.RowVersion,
	}
	if rec.IssueCreatedAt.IsZero() {
		rec.IssueCreatedAt = now
	}
	if rec.IssueUpdatedAt.IsZero() {
		rec.IssueUpdatedAt = rec.IssueCreatedAt
	}
	impacts := issue.Impacts
	if len(impacts) == 0 {
		impacts = make(map[types.SoftwareQuality]types.Impact, len(rule.DefaultImpacts))
		for q, sev := range rule.DefaultImpacts {
			impacts[q] = types.Impact{Severity: sev}
		}
	}
	for q, imp := range impacts {
		rec.Impacts = append(rec.Impacts, &ImpactRecord{IssueKey: issue.Key, Quality: q, Severity: imp.Severity, Manual: imp.Manual})
	}
	return rec
}

// ToIssue rebuilds the in-memory issue read at selectedAt. The row version
// is kept for conflict detection.
func (r *IssueRecord) ToIssue(selectedAt time.Time) *types.Issue {
	issue := &types.Issue{
		Key:            r.Key,
		ProjectUUID:    r.ProjectUUID,
		ComponentUUID:  r.ComponentUUID,
		RuleKey:        r.RuleKey,
		Status:         r.Status,
		Resolution:     r.Resolution,
		Severity:       r.Severity,
		ManualSeverity: r.ManualSeverity,
		Type:           r.Type,
		Assignee:       r.Assignee,
		Tags:           r.Tags,
		Attributes:     r.Attributes,
		Message:        r.Message,
		Line:           r.Line,
		EffortMinutes:  r.Effort,
		CleanCodeAttr:  r.CleanCodeAttribute,
		CreatedAt:      r.IssueCreatedAt,
		UpdatedAt:      r.IssueUpdatedAt,
		ClosedAt:       r.IssueClosedAt,
		SelectedAt:     selectedAt,
		RowVersion:     r.Version,
	}
	if len(r.Impacts) > 0 {
		issue.Impacts = make(map[types.SoftwareQuality]types.Impact, len(r.Impacts))
		for _, imp := range r.Impacts {
			issue.Impacts[imp.Quality] = types.Impact{Severity: imp.Severity, Manual: imp.Manual}
		}
	}
	return issue
}
