// Package types defines core data structures for the issue lifecycle engine.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Issue is the in-memory, mutable representation of one finding plus the
// changes pending on it. An Issue is owned by the request processing it and
// must not be shared across goroutines.
type Issue struct {
	Key            string             `json:"key"`
	ProjectUUID    string             `json:"project_uuid"`
	ProjectKey     string             `json:"project_key,omitempty"`
	ComponentUUID  string             `json:"component_uuid"`
	ComponentKey   string             `json:"component_key,omitempty"`
	RuleKey        RuleKey            `json:"rule"`
	Status         Status             `json:"status"`
	Resolution     Resolution         `json:"resolution,omitempty"`
	Severity       Severity           `json:"severity"`
	ManualSeverity bool               `json:"manual_severity,omitempty"`
	Type           IssueType          `json:"type"`
	Assignee       string             `json:"assignee,omitempty"` // user UUID
	Tags           []string           `json:"tags,omitempty"`     // sorted, deduplicated
	Attributes     map[string]string  `json:"attributes,omitempty"`
	Message        string             `json:"message,omitempty"`
	Line           int                `json:"line,omitempty"`
	EffortMinutes  int64              `json:"effort,omitempty"`
	CleanCodeAttr  CleanCodeAttribute `json:"clean_code_attribute,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	ClosedAt       *time.Time         `json:"closed_at,omitempty"`

	Impacts map[SoftwareQuality]Impact `json:"impacts,omitempty"`

	// SelectedAt is when the stored row was read.
	SelectedAt time.Time `json:"-"`
	// RowVersion is the version of the stored row that was read; an update
	// only applies while the row still has it.
	RowVersion int64 `json:"-"`
	// IsNew is set for issues that have no stored row yet.
	IsNew bool `json:"-"`
	// BeingClosed is set by analysis when the finding disappeared.
	BeingClosed bool `json:"-"`
	// OnDisabledRule is set by analysis when the rule was removed from the profile.
	OnDisabledRule bool `json:"-"`
	// SendNotifications asks the caller to notify subscribers after save.
	SendNotifications bool `json:"-"`

	changed       bool
	currentChange *FieldDiffs
	history       []*FieldDiffs
	newComments   []*Comment
}

// Impact is the severity of an issue on one software quality.
type Impact struct {
	Severity ImpactSeverity `json:"severity"`
	Manual   bool           `json:"manual,omitempty"`
}

// IsResolved reports whether the issue carries a resolution.
func (i *Issue) IsResolved() bool {
	return i.Resolution != ResolutionNone
}

// IsChanged reports whether any field changed since the issue was loaded.
func (i *Issue) IsChanged() bool {
	return i.changed
}

// SetChanged flags the issue as modified.
func (i *Issue) SetChanged(changed bool) {
	i.changed = changed
}

// RecordChange appends a diff to the pending change of ctx and flags the
// issue as modified.
func (i *Issue) RecordChange(ctx ChangeContext, field, oldValue, newValue string) {
	if i.currentChange == nil {
		i.currentChange = NewFieldDiffs(i.Key, ctx)
	}
	i.currentChange.SetDiff(field, oldValue, newValue)
	i.changed = true
}

// CurrentChange returns the diffs recorded during the current operation, or nil.
func (i *Issue) CurrentChange() *FieldDiffs {
	return i.currentChange
}

// History returns the persisted changelog loaded with the issue, oldest first.
func (i *Issue) History() []*FieldDiffs {
	return i.history
}

// SetHistory attaches the persisted changelog of the issue.
func (i *Issue) SetHistory(history []*FieldDiffs) {
	i.history = history
}

// AddComment queues a comment for persistence and flags the issue as modified.
func (i *Issue) AddComment(c *Comment) {
	i.newComments = append(i.newComments, c)
	i.changed = true
}

// NewComments returns comments added during the current operation.
func (i *Issue) NewComments() []*Comment {
	return i.newComments
}

// ClearPending drops the current change and queued comments once they have
// been persisted.
func (i *Issue) ClearPending() {
	i.currentChange = nil
	i.newComments = nil
	i.changed = false
}

// SortedImpacts returns the impacts ordered by software quality.
func (i *Issue) SortedImpacts() []QualityImpact {
	out := make([]QualityImpact, 0, len(i.Impacts))
	for q, imp := range i.Impacts {
		out = append(out, QualityImpact{Quality: q, Impact: imp})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Quality < out[b].Quality })
	return out
}

// QualityImpact pairs an impact with its software quality.
type QualityImpact struct {
	Quality SoftwareQuality
	Impact
}

// Validate checks the invariants required before an issue can be persisted.
func (i *Issue) Validate() error {
	if i.Key == "" {
		return fmt.Errorf("%w: issue key is required", ErrInvalidArgument)
	}
	if i.ProjectUUID == "" || i.ComponentUUID == "" {
		return fmt.Errorf("%w: issue %s must belong to a project and a component", ErrInvalidArgument, i.Key)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("%w: issue %s has invalid status %q", ErrInvalidArgument, i.Key, i.Status)
	}
	if !i.Resolution.IsValid() {
		return fmt.Errorf("%w: issue %s has invalid resolution %q", ErrInvalidArgument, i.Key, i.Resolution)
	}
	if !i.Type.IsValid() {
		return fmt.Errorf("%w: issue %s has invalid type %q", ErrInvalidArgument, i.Key, i.Type)
	}
	if i.Severity != "" && !i.Severity.IsValid() {
		return fmt.Errorf("%w: issue %s has invalid severity %q", ErrInvalidArgument, i.Key, i.Severity)
	}
	return nil
}

// RuleKey identifies a rule within a repository, e.g. "go:S1144".
type RuleKey struct {
	Repository string `json:"repository"`
	Rule       string `json:"rule"`
}

func (k RuleKey) String() string {
	return k.Repository + ":" + k.Rule
}

// IsZero reports whether the key is unset.
func (k RuleKey) IsZero() bool {
	return k.Repository == "" && k.Rule == ""
}

// ParseRuleKey parses "repository:rule".
func ParseRuleKey(s string) (RuleKey, error) {
	repo, rule, ok := strings.Cut(s, ":")
	if !ok || repo == "" || rule == "" {
		return RuleKey{}, fmt.Errorf("%w: malformed rule key %q", ErrInvalidArgument, s)
	}
	return RuleKey{Repository: repo, Rule: rule}, nil
}

// MarshalText encodes the key as "repository:rule".
func (k RuleKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes "repository:rule".
func (k *RuleKey) UnmarshalText(text []byte) error {
	parsed, err := ParseRuleKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Rule is the catalog definition an issue was raised by.
type Rule struct {
	UUID               string                             `json:"uuid" toml:"uuid"`
	Key                RuleKey                            `json:"key" toml:"key"`
	Name               string                             `json:"name" toml:"name"`
	Type               IssueType                          `json:"type" toml:"type"`
	Severity           Severity                           `json:"severity" toml:"severity"`
	CleanCodeAttribute CleanCodeAttribute                 `json:"clean_code_attribute,omitempty" toml:"clean_code_attribute"`
	DefaultImpacts     map[SoftwareQuality]ImpactSeverity `json:"default_impacts,omitempty" toml:"impacts"`
}

// Comment is a markdown note on an issue.
type Comment struct {
	Key       string    `json:"key"`
	IssueKey  string    `json:"issue_key"`
	UserUUID  string    `json:"user_uuid,omitempty"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account able to act on issues.
type User struct {
	UUID   string `json:"uuid" yaml:"uuid"`
	Login  string `json:"login" yaml:"login"`
	Name   string `json:"name,omitempty" yaml:"name"`
	Email  string `json:"email,omitempty" yaml:"email"`
	Active bool   `json:"active" yaml:"active"`
}

// Component qualifiers
const (
	QualifierProject = "TRK"
	QualifierFile    = "FIL"
)

// Component is a project or a file issues are attached to.
type Component struct {
	UUID        string `json:"uuid" yaml:"uuid"`
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	LongName    string `json:"long_name,omitempty" yaml:"long_name"`
	Qualifier   string `json:"qualifier" yaml:"qualifier"`
	ProjectUUID string `json:"project_uuid" yaml:"project_uuid"`
}
