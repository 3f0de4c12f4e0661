package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Diff field keys recorded by the engine. Attribute changes use the
// attribute name itself as the key.
const (
	FieldAssignee       = "assignee"
	FieldSeverity       = "severity"
	FieldStatus         = "status"
	FieldResolution     = "resolution"
	FieldType           = "type"
	FieldTags           = "tags"
	FieldImpactSeverity = "impactSeverity"
	FieldFile           = "file"
	FieldTechnicalDebt  = "technicalDebt"
	FieldLine           = "line"
	FieldMessage        = "message"
)

// Diff is the before/after value of one field. Empty strings mean absent.
type Diff struct {
	Key      string `json:"key"`
	OldValue string `json:"old,omitempty"`
	NewValue string `json:"new,omitempty"`
}

// FieldDiffs groups the diffs produced by one logical mutation of an issue.
// Diffs keep the order in which fields were first touched.
type FieldDiffs struct {
	IssueKey      string
	UserUUID      string
	ExternalUser  string
	WebhookSource string
	CreatedAt     time.Time

	diffs []Diff
	index map[string]int
}

// NewFieldDiffs creates an empty collection stamped with the change context.
func NewFieldDiffs(issueKey string, ctx ChangeContext) *FieldDiffs {
	return &FieldDiffs{
		IssueKey:      issueKey,
		UserUUID:      ctx.UserUUID,
		ExternalUser:  ctx.ExternalUser,
		WebhookSource: ctx.WebhookSource,
		CreatedAt:     ctx.Date,
	}
}

// SetDiff records a change of key. When the key was already changed in this
// collection the original old value is kept and only the new value moves.
func (d *FieldDiffs) SetDiff(key, oldValue, newValue string) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[key]; ok {
		d.diffs[i].NewValue = newValue
		return
	}
	d.index[key] = len(d.diffs)
	d.diffs = append(d.diffs, Diff{Key: key, OldValue: oldValue, NewValue: newValue})
}

// Get returns the diff recorded for key.
func (d *FieldDiffs) Get(key string) (Diff, bool) {
	if d == nil {
		return Diff{}, false
	}
	i, ok := d.index[key]
	if !ok {
		return Diff{}, false
	}
	return d.diffs[i], true
}

// Diffs returns a copy of the recorded diffs in order.
func (d *FieldDiffs) Diffs() []Diff {
	if d == nil {
		return nil
	}
	out := make([]Diff, len(d.diffs))
	copy(out, d.diffs)
	return out
}

// Len returns the number of recorded diffs.
func (d *FieldDiffs) Len() int {
	if d == nil {
		return 0
	}
	return len(d.diffs)
}

// IsEmpty reports whether nothing was recorded. Empty collections are never persisted.
func (d *FieldDiffs) IsEmpty() bool {
	return d.Len() == 0
}

type fieldDiffsJSON struct {
	Diffs         []Diff `json:"diffs"`
	ExternalUser  string `json:"externalUser,omitempty"`
	WebhookSource string `json:"webhookSource,omitempty"`
}

// Encode serializes the diffs and their metadata for the change_data column.
func (d *FieldDiffs) Encode() (string, error) {
	data, err := json.Marshal(fieldDiffsJSON{
		Diffs:         d.diffs,
		ExternalUser:  d.ExternalUser,
		WebhookSource: d.WebhookSource,
	})
	if err != nil {
		return "", fmt.Errorf("encode field diffs: %w", err)
	}
	return string(data), nil
}

// ParseFieldDiffs decodes a change_data column written by Encode.
func ParseFieldDiffs(data string) (*FieldDiffs, error) {
	var raw fieldDiffsJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("parse field diffs: %w", err)
	}
	d := &FieldDiffs{
		ExternalUser:  raw.ExternalUser,
		WebhookSource: raw.WebhookSource,
	}
	for _, diff := range raw.Diffs {
		d.SetDiff(diff.Key, diff.OldValue, diff.NewValue)
	}
	return d, nil
}

// ChangeContext identifies who performs a mutation and when. All diffs
// recorded under the same context land in one FieldDiffs.
type ChangeContext struct {
	Date          time.Time
	UserUUID      string
	ExternalUser  string
	WebhookSource string
	// Scan is set when the change comes from analysis rather than a user.
	Scan bool
}

// UserChange returns the context of a change made by a logged-in user.
func UserChange(date time.Time, userUUID string) ChangeContext {
	return ChangeContext{Date: date, UserUUID: userUUID}
}

// ScanChange returns the context of a change made by analysis.
func ScanChange(date time.Time) ChangeContext {
	return ChangeContext{Date: date, Scan: true}
}
