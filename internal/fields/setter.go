// Package fields applies field changes to issues and records the matching
// changelog diffs.
package fields

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qualityhub/issueflow/internal/types"
)

// Setter is the single entry point for mutating issue fields. Every method
// compares old and new values, records a diff only when they differ, and
// reports whether the issue changed.
type Setter struct {
	newKey func() string
}

// NewSetter returns a Setter generating comment keys with UUIDs.
func NewSetter() *Setter {
	return &Setter{newKey: uuid.NewString}
}

// set is the shared compare-assign-record step behind every setter.
func set[T any](issue *types.Issue, ctx types.ChangeContext, field string, current *T, value T, equal func(a, b T) bool, format func(T) string) bool {
	if equal(*current, value) {
		return false
	}
	old := *current
	*current = value
	issue.RecordChange(ctx, field, format(old), format(value))
	issue.UpdatedAt = ctx.Date
	return true
}

func eq[T comparable](a, b T) bool { return a == b }

func str[T ~string](v T) string { return string(v) }

// Assign sets the assignee (a user UUID, empty to unassign).
func (s *Setter) Assign(issue *types.Issue, userUUID string, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldAssignee, &issue.Assignee, userUUID, eq[string], str[string])
}

// SetSeverity applies a rule-derived severity. It is ignored once a user
// has set the severity manually.
func (s *Setter) SetSeverity(issue *types.Issue, severity types.Severity, ctx types.ChangeContext) bool {
	if issue.ManualSeverity {
		return false
	}
	return set(issue, ctx, types.FieldSeverity, &issue.Severity, severity, eq[types.Severity], str[types.Severity])
}

// SetManualSeverity applies a user-chosen severity and pins it against
// later rule-derived changes.
func (s *Setter) SetManualSeverity(issue *types.Issue, severity types.Severity, ctx types.ChangeContext) bool {
	if !set(issue, ctx, types.FieldSeverity, &issue.Severity, severity, eq[types.Severity], str[types.Severity]) {
		return false
	}
	issue.ManualSeverity = true
	return true
}

// SetStatus moves the issue to another workflow state.
func (s *Setter) SetStatus(issue *types.Issue, status types.Status, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldStatus, &issue.Status, status, eq[types.Status], str[types.Status])
}

// SetResolution sets or clears the resolution.
func (s *Setter) SetResolution(issue *types.Issue, resolution types.Resolution, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldResolution, &issue.Resolution, resolution, eq[types.Resolution], str[types.Resolution])
}

// SetType changes the issue type.
func (s *Setter) SetType(issue *types.Issue, issueType types.IssueType, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldType, &issue.Type, issueType, eq[types.IssueType], str[types.IssueType])
}

// SetTags replaces the whole tag set. Tags are normalized first; one diff
// covers the whole set.
func (s *Setter) SetTags(issue *types.Issue, tags []string, ctx types.ChangeContext) bool {
	normalized := normalizeTags(tags)
	return set(issue, ctx, types.FieldTags, &issue.Tags, normalized, slices.Equal[[]string], joinTags)
}

// SetEffort sets the remediation effort in minutes. The changelog keeps the
// historical technicalDebt key.
func (s *Setter) SetEffort(issue *types.Issue, minutes int64, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldTechnicalDebt, &issue.EffortMinutes, minutes, eq[int64], formatMinutes)
}

// SetLine moves the issue to another line of its file.
func (s *Setter) SetLine(issue *types.Issue, line int, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldLine, &issue.Line, line, eq[int], formatLine)
}

// SetMessage changes the issue message.
func (s *Setter) SetMessage(issue *types.Issue, message string, ctx types.ChangeContext) bool {
	return set(issue, ctx, types.FieldMessage, &issue.Message, message, eq[string], str[string])
}

// MoveToComponent attaches the issue to another file. The diff stores file
// UUIDs, translated to names when the changelog is rendered.
func (s *Setter) MoveToComponent(issue *types.Issue, file *types.Component, ctx types.ChangeContext) bool {
	if file == nil || issue.ComponentUUID == file.UUID {
		return false
	}
	changed := set(issue, ctx, types.FieldFile, &issue.ComponentUUID, file.UUID, eq[string], str[string])
	issue.ComponentKey = file.Key
	return changed
}

// SetAttribute sets a free-form attribute, removing it when value is empty.
func (s *Setter) SetAttribute(issue *types.Issue, key, value string, ctx types.ChangeContext) bool {
	old := issue.Attributes[key]
	if old == value {
		return false
	}
	if value == "" {
		delete(issue.Attributes, key)
	} else {
		if issue.Attributes == nil {
			issue.Attributes = make(map[string]string)
		}
		issue.Attributes[key] = value
	}
	issue.RecordChange(ctx, key, old, value)
	issue.UpdatedAt = ctx.Date
	return true
}

// SetImpactSeverity changes the severity of the impact on quality, creating
// the impact when the issue has none for it.
func (s *Setter) SetImpactSeverity(issue *types.Issue, quality types.SoftwareQuality, severity types.ImpactSeverity, manual bool, ctx types.ChangeContext) bool {
	current, ok := issue.Impacts[quality]
	if ok && current.Severity == severity {
		if manual && !current.Manual {
			current.Manual = true
			issue.Impacts[quality] = current
			issue.SetChanged(true)
		}
		return false
	}
	if issue.Impacts == nil {
		issue.Impacts = make(map[types.SoftwareQuality]types.Impact)
	}
	old := ""
	if ok {
		old = formatImpact(quality, current.Severity)
	}
	issue.Impacts[quality] = types.Impact{Severity: severity, Manual: manual}
	issue.RecordChange(ctx, types.FieldImpactSeverity, old, formatImpact(quality, severity))
	issue.UpdatedAt = ctx.Date
	return true
}

// SetCloseDate sets or clears the close date. It is not part of the changelog.
func (s *Setter) SetCloseDate(issue *types.Issue, date *time.Time) bool {
	if sameTime(issue.ClosedAt, date) {
		return false
	}
	issue.ClosedAt = date
	issue.SetChanged(true)
	return true
}

// AddComment queues a markdown comment authored by the context user.
func (s *Setter) AddComment(issue *types.Issue, text string, ctx types.ChangeContext) *types.Comment {
	c := &types.Comment{
		Key:       s.newKey(),
		IssueKey:  issue.Key,
		UserUUID:  ctx.UserUUID,
		Markdown:  text,
		CreatedAt: ctx.Date,
		UpdatedAt: ctx.Date,
	}
	issue.AddComment(c)
	return c
}

var tagPattern = regexp.MustCompile(`^[a-z0-9+#\-.]+$`)

// ValidateTags normalizes tags and rejects the ones that cannot be stored.
func ValidateTags(tags []string) ([]string, error) {
	normalized := normalizeTags(tags)
	for _, tag := range normalized {
		if !tagPattern.MatchString(tag) {
			return nil, fmt.Errorf("%w: tag %q is invalid; tags accept lowercase alphanumeric characters and +, #, -, .", types.ErrInvalidArgument, tag)
		}
	}
	return normalized, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func joinTags(tags []string) string {
	return strings.Join(tags, " ")
}

// SplitTags parses a tags diff value back into a tag set.
func SplitTags(value string) []string {
	return strings.Fields(value)
}

func formatMinutes(m int64) string {
	if m == 0 {
		return ""
	}
	return strconv.FormatInt(m, 10)
}

func formatLine(line int) string {
	if line == 0 {
		return ""
	}
	return strconv.Itoa(line)
}

func formatImpact(q types.SoftwareQuality, s types.ImpactSeverity) string {
	return string(q) + ":" + string(s)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
