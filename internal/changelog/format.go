package changelog

import (
	"crypto/md5" // #nosec G501 - avatar hash, not a security boundary
	"encoding/hex"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/qualityhub/issueflow/internal/types"
)

// FieldEffort is the name the technical debt field is shown under.
const FieldEffort = "effort"

// Entry is one formatted changelog entry.
type Entry struct {
	User          string    `json:"user,omitempty"`
	UserName      string    `json:"userName,omitempty"`
	IsUserActive  bool      `json:"isUserActive,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	ExternalUser  string    `json:"externalUser,omitempty"`
	WebhookSource string    `json:"webhookSource,omitempty"`
	CreationDate  time.Time `json:"creationDate"`
	Diffs         []Diff    `json:"diffs"`
}

// Diff is a formatted field change. Empty values are absent.
type Diff struct {
	Key      string `json:"key"`
	OldValue string `json:"oldValue,omitempty"`
	NewValue string `json:"newValue,omitempty"`
}

// CommentEntry is one formatted comment.
type CommentEntry struct {
	Key       string        `json:"key"`
	Login     string        `json:"login,omitempty"`
	Markdown  string        `json:"markdown"`
	HTML      template.HTML `json:"htmlText"`
	Updatable bool          `json:"updatable"`
	CreatedAt time.Time     `json:"createdAt"`
}

// FormatChangelog renders the changelog of issue, oldest first.
func (fc *FormattingContext) FormatChangelog(issue *types.Issue) []Entry {
	changes := fc.changes[issue.Key]
	out := make([]Entry, 0, len(changes))
	for _, c := range changes {
		e := Entry{
			ExternalUser:  c.ExternalUser,
			WebhookSource: c.WebhookSource,
			CreationDate:  c.CreatedAt,
		}
		if u, ok := fc.users[c.UserUUID]; ok {
			e.User = u.Login
			e.UserName = u.Name
			e.IsUserActive = u.Active
			e.Avatar = Avatar(u.Email)
		}
		for _, d := range c.Diffs() {
			e.Diffs = append(e.Diffs, fc.formatDiff(d))
		}
		out = append(out, e)
	}
	return out
}

func (fc *FormattingContext) formatDiff(d types.Diff) Diff {
	switch d.Key {
	case types.FieldFile:
		// An unknown file drops its value, not the diff: readers still see
		// that the issue moved.
		return Diff{Key: d.Key, OldValue: fc.fileName(d.OldValue), NewValue: fc.fileName(d.NewValue)}
	case types.FieldTechnicalDebt:
		return Diff{Key: FieldEffort, OldValue: d.OldValue, NewValue: d.NewValue}
	}
	return Diff{Key: d.Key, OldValue: d.OldValue, NewValue: d.NewValue}
}

// fileName returns the long name of a file, or "" when it is unknown.
func (fc *FormattingContext) fileName(uuid string) string {
	f, ok := fc.files[uuid]
	if !ok {
		return ""
	}
	if f.LongName != "" {
		return f.LongName
	}
	return f.Name
}

// FormatComments renders the comments of issue, oldest first.
func (fc *FormattingContext) FormatComments(issue *types.Issue) ([]CommentEntry, error) {
	comments := fc.comments[issue.Key]
	out := make([]CommentEntry, 0, len(comments))
	for _, c := range comments {
		html, err := fc.renderer.Render(c.Markdown)
		if err != nil {
			return nil, fmt.Errorf("render comment %s: %w", c.Key, err)
		}
		e := CommentEntry{
			Key:       c.Key,
			Markdown:  c.Markdown,
			HTML:      html,
			Updatable: fc.IsUpdatableComment(c),
			CreatedAt: c.CreatedAt,
		}
		if u, ok := fc.users[c.UserUUID]; ok {
			e.Login = u.Login
		}
		out = append(out, e)
	}
	return out, nil
}

// Avatar returns the gravatar hash of email, or "" without an email.
func Avatar(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := md5.Sum([]byte(email)) // #nosec G401
	return hex.EncodeToString(sum[:])
}
