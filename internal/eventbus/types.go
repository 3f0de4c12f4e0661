package eventbus

import (
	"encoding/json"
	"time"

	"github.com/qualityhub/issueflow/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// EventIssueChanged is dispatched once per issue changed by a user
	// operation that asked for notifications.
	EventIssueChanged EventType = "issue.changed"
	// EventBulkChangeCompleted is dispatched once per bulk change.
	EventBulkChangeCompleted EventType = "bulk.completed"
)

// Event is a notification flowing through the bus.
type Event struct {
	Type        EventType    `json:"type"`
	IssueKey    string       `json:"issue_key,omitempty"`
	ProjectUUID string       `json:"project_uuid,omitempty"`
	Actor       string       `json:"actor,omitempty"`
	At          time.Time    `json:"at"`
	Changes     []types.Diff `json:"changes,omitempty"`
	// Comments holds the markdown of comments added by the operation.
	Comments []string `json:"comments,omitempty"`

	// Raw, when set, is passed to external handlers instead of the
	// marshaled event.
	Raw json.RawMessage `json:"-"`
}

// BulkChangePayload is the Raw payload of EventBulkChangeCompleted.
type BulkChangePayload struct {
	Actor    string `json:"actor"`
	Total    int    `json:"total"`
	Success  int    `json:"success"`
	Failures int    `json:"failures"`
	Ignored  int    `json:"ignored"`
}

// NewIssueChanged builds the event announcing the pending change of issue.
func NewIssueChanged(issue *types.Issue, actor string, at time.Time) *Event {
	e := &Event{
		Type:        EventIssueChanged,
		IssueKey:    issue.Key,
		ProjectUUID: issue.ProjectUUID,
		Actor:       actor,
		At:          at,
		Changes:     issue.CurrentChange().Diffs(),
	}
	for _, c := range issue.NewComments() {
		e.Comments = append(e.Comments, c.Markdown)
	}
	return e
}

// Result aggregates handler responses for an event.
type Result struct {
	Delivered int      `json:"delivered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
