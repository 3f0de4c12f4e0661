package eventbus

import (
	"context"
	"log/slog"
)

// Handler processes events on the bus. Handlers are called in priority order
// (lower priority value = called earlier) for matching event types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event and may add to the aggregated result.
	// Returning an error logs a warning but does not stop the handler chain.
	Handle(ctx context.Context, event *Event, result *Result) error
}

// LogHandler records every issue event at INFO.
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) ID() string { return "log" }
func (h *LogHandler) Handles() []EventType {
	return []EventType{EventIssueChanged, EventBulkChangeCompleted}
}
func (h *LogHandler) Priority() int { return 10 }

func (h *LogHandler) Handle(_ context.Context, event *Event, result *Result) error {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("issue event", "event", event.Type, "issue", event.IssueKey, "project", event.ProjectUUID,
		"actor", event.Actor, "changes", len(event.Changes))
	result.Delivered++
	return nil
}
