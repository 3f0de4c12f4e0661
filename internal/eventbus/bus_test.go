package eventbus

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/types"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event, result *Result) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if h.fn != nil {
		return h.fn(ctx, event, result)
	}
	return nil
}

func TestDispatchNilEvent(t *testing.T) {
	if _, err := New().Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var called []string
	record := func(id string) func(context.Context, *Event, *Result) error {
		return func(context.Context, *Event, *Result) error {
			called = append(called, id)
			return nil
		}
	}
	bus.Register(&testHandler{id: "late", handles: []EventType{EventIssueChanged}, priority: 30, fn: record("late")})
	bus.Register(&testHandler{id: "early", handles: []EventType{EventIssueChanged}, priority: 10, fn: record("early")})
	bus.Register(&testHandler{id: "bulk", handles: []EventType{EventBulkChangeCompleted}, priority: 1, fn: record("bulk")})

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventIssueChanged, IssueKey: "I1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if want := []string{"early", "late"}; !reflect.DeepEqual(called, want) {
		t.Errorf("called = %v, want %v", called, want)
	}
}

func TestDispatchContinuesAfterHandlerError(t *testing.T) {
	bus := New()
	var reached bool
	bus.Register(&testHandler{id: "broken", handles: []EventType{EventIssueChanged}, priority: 1,
		fn: func(context.Context, *Event, *Result) error { return errors.New("boom") }})
	bus.Register(&testHandler{id: "ok", handles: []EventType{EventIssueChanged}, priority: 2,
		fn: func(context.Context, *Event, *Result) error { reached = true; return nil }})

	result, err := bus.Dispatch(context.Background(), &Event{Type: EventIssueChanged})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !reached {
		t.Error("handler chain stopped at the failing handler")
	}
	if !reflect.DeepEqual(result.Failed, []string{"broken"}) {
		t.Errorf("failed = %v", result.Failed)
	}
}

func TestDispatchCanceled(t *testing.T) {
	bus := New()
	bus.Register(&LogHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Dispatch(ctx, &Event{Type: EventIssueChanged}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewIssueChanged(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	issue := &types.Issue{Key: "I1", ProjectUUID: "prj-1"}
	issue.RecordChange(types.UserChange(now, "u1"), types.FieldAssignee, "", "u2")
	issue.AddComment(&types.Comment{Markdown: "done"})

	e := NewIssueChanged(issue, "alice", now)
	if e.Type != EventIssueChanged || e.IssueKey != "I1" || e.ProjectUUID != "prj-1" || e.Actor != "alice" {
		t.Errorf("unexpected event %+v", e)
	}
	if len(e.Changes) != 1 || e.Changes[0].Key != types.FieldAssignee {
		t.Errorf("changes = %+v", e.Changes)
	}
	if !reflect.DeepEqual(e.Comments, []string{"done"}) {
		t.Errorf("comments = %v", e.Comments)
	}
}

func TestLogHandlerCountsDeliveries(t *testing.T) {
	bus := New()
	bus.Register(&LogHandler{})
	result, err := bus.Dispatch(context.Background(), &Event{Type: EventBulkChangeCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if result.Delivered != 1 {
		t.Errorf("delivered = %d", result.Delivered)
	}
}
