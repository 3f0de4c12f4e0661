package eventbus

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestNewExternalHandlerDefaults(t *testing.T) {
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "defaults",
		Command: "true",
		Events:  []string{"issue.changed"},
	})
	if h.Priority() != 50 {
		t.Errorf("expected default priority 50, got %d", h.Priority())
	}
	if h.Config().Shell != "sh" {
		t.Errorf("expected default shell 'sh', got %q", h.Config().Shell)
	}
	if len(h.Handles()) != 1 || h.Handles()[0] != EventIssueChanged {
		t.Errorf("handles = %v", h.Handles())
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExternalHandlerReceivesEvent(t *testing.T) {
	requireShell(t)
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "grep",
		Command: `grep -q '"issue_key":"I1"' && echo '{"warnings":["seen"]}'`,
		Events:  []string{"issue.changed"},
	})
	result := &Result{}
	if err := h.Handle(context.Background(), &Event{Type: EventIssueChanged, IssueKey: "I1"}, result); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Delivered != 1 || len(result.Warnings) != 1 || result.Warnings[0] != "seen" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestExternalHandlerFailure(t *testing.T) {
	requireShell(t)
	h := NewExternalHandler(ExternalHandlerConfig{
		ID:      "fails",
		Command: "echo nope >&2; exit 3",
		Events:  []string{"issue.changed"},
	})
	err := h.Handle(context.Background(), &Event{Type: EventIssueChanged}, &Result{})
	if err == nil || !strings.Contains(err.Error(), "exit 3: nope") {
		t.Fatalf("unexpected error %v", err)
	}
}
