package fields

import (
	"errors"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/types"
)

var testCtx = types.UserChange(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), "user-1")

func newIssue() *types.Issue {
	return &types.Issue{
		Key:      "ISSUE-1",
		Status:   types.StatusOpen,
		Type:     types.TypeBug,
		Severity: types.SeverityMajor,
	}
}

func TestAssign(t *testing.T) {
	s := NewSetter()
	issue := newIssue()

	if !s.Assign(issue, "user-2", testCtx) {
		t.Fatal("expected assign to change the issue")
	}
	if issue.Assignee != "user-2" || !issue.IsChanged() {
		t.Fatalf("assignee not applied: %+v", issue)
	}
	diff, ok := issue.CurrentChange().Get(types.FieldAssignee)
	if !ok || diff.OldValue != "" || diff.NewValue != "user-2" {
		t.Fatalf("unexpected diff %+v", diff)
	}
	if !issue.UpdatedAt.Equal(testCtx.Date) {
		t.Errorf("update date = %v, want %v", issue.UpdatedAt, testCtx.Date)
	}
}

func TestUnchangedValueRecordsNothing(t *testing.T) {
	s := NewSetter()
	issue := newIssue()
	issue.Assignee = "user-2"

	if s.Assign(issue, "user-2", testCtx) {
		t.Error("same assignee must not be a change")
	}
	if s.SetStatus(issue, types.StatusOpen, testCtx) {
		t.Error("same status must not be a change")
	}
	if issue.IsChanged() || issue.CurrentChange() != nil {
		t.Errorf("issue should be untouched, current change %+v", issue.CurrentChange())
	}
}

func TestSeverity(t *testing.T) {
	s := NewSetter()
	issue := newIssue()

	if !s.SetManualSeverity(issue, types.SeverityBlocker, testCtx) {
		t.Fatal("expected manual severity change")
	}
	if !issue.ManualSeverity {
		t.Error("manual flag not set")
	}
	if s.SetSeverity(issue, types.SeverityMinor, testCtx) {
		t.Error("rule severity must not override a manual severity")
	}
	if issue.Severity != types.SeverityBlocker {
		t.Errorf("severity = %s, want BLOCKER", issue.Severity)
	}
}

func TestSetTagsIsOrderInsensitive(t *testing.T) {
	s := NewSetter()
	issue := newIssue()
	issue.Tags = []string{"perf", "security"}

	if s.SetTags(issue, []string{"Security", " perf ", "perf"}, testCtx) {
		t.Error("same tag set in another order must not be a change")
	}
	if !s.SetTags(issue, []string{"perf"}, testCtx) {
		t.Fatal("expected tag change")
	}
	diff, _ := issue.CurrentChange().Get(types.FieldTags)
	if diff.OldValue != "perf security" || diff.NewValue != "perf" {
		t.Errorf("unexpected tags diff %+v", diff)
	}
	if issue.CurrentChange().Len() != 1 {
		t.Errorf("expected a single diff for the tag set, got %d", issue.CurrentChange().Len())
	}
}

func TestValidateTags(t *testing.T) {
	got, err := ValidateTags([]string{"CWE", "owasp-a1", "cwe"})
	if err != nil {
		t.Fatalf("ValidateTags: %v", err)
	}
	if len(got) != 2 || got[0] != "cwe" || got[1] != "owasp-a1" {
		t.Errorf("ValidateTags = %v", got)
	}
	if _, err := ValidateTags([]string{"has space"}); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSetEffortUsesTechnicalDebtKey(t *testing.T) {
	s := NewSetter()
	issue := newIssue()

	if !s.SetEffort(issue, 30, testCtx) {
		t.Fatal("expected effort change")
	}
	diff, ok := issue.CurrentChange().Get(types.FieldTechnicalDebt)
	if !ok || diff.OldValue != "" || diff.NewValue != "30" {
		t.Errorf("unexpected diff %+v", diff)
	}
}

func TestMoveToComponent(t *testing.T) {
	s := NewSetter()
	issue := newIssue()
	issue.ComponentUUID = "file-1"

	file := &types.Component{UUID: "file-2", Key: "proj:src/b.go", Qualifier: types.QualifierFile}
	if !s.MoveToComponent(issue, file, testCtx) {
		t.Fatal("expected move")
	}
	diff, _ := issue.CurrentChange().Get(types.FieldFile)
	if diff.OldValue != "file-1" || diff.NewValue != "file-2" {
		t.Errorf("unexpected diff %+v", diff)
	}
	if issue.ComponentKey != "proj:src/b.go" {
		t.Errorf("component key = %q", issue.ComponentKey)
	}
}

func TestSetImpactSeverity(t *testing.T) {
	s := NewSetter()
	issue := newIssue()

	if !s.SetImpactSeverity(issue, types.QualityReliability, types.ImpactHigh, true, testCtx) {
		t.Fatal("expected impact creation")
	}
	if got := issue.Impacts[types.QualityReliability]; got.Severity != types.ImpactHigh || !got.Manual {
		t.Errorf("impact = %+v", got)
	}
	if s.SetImpactSeverity(issue, types.QualityReliability, types.ImpactHigh, true, testCtx) {
		t.Error("same impact severity must not be a change")
	}
	diff, _ := issue.CurrentChange().Get(types.FieldImpactSeverity)
	if diff.OldValue != "" || diff.NewValue != "RELIABILITY:HIGH" {
		t.Errorf("unexpected diff %+v", diff)
	}
}

func TestSetAttribute(t *testing.T) {
	s := NewSetter()
	issue := newIssue()

	if !s.SetAttribute(issue, "jira-issue-key", "SONAR-1", testCtx) {
		t.Fatal("expected attribute change")
	}
	if !s.SetAttribute(issue, "jira-issue-key", "", testCtx) {
		t.Fatal("expected attribute removal")
	}
	if _, ok := issue.Attributes["jira-issue-key"]; ok {
		t.Error("attribute should be removed")
	}
	diff, _ := issue.CurrentChange().Get("jira-issue-key")
	if diff.OldValue != "" || diff.NewValue != "" {
		t.Errorf("set then unset should net out to an empty diff, got %+v", diff)
	}
}

func TestAddComment(t *testing.T) {
	s := NewSetter()
	s.newKey = func() string { return "comment-1" }
	issue := newIssue()

	c := s.AddComment(issue, "looks *fine*", testCtx)
	if c.Key != "comment-1" || c.UserUUID != "user-1" || c.IssueKey != "ISSUE-1" {
		t.Errorf("unexpected comment %+v", c)
	}
	if len(issue.NewComments()) != 1 || !issue.IsChanged() {
		t.Error("comment not queued on the issue")
	}
	if issue.CurrentChange() != nil {
		t.Error("comments must not be recorded as field diffs")
	}
}

func TestSetCloseDate(t *testing.T) {
	s := NewSetter()
	issue := newIssue()
	now := testCtx.Date

	if !s.SetCloseDate(issue, &now) {
		t.Fatal("expected close date change")
	}
	same := now
	if s.SetCloseDate(issue, &same) {
		t.Error("equal close date must not be a change")
	}
	if !s.SetCloseDate(issue, nil) || issue.ClosedAt != nil {
		t.Error("expected close date to be cleared")
	}
}
