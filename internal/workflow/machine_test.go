package workflow

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/qualityhub/issueflow/internal/fields"
	"github.com/qualityhub/issueflow/internal/types"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func ctx() types.ChangeContext {
	return types.UserChange(now, "user-1")
}

func keys(ts []*Transition) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Key()
	}
	return out
}

func TestConfirmWithoutConditions(t *testing.T) {
	m, err := NewBuilder(nil).
		States(types.StatusOpen, types.StatusConfirmed).
		Transition(NewTransition("confirm").From(types.StatusOpen).To(types.StatusConfirmed)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	issue := &types.Issue{Key: "I1", Status: types.StatusOpen}

	ok, err := m.DoManualTransition(issue, "confirm", ctx())
	if err != nil || !ok {
		t.Fatalf("DoManualTransition = %v, %v", ok, err)
	}
	if issue.Status != types.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", issue.Status)
	}
	diff, found := issue.CurrentChange().Get(types.FieldStatus)
	if !found || diff.OldValue != "OPEN" || diff.NewValue != "CONFIRMED" {
		t.Errorf("status diff = %+v", diff)
	}
}

func TestBuildRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
	}{
		{"blank key", NewBuilder(nil).States(types.StatusOpen).
			Transition(NewTransition(" ").From(types.StatusOpen).To(types.StatusOpen))},
		{"no source", NewBuilder(nil).States(types.StatusOpen).
			Transition(NewTransition("t").To(types.StatusOpen))},
		{"undeclared state", NewBuilder(nil).States(types.StatusOpen).
			Transition(NewTransition("t").From(types.StatusOpen).To(types.StatusClosed))},
		{"duplicate key", NewBuilder(nil).States(types.StatusOpen).
			Transition(NewTransition("t").From(types.StatusOpen).To(types.StatusOpen)).
			Transition(NewTransition("t").From(types.StatusOpen).To(types.StatusOpen))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestOutTransitionsRegistrationOrder(t *testing.T) {
	m := MustIssueWorkflow(fields.NewSetter())

	tests := []struct {
		status types.Status
		want   []string
	}{
		{types.StatusOpen, []string{Confirm, FalsePositive, Resolve, WontFix}},
		{types.StatusConfirmed, []string{Unconfirm, FalsePositive, Resolve, WontFix}},
		{types.StatusReopened, []string{Confirm, FalsePositive, Resolve, WontFix}},
		{types.StatusResolved, []string{Reopen}},
		{types.StatusClosed, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			out, err := m.OutTransitions(&types.Issue{Status: tt.status, Type: types.TypeBug})
			if err != nil {
				t.Fatalf("OutTransitions: %v", err)
			}
			got := keys(out)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("OutTransitions(%s) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestOutTransitionsUnknownStatus(t *testing.T) {
	m := MustIssueWorkflow(nil)
	_, err := m.OutTransitions(&types.Issue{Status: "xxx"})
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestDoManualTransitionErrors(t *testing.T) {
	m := MustIssueWorkflow(nil)
	issue := &types.Issue{Key: "I1", Status: types.StatusOpen, Type: types.TypeBug}

	if _, err := m.DoManualTransition(issue, "teleport", ctx()); !errors.Is(err, ErrUnknownTransition) {
		t.Errorf("expected ErrUnknownTransition, got %v", err)
	}
	if _, err := m.DoManualTransition(issue, AutomaticClose, ctx()); !errors.Is(err, ErrUnknownTransition) {
		t.Errorf("automatic transitions are not manual keys, got %v", err)
	}
	if _, err := m.DoManualTransition(issue, Reopen, ctx()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if !errors.Is(ErrInvalidTransition, types.ErrInvalidArgument) {
		t.Error("invalid transitions are client errors")
	}
	if issue.IsChanged() {
		t.Error("failed transitions must not touch the issue")
	}
}

func TestDoManualTransitionConditionNotMet(t *testing.T) {
	m := MustIssueWorkflow(nil)
	hotspot := &types.Issue{Key: "H1", Status: types.StatusOpen, Type: types.TypeSecurityHotspot}

	ok, err := m.DoManualTransition(hotspot, Confirm, ctx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || hotspot.Status != types.StatusOpen || hotspot.IsChanged() {
		t.Errorf("hotspot must not be confirmed: ok=%v status=%s", ok, hotspot.Status)
	}
}

func TestResolveTransitions(t *testing.T) {
	m := MustIssueWorkflow(nil)

	issue := &types.Issue{Key: "I1", Status: types.StatusConfirmed, Type: types.TypeBug, Assignee: "user-2"}
	if ok, err := m.DoManualTransition(issue, FalsePositive, ctx()); err != nil || !ok {
		t.Fatalf("falsepositive = %v, %v", ok, err)
	}
	if issue.Status != types.StatusResolved || issue.Resolution != types.ResolutionFalsePositive {
		t.Errorf("got %s/%s", issue.Status, issue.Resolution)
	}
	if issue.Assignee != "" {
		t.Errorf("falsepositive must unassign, assignee = %q", issue.Assignee)
	}
	wantKeys := []string{types.FieldResolution, types.FieldAssignee, types.FieldStatus}
	var gotKeys []string
	for _, d := range issue.CurrentChange().Diffs() {
		gotKeys = append(gotKeys, d.Key)
	}
	if !reflect.DeepEqual(gotKeys, wantKeys) {
		t.Errorf("diff order = %v, want %v", gotKeys, wantKeys)
	}

	if ok, err := m.DoManualTransition(issue, Reopen, ctx()); err != nil || !ok {
		t.Fatalf("reopen = %v, %v", ok, err)
	}
	if issue.Status != types.StatusReopened || issue.IsResolved() {
		t.Errorf("got %s/%s", issue.Status, issue.Resolution)
	}
}

func TestTransitionPermissions(t *testing.T) {
	m := MustIssueWorkflow(nil)
	for _, key := range []string{FalsePositive, WontFix} {
		tr, _ := m.Transition(key)
		if tr.RequiredPermission() != "issueadmin" {
			t.Errorf("%s should require issueadmin", key)
		}
	}
	for _, key := range []string{Confirm, Unconfirm, Reopen, Resolve} {
		tr, _ := m.Transition(key)
		if tr.RequiredPermission() != "" {
			t.Errorf("%s should not require a permission", key)
		}
	}
}

func TestAutomaticClose(t *testing.T) {
	m := MustIssueWorkflow(nil)
	issue := &types.Issue{Key: "I1", Status: types.StatusConfirmed, Type: types.TypeCodeSmell, BeingClosed: true}

	ok, err := m.DoAutomaticTransition(issue, types.ScanChange(now))
	if err != nil || !ok {
		t.Fatalf("DoAutomaticTransition = %v, %v", ok, err)
	}
	if issue.Status != types.StatusClosed || issue.Resolution != types.ResolutionFixed {
		t.Errorf("got %s/%s", issue.Status, issue.Resolution)
	}
	if issue.ClosedAt == nil || !issue.ClosedAt.Equal(now) {
		t.Errorf("close date = %v", issue.ClosedAt)
	}

	removed := &types.Issue{Key: "I2", Status: types.StatusOpen, Type: types.TypeBug, BeingClosed: true, OnDisabledRule: true}
	if _, err := m.DoAutomaticTransition(removed, types.ScanChange(now)); err != nil {
		t.Fatal(err)
	}
	if removed.Resolution != types.ResolutionRemoved {
		t.Errorf("issue on disabled rule should be REMOVED, got %s", removed.Resolution)
	}
}

func TestAutomaticUnclosingRestoresPreviousState(t *testing.T) {
	m := MustIssueWorkflow(nil)
	closing := types.NewFieldDiffs("I1", types.ScanChange(now.Add(-time.Hour)))
	closing.SetDiff(types.FieldResolution, "", string(types.ResolutionFixed))
	closing.SetDiff(types.FieldStatus, string(types.StatusConfirmed), string(types.StatusClosed))

	closedAt := now.Add(-time.Hour)
	issue := &types.Issue{
		Key:        "I1",
		Status:     types.StatusClosed,
		Resolution: types.ResolutionFixed,
		Type:       types.TypeBug,
		ClosedAt:   &closedAt,
	}
	issue.SetHistory([]*types.FieldDiffs{closing})

	ok, err := m.DoAutomaticTransition(issue, types.ScanChange(now))
	if err != nil || !ok {
		t.Fatalf("DoAutomaticTransition = %v, %v", ok, err)
	}
	if issue.Status != types.StatusConfirmed || issue.IsResolved() || issue.ClosedAt != nil {
		t.Errorf("got %s/%q closed=%v", issue.Status, issue.Resolution, issue.ClosedAt)
	}
}

func TestAutomaticUnclosingSkipsHotspotsAndFalsePositives(t *testing.T) {
	m := MustIssueWorkflow(nil)
	closing := types.NewFieldDiffs("I1", types.ScanChange(now))
	closing.SetDiff(types.FieldStatus, string(types.StatusOpen), string(types.StatusClosed))

	for _, issue := range []*types.Issue{
		{Key: "H1", Status: types.StatusClosed, Resolution: types.ResolutionFixed, Type: types.TypeSecurityHotspot},
		{Key: "I2", Status: types.StatusClosed, Resolution: types.ResolutionFalsePositive, Type: types.TypeBug},
	} {
		issue.SetHistory([]*types.FieldDiffs{closing})
		ok, err := m.DoAutomaticTransition(issue, types.ScanChange(now))
		if err != nil || ok {
			t.Errorf("%s: DoAutomaticTransition = %v, %v", issue.Key, ok, err)
		}
	}
}

func TestAutomaticReopenOfFixedIssue(t *testing.T) {
	m := MustIssueWorkflow(nil)
	issue := &types.Issue{Key: "I1", Status: types.StatusResolved, Resolution: types.ResolutionFixed, Type: types.TypeBug}

	ok, err := m.DoAutomaticTransition(issue, types.ScanChange(now))
	if err != nil || !ok {
		t.Fatalf("DoAutomaticTransition = %v, %v", ok, err)
	}
	if issue.Status != types.StatusReopened || issue.IsResolved() {
		t.Errorf("got %s/%s", issue.Status, issue.Resolution)
	}
}

func TestMachineConcurrentReads(t *testing.T) {
	m := MustIssueWorkflow(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issue := &types.Issue{Key: "I", Status: types.StatusOpen, Type: types.TypeBug}
			if _, err := m.DoManualTransition(issue, Resolve, ctx()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
