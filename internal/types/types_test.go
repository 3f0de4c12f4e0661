package types

import (
	"errors"
	"testing"
	"time"
)

func TestFieldDiffsKeepsFirstOldValue(t *testing.T) {
	d := NewFieldDiffs("ISSUE-1", UserChange(time.Unix(0, 0), "u1"))
	d.SetDiff(FieldSeverity, "MINOR", "MAJOR")
	d.SetDiff(FieldAssignee, "", "u2")
	d.SetDiff(FieldSeverity, "MAJOR", "BLOCKER")

	diffs := d.Diffs()
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %d", len(diffs))
	}
	if diffs[0] != (Diff{Key: FieldSeverity, OldValue: "MINOR", NewValue: "BLOCKER"}) {
		t.Errorf("unexpected severity diff: %+v", diffs[0])
	}
	if diffs[1].Key != FieldAssignee {
		t.Errorf("expected insertion order to be preserved, got %+v", diffs)
	}
}

func TestFieldDiffsEncodeRoundTrip(t *testing.T) {
	d := NewFieldDiffs("ISSUE-1", ChangeContext{Date: time.Unix(10, 0), ExternalUser: "jdoe", WebhookSource: "jira"})
	d.SetDiff(FieldStatus, "OPEN", "CONFIRMED")
	d.SetDiff(FieldTechnicalDebt, "10", "")

	data, err := d.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := ParseFieldDiffs(data)
	if err != nil {
		t.Fatalf("ParseFieldDiffs: %v", err)
	}
	if parsed.ExternalUser != "jdoe" || parsed.WebhookSource != "jira" {
		t.Errorf("metadata lost: %+v", parsed)
	}
	got := parsed.Diffs()
	want := d.Diffs()
	if len(got) != len(want) {
		t.Fatalf("got %d diffs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("diff %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestEmptyFieldDiffs(t *testing.T) {
	var d *FieldDiffs
	if !d.IsEmpty() {
		t.Error("nil FieldDiffs should be empty")
	}
	if _, ok := d.Get(FieldStatus); ok {
		t.Error("nil FieldDiffs should not contain diffs")
	}
}

func TestParseRuleKey(t *testing.T) {
	tests := []struct {
		in      string
		want    RuleKey
		wantErr bool
	}{
		{"go:S1144", RuleKey{"go", "S1144"}, false},
		{"common-go:DuplicatedBlocks", RuleKey{"common-go", "DuplicatedBlocks"}, false},
		{"S1144", RuleKey{}, true},
		{":S1144", RuleKey{}, true},
		{"go:", RuleKey{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRuleKey(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRuleKey(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestSeverityImpactMapping(t *testing.T) {
	for _, sev := range Severities {
		imp, ok := ImpactSeverityOf(sev)
		if !ok {
			t.Fatalf("no impact severity for %s", sev)
		}
		back, ok := SeverityOf(imp)
		if !ok || back != sev {
			t.Errorf("SeverityOf(%s) = %s, want %s", imp, back, sev)
		}
	}
	if _, ok := QualityOf(TypeSecurityHotspot); ok {
		t.Error("hotspots should not map to a software quality")
	}
}

func TestIssueValidate(t *testing.T) {
	issue := &Issue{Key: "K", ProjectUUID: "P", ComponentUUID: "C", Status: StatusOpen, Type: TypeBug, Severity: SeverityMajor}
	if err := issue.Validate(); err != nil {
		t.Fatalf("valid issue rejected: %v", err)
	}
	issue.ComponentUUID = ""
	if err := issue.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing component, got %v", err)
	}
	issue.ComponentUUID = "C"
	issue.Status = "IN_PROGRESS"
	if err := issue.Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown status, got %v", err)
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(ErrNotFound) || !IsClientError(ErrUnauthorized) {
		t.Error("not found and unauthorized are client errors")
	}
	if IsClientError(ErrIllegalState) || IsClientError(ErrConflict) {
		t.Error("illegal state and conflict are not client errors")
	}
}
