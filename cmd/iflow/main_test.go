package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualityhub/issueflow/internal/types"
)

const testRules = `
[[rules]]
key = "go:S1144"
name = "Unused private functions should be removed"
type = "CODE_SMELL"
severity = "MAJOR"

[[rules]]
key = "go:S2259"
name = "Nil pointers should not be dereferenced"
type = "BUG"
severity = "CRITICAL"
`

const testPermissions = `
grants:
  alice:
    "*": [user, issueadmin]
  bob:
    prj-1: [user]
`

const testReport = `
users:
  - {uuid: u-alice, login: alice, name: Alice, email: alice@example.com, active: true}
  - {uuid: u-bob, login: bob, name: Bob, active: true}
  - {uuid: u-carol, login: carol, name: Carol, active: false}
components:
  - {uuid: prj-1, key: prj, name: Project, qualifier: TRK, project_uuid: prj-1}
  - {uuid: file-1, key: "prj:main.go", name: main.go, long_name: main.go, qualifier: FIL, project_uuid: prj-1}
issues:
  - {key: I1, project: prj-1, component: file-1, rule: "go:S1144", message: Remove this unused function, line: 10}
  - {key: I2, project: prj-1, component: file-1, rule: "go:S2259", message: p may be nil, line: 42, tags: [nil]}
`

// newProject initializes iflow in a temporary directory and imports the
// test report.
func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Setenv("IFLOW_NO_PAGER", "1")
	t.Chdir(dir)

	mustRun(t, "init", "--actor", "alice")
	writeFile(t, filepath.Join(dir, ".iflow", "rules.toml"), testRules)
	writeFile(t, filepath.Join(dir, ".iflow", "permissions.yaml"), testPermissions)
	writeFile(t, filepath.Join(dir, "report.yaml"), testReport)

	var stats importStats
	decode(t, mustRun(t, "import", "report.yaml", "--json"), &stats)
	require.Equal(t, 2, stats.Created)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// run executes the CLI in-process and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	shutdown()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "iflow %v", args)
	return out
}

func decode(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

// resetFlags restores every flag to its default between runs of the shared
// command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.ErrInvalidArgument, exitClientError},
		{types.ErrNotFound, exitClientError},
		{types.ErrUnauthorized, exitClientError},
		{types.ErrConflict, exitConflict},
		{types.ErrIllegalState, exitFailure},
		{errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestReportErrorJSON(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	var buf bytes.Buffer
	code := reportError(&buf, types.ErrNotFound)
	assert.Equal(t, exitClientError, code)

	var payload struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	decode(t, buf.String(), &payload)
	assert.Equal(t, exitClientError, payload.Code)
	assert.Contains(t, payload.Error, "not found")
}

func TestShowAndTransition(t *testing.T) {
	newProject(t)

	var shown struct {
		Key         string   `json:"key"`
		Status      string   `json:"status"`
		Severity    string   `json:"severity"`
		Type        string   `json:"type"`
		Transitions []string `json:"transitions"`
	}
	decode(t, mustRun(t, "show", "I1", "--json"), &shown)
	assert.Equal(t, "OPEN", shown.Status)
	assert.Equal(t, "MAJOR", shown.Severity)
	assert.Equal(t, "CODE_SMELL", shown.Type)
	assert.Contains(t, shown.Transitions, "confirm")
	assert.Contains(t, shown.Transitions, "falsepositive")

	var res transitionResult
	decode(t, mustRun(t, "transition", "I1", "confirm", "--comment", "seen it", "--json"), &res)
	assert.Equal(t, types.StatusOpen, res.From)
	assert.Equal(t, types.StatusConfirmed, res.To)
	require.NotNil(t, res.Measures)
	assert.Equal(t, 2, res.Measures.Issues, "measures cover every issue of the project")
	assert.Equal(t, 2, res.Measures.Unresolved)

	var comments []struct {
		Login    string `json:"login"`
		Markdown string `json:"markdown"`
	}
	decode(t, mustRun(t, "comments", "I1", "--json"), &comments)
	require.Len(t, comments, 1)
	assert.Equal(t, "alice", comments[0].Login)
	assert.Equal(t, "seen it", comments[0].Markdown)

	var entries []struct {
		User  string `json:"user"`
		Diffs []struct {
			Key      string `json:"key"`
			OldValue string `json:"oldValue"`
			NewValue string `json:"newValue"`
		} `json:"diffs"`
	}
	decode(t, mustRun(t, "changelog", "I1", "--json"), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].User)
	require.Len(t, entries[0].Diffs, 1)
	assert.Equal(t, "status", entries[0].Diffs[0].Key)
	assert.Equal(t, "OPEN", entries[0].Diffs[0].OldValue)
	assert.Equal(t, "CONFIRMED", entries[0].Diffs[0].NewValue)

	decode(t, mustRun(t, "changelog", "I1", "--since", "-2d", "--json"), &entries)
	assert.Len(t, entries, 1)
	decode(t, mustRun(t, "changelog", "I1", "--since", "+1d", "--json"), &entries)
	assert.Empty(t, entries)

	_, err := run(t, "changelog", "I1", "--since", "whenever-ish")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument), "got %v", err)
}

func TestTransitionErrors(t *testing.T) {
	newProject(t)

	_, err := run(t, "transition", "I1", "teleport")
	assert.Equal(t, exitClientError, exitCode(err), "unknown transition: %v", err)

	_, err = run(t, "transition", "I1", "reopen")
	assert.Equal(t, exitClientError, exitCode(err), "transition not applicable: %v", err)

	_, err = run(t, "transition", "NOPE", "confirm")
	assert.True(t, errors.Is(err, types.ErrNotFound), "got %v", err)

	_, err = run(t, "transition", "I2", "falsepositive", "--actor", "bob")
	assert.True(t, errors.Is(err, types.ErrUnauthorized), "bob lacks issueadmin: %v", err)

	_, err = run(t, "transition", "I2", "confirm", "--actor", "carol")
	assert.True(t, errors.Is(err, types.ErrUnauthorized), "deactivated actor: %v", err)

	_, err = run(t, "transition", "I2", "confirm", "--actor", "")
	assert.True(t, errors.Is(err, types.ErrUnauthorized), "anonymous actor: %v", err)

	// Without a terminal the transition is required.
	_, err = run(t, "transition", "I2", "--json")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument), "got %v", err)
}

func TestBulkChange(t *testing.T) {
	newProject(t)

	var out bulkOutput
	decode(t, mustRun(t, "bulk", "I1", "I2", "NOPE",
		"--severity", "BLOCKER", "--add-tags", "perf,cwe", "--assign", "bob",
		"--comment", "triaged", "--json"), &out)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Success)
	assert.Equal(t, 0, out.Failures)
	assert.ElementsMatch(t, []string{"I1", "I2"}, out.Changed)
	require.Len(t, out.Measures, 1)
	assert.Equal(t, "prj-1", out.Measures[0].ProjectUUID)
	assert.Equal(t, 2, out.Measures[0].BySeverity["BLOCKER"])

	var shown struct {
		Severity       string   `json:"severity"`
		ManualSeverity bool     `json:"manual_severity"`
		Tags           []string `json:"tags"`
		AssigneeLogin  string   `json:"assignee_login"`
	}
	decode(t, mustRun(t, "show", "I2", "--json"), &shown)
	assert.Equal(t, "BLOCKER", shown.Severity)
	assert.True(t, shown.ManualSeverity)
	assert.Equal(t, []string{"cwe", "nil", "perf"}, shown.Tags)
	assert.Equal(t, "bob", shown.AssigneeLogin)

	// Nothing changes the second time: every issue is ignored and no comment is added.
	decode(t, mustRun(t, "bulk", "I1", "I2", "--severity", "BLOCKER", "--comment", "again", "--json"), &out)
	assert.Equal(t, 0, out.Success)
	assert.Equal(t, 2, out.Ignored)

	var comments []map[string]any
	decode(t, mustRun(t, "comments", "I1", "--json"), &comments)
	assert.Len(t, comments, 1)
}

func TestBulkChangeValidation(t *testing.T) {
	newProject(t)

	_, err := run(t, "bulk", "I1", "--comment", "only a comment")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument), "comment alone: %v", err)

	_, err = run(t, "bulk", "--severity", "MAJOR")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument), "no keys: %v", err)

	_, err = run(t, "bulk", "I1", "--assign", "nobody")
	assert.True(t, errors.Is(err, types.ErrNotFound), "unknown assignee: %v", err)

	_, err = run(t, "bulk", "I1", "--severity", "MAJOR", "--actor", "")
	assert.True(t, errors.Is(err, types.ErrUnauthorized), "anonymous: %v", err)
}

func TestImportClosesAndRestores(t *testing.T) {
	dir := newProject(t)
	mustRun(t, "transition", "I1", "confirm")

	closed := `
issues:
  - {key: I1, project: prj-1, component: file-1, rule: "go:S1144", message: Remove this unused function, line: 10, closed: true}
  - {key: I2, project: prj-1, component: file-1, rule: "go:S2259", message: p may be nil, line: 44}
`
	writeFile(t, filepath.Join(dir, "closed.yaml"), closed)
	var stats importStats
	decode(t, mustRun(t, "import", "closed.yaml", "--json"), &stats)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 1, stats.Updated)

	var shown struct {
		Status     string `json:"status"`
		Resolution string `json:"resolution"`
		Line       int    `json:"line"`
	}
	decode(t, mustRun(t, "show", "I1", "--json"), &shown)
	assert.Equal(t, "CLOSED", shown.Status)
	assert.Equal(t, "FIXED", shown.Resolution)
	decode(t, mustRun(t, "show", "I2", "--json"), &shown)
	assert.Equal(t, 44, shown.Line)

	// Seen again, the issue goes back to where it was before closing.
	decode(t, mustRun(t, "import", "report.yaml", "--json"), &stats)
	shown.Status, shown.Resolution, shown.Line = "", "", 0
	decode(t, mustRun(t, "show", "I1", "--json"), &shown)
	assert.Equal(t, "CONFIRMED", shown.Status)
	assert.Empty(t, shown.Resolution)
}

func TestSearchAndReindex(t *testing.T) {
	newProject(t)

	var results []struct {
		Key      string `json:"key"`
		Assignee string `json:"assignee"`
	}
	decode(t, mustRun(t, "search", "nil", "--json"), &results)
	require.Len(t, results, 1)
	assert.Equal(t, "I2", results[0].Key)

	decode(t, mustRun(t, "search", "type:CODE_SMELL", "--json"), &results)
	require.Len(t, results, 1)
	assert.Equal(t, "I1", results[0].Key)

	var counts map[string]int
	decode(t, mustRun(t, "reindex", "--json"), &counts)
	assert.Equal(t, 2, counts["indexed"])
}

func TestRulesList(t *testing.T) {
	newProject(t)

	var rules []struct {
		Key string `json:"key"`
	}
	decode(t, mustRun(t, "rules", "list", "--json"), &rules)
	require.Len(t, rules, 2)
	assert.Equal(t, "go:S1144", rules[0].Key)
}
