package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/ui"
)

type showOutput struct {
	*types.Issue
	AssigneeLogin string   `json:"assignee_login,omitempty"`
	Transitions   []string `json:"transitions"`
}

var showCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Show an issue and the transitions available on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		caller, err := a.caller(ctx)
		if err != nil {
			return err
		}
		issue, err := a.loadVisible(ctx, args[0], caller)
		if err != nil {
			return err
		}
		keys, err := a.transitions.ListTransitionKeys(issue, caller)
		if err != nil {
			return err
		}
		out := showOutput{Issue: issue, AssigneeLogin: a.userLogins(ctx, issue.Assignee)[issue.Assignee], Transitions: keys}
		if out.Transitions == nil {
			out.Transitions = []string{}
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), out)
		}
		printIssue(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func printIssue(w io.Writer, out showOutput) {
	issue := out.Issue
	status := ui.RenderStatus(issue.Status)
	if issue.IsResolved() {
		status += " (" + string(issue.Resolution) + ")"
	}
	fmt.Fprintf(w, "%s  %s\n", ui.RenderKey(issue.Key), ui.WrapText(issue.Message, ui.TerminalWidth(80)-len(issue.Key)-2))
	fmt.Fprintln(w, ui.RenderSeparator())
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-12s %s\n", ui.RenderMuted(label), value)
		}
	}
	row("Status", status)
	sev := ui.RenderSeverity(issue.Severity)
	if issue.ManualSeverity {
		sev += ui.RenderMuted(" (manual)")
	}
	row("Severity", sev)
	row("Type", string(issue.Type))
	row("Rule", issue.RuleKey.String())
	location := issue.ComponentKey
	if issue.Line > 0 {
		location = fmt.Sprintf("%s:%d", location, issue.Line)
	}
	row("Location", location)
	row("Assignee", out.AssigneeLogin)
	row("Tags", strings.Join(issue.Tags, ", "))
	if issue.EffortMinutes > 0 {
		row("Effort", fmt.Sprintf("%dmin", issue.EffortMinutes))
	}
	var impacts []string
	for _, qi := range issue.SortedImpacts() {
		s := fmt.Sprintf("%s:%s", qi.Quality, qi.Impact.Severity)
		if qi.Impact.Manual {
			s += "*"
		}
		impacts = append(impacts, s)
	}
	row("Impacts", strings.Join(impacts, " "))
	row("Created", issue.CreatedAt.Format("2006-01-02 15:04"))
	row("Updated", issue.UpdatedAt.Format("2006-01-02 15:04"))
	if issue.ClosedAt != nil {
		row("Closed", issue.ClosedAt.Format("2006-01-02 15:04"))
	}
	if len(out.Transitions) > 0 {
		row("Transitions", ui.RenderAccent(strings.Join(out.Transitions, " ")))
	}
}
