package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/index"
	"github.com/qualityhub/issueflow/internal/permission"
	"github.com/qualityhub/issueflow/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search issues",
	Long: `Search issues by text and field filters.

Filters: status:, severity:, type:, assignee:, tag:, is:resolved,
is:unresolved, is:unassigned. Other words are matched against the key,
rule, tags and message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		sortMode, _ := cmd.Flags().GetString("sort")
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		caller, err := a.caller(ctx)
		if err != nil {
			return err
		}
		all, err := a.index.Search(ctx, strings.Join(args, " "), 0, index.SortMode(sortMode))
		if err != nil {
			return err
		}
		results := visibleResults(all, caller)
		if limit > 0 && len(results) > limit {
			results = results[:limit]
		}
		uuids := make([]string, 0, len(results))
		for _, r := range results {
			uuids = append(uuids, r.Assignee)
		}
		logins := a.userLogins(ctx, uuids...)
		for i := range results {
			if l, ok := logins[results[i].Assignee]; ok {
				results[i].Assignee = l
			}
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), results)
		}
		width := ui.TerminalWidth(100)
		for _, r := range results {
			line := fmt.Sprintf("%-10s %-9s %-8s %s", r.Status, r.Severity, r.Type, r.Message)
			if r.Snippet != "" && r.Snippet != r.Message {
				line = fmt.Sprintf("%-10s %-9s %-8s %s", r.Status, r.Severity, r.Type, r.Snippet)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", ui.RenderKey(r.Key), ui.TruncateSimple(line, width-len(r.Key)-2))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 50, "Maximum number of results, 0 for all")
	searchCmd.Flags().String("sort", "", "Sort by relevance, recent or severity")
	rootCmd.AddCommand(searchCmd)
}

// visibleResults keeps the hits on projects the caller may browse.
func visibleResults(results []index.Result, caller permission.Session) []index.Result {
	out := results[:0:0]
	for _, r := range results {
		if caller.HasProjectPermission(permission.Browse, r.Project) {
			out = append(out, r)
		}
	}
	return out
}
