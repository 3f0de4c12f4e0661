package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/changelog"
	"github.com/qualityhub/issueflow/internal/timeparsing"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/ui"
)

var changelogCmd = &cobra.Command{
	Use:   "changelog KEY",
	Short: "Show the change history of an issue",
	Long: `Show the change history of an issue, oldest first.

--since accepts a compact duration (-3d, -2w), a date, "3 days ago" or
natural language such as "last monday".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var since time.Time
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := timeparsing.ParseRelativeTime(s, time.Now())
			if err != nil {
				return fmt.Errorf("%w: --since: %v", types.ErrInvalidArgument, err)
			}
			since = t
		}
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
		fc, err := a.changelog.NewContext(ctx, changelog.LoadChangelog, []*types.Issue{issue}, caller, changelog.Preloaded{})
		if err != nil {
			return err
		}
		entries := filterSince(fc.FormatChangelog(issue), since)
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), entries)
		}
		var b strings.Builder
		for _, e := range entries {
			who := e.User
			switch {
			case who == "" && e.ExternalUser != "":
				who = e.ExternalUser + " (" + e.WebhookSource + ")"
			case who == "":
				who = "analysis"
			}
			fmt.Fprintf(&b, "%s  %s\n", ui.RenderMuted(e.CreationDate.Format("2006-01-02 15:04")), ui.RenderAccent(who))
			for _, d := range e.Diffs {
				fmt.Fprintf(&b, "    %-18s %s -> %s\n", d.Key, orDash(d.OldValue), orDash(d.NewValue))
			}
		}
		if b.Len() == 0 {
			return nil
		}
		return ui.ToPager(cmd.OutOrStdout(), b.String(), ui.PagerOptions{NoPager: noPager})
	},
}

var commentsCmd = &cobra.Command{
	Use:   "comments KEY",
	Short: "Show the comments of an issue",
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
		fc, err := a.changelog.NewContext(ctx, changelog.LoadComments, []*types.Issue{issue}, caller, changelog.Preloaded{})
		if err != nil {
			return err
		}
		comments, err := fc.FormatComments(issue)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), comments)
		}
		var b strings.Builder
		for _, c := range comments {
			header := fmt.Sprintf("%s  %s", c.CreatedAt.Format("2006-01-02 15:04"), orDash(c.Login))
			if c.Updatable {
				header += "  (yours)"
			}
			b.WriteString(ui.RenderMuted(header) + "\n")
			b.WriteString(ui.RenderMarkdown(c.Markdown))
			b.WriteString("\n")
		}
		if b.Len() == 0 {
			return nil
		}
		return ui.ToPager(cmd.OutOrStdout(), b.String(), ui.PagerOptions{NoPager: noPager})
	},
}

func init() {
	changelogCmd.Flags().String("since", "", "Only show changes after this time")
	rootCmd.AddCommand(changelogCmd, commentsCmd)
}

func filterSince(entries []changelog.Entry, since time.Time) []changelog.Entry {
	if since.IsZero() {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !e.CreationDate.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
