package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/action"
	"github.com/qualityhub/issueflow/internal/bulkchange"
	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/index"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/ui"
)

type bulkOutput struct {
	Total    int              `json:"total"`
	Success  int              `json:"success"`
	Failures int              `json:"failures"`
	Ignored  int              `json:"ignored"`
	Changed  []string         `json:"changed"`
	Measures []index.Measures `json:"measures,omitempty"`
}

var bulkCmd = &cobra.Command{
	Use:   "bulk [KEY...]",
	Short: "Apply actions to many issues at once",
	Long: `Apply actions to many issues at once.

Issues are given as arguments or with --keys. Each action applies to the
issues it supports; the comment is only added to issues another action
changed. An empty --assign unassigns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := bulkRequest(cmd, args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		caller, err := a.loggedIn(ctx)
		if err != nil {
			return err
		}
		res, err := a.bulk.Execute(ctx, req, caller)
		if err != nil {
			return err
		}
		out := bulkOutput{
			Total:    res.Total,
			Success:  res.Success,
			Failures: res.Failures,
			Ignored:  res.Ignored(),
			Changed:  res.Changed,
			Measures: a.index.CachedMeasures(),
		}
		if out.Changed == nil {
			out.Changed = []string{}
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), out)
		}
		printBulk(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	f := bulkCmd.Flags()
	f.StringSlice("keys", nil, "Issue keys (comma-separated)")
	f.String("assign", "", "Assignee login, empty to unassign")
	f.String("severity", "", "Severity to set")
	f.String("type", "", "Type to set")
	f.StringSlice("add-tags", nil, "Tags to add")
	f.StringSlice("remove-tags", nil, "Tags to remove")
	f.String("transition", "", "Transition to run")
	f.String("comment", "", "Comment added to changed issues")
	f.Bool("notify", false, "Notify subscribers of changed issues")
	rootCmd.AddCommand(bulkCmd)
}

// bulkRequest maps the flags that were set to action parameters.
func bulkRequest(cmd *cobra.Command, args []string) (bulkchange.Request, error) {
	f := cmd.Flags()
	keys, _ := f.GetStringSlice("keys")
	keys = append(keys, args...)
	if len(keys) == 0 {
		return bulkchange.Request{}, fmt.Errorf("%w: no issue key given", types.ErrInvalidArgument)
	}
	req := bulkchange.Request{IssueKeys: keys, Actions: map[string]action.Properties{}}

	if f.Changed("assign") {
		v, _ := f.GetString("assign")
		req.Actions[action.AssignKey] = action.Properties{action.AssigneeParam: v}
	}
	single := []struct{ flag, key, param string }{
		{"severity", action.SetSeverityKey, action.SeverityParam},
		{"type", action.SetTypeKey, action.TypeParam},
		{"transition", action.DoTransitionKey, action.TransitionParam},
	}
	for _, s := range single {
		if f.Changed(s.flag) {
			v, _ := f.GetString(s.flag)
			req.Actions[s.key] = action.Properties{s.param: v}
		}
	}
	lists := []struct{ flag, key string }{
		{"add-tags", action.AddTagsKey},
		{"remove-tags", action.RemoveTagsKey},
	}
	for _, l := range lists {
		if f.Changed(l.flag) {
			v, _ := f.GetStringSlice(l.flag)
			req.Actions[l.key] = action.Properties{action.TagsParam: v}
		}
	}
	req.Comment, _ = f.GetString("comment")
	req.SendNotifications, _ = f.GetBool("notify")
	return req, nil
}

func printBulk(w io.Writer, out bulkOutput) {
	icon := ui.RenderPass(ui.IconPass)
	if out.Failures > 0 {
		icon = ui.RenderWarn(ui.IconWarn)
	}
	debug.PrintNormal("%s %d issue(s): %d changed, %d failed, %d ignored\n", icon, out.Total, out.Success, out.Failures, out.Ignored)
	if len(out.Changed) > 0 {
		fmt.Fprintln(w, strings.Join(out.Changed, "\n"))
	}
	if len(out.Measures) == 0 || debug.IsQuiet() {
		return
	}
	fmt.Fprintln(w, ui.RenderCategory("Measures"))
	for _, m := range out.Measures {
		fmt.Fprintf(w, "  %s  %s unresolved of %d, %d false positive, %d won't fix\n",
			ui.RenderMuted(m.ProjectUUID), ui.RenderAccent(fmt.Sprint(m.Unresolved)), m.Issues, m.FalsePos, m.WontFix)
	}
}
