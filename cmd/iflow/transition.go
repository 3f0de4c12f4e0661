package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/eventbus"
	"github.com/qualityhub/issueflow/internal/index"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/ui"
)

var transitionsCmd = &cobra.Command{
	Use:   "transitions KEY",
	Short: "List the transitions the actor can run on an issue",
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
		if jsonOutput {
			if keys == nil {
				keys = []string{}
			}
			return outputJSON(cmd.OutOrStdout(), keys)
		}
		if len(keys) == 0 {
			debug.PrintNormal("No transition available on %s (%s)\n", issue.Key, issue.Status)
			return nil
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition KEY [TRANSITION]",
	Short: "Run a workflow transition on an issue",
	Long: `Run a workflow transition on an issue.

Without TRANSITION, an interactive picker lists the transitions available
to the actor. Resolving as falsepositive or wontfix needs the issueadmin
permission on the issue's project.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		comment, _ := cmd.Flags().GetString("comment")
		key := ""
		if len(args) == 2 {
			key = args[1]
		}
		// Measures are computed over the whole project.
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		res, err := a.runTransition(cmd.Context(), args[0], key, comment, pickTransition)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), res)
		}
		debug.PrintNormal("%s %s: %s -> %s\n", ui.RenderPass(ui.IconPass), res.Key, res.From, ui.RenderStatus(res.To))
		return nil
	},
}

func init() {
	transitionCmd.Flags().String("comment", "", "Comment added with the transition")
	rootCmd.AddCommand(transitionsCmd, transitionCmd)
}

type transitionResult struct {
	Key        string           `json:"key"`
	Transition string           `json:"transition"`
	From       types.Status     `json:"from"`
	To         types.Status     `json:"to"`
	Resolution types.Resolution `json:"resolution,omitempty"`
	Changes    []types.Diff     `json:"changes"`
	Measures   *index.Measures  `json:"measures,omitempty"`
}

// picker chooses a transition among keys when none was given.
type picker func(issue *types.Issue, keys []string) (string, error)

func (a *app) runTransition(ctx context.Context, issueKey, key, comment string, pick picker) (*transitionResult, error) {
	caller, err := a.loggedIn(ctx)
	if err != nil {
		return nil, err
	}
	issue, err := a.loadVisible(ctx, issueKey, caller)
	if err != nil {
		return nil, err
	}
	if key == "" {
		keys, err := a.transitions.ListTransitionKeys(issue, caller)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: no transition available on %s (%s)", types.ErrInvalidArgument, issue.Key, issue.Status)
		}
		if key, err = pick(issue, keys); err != nil {
			return nil, err
		}
	}
	if err := a.transitions.CheckTransitionPermission(key, issue, caller); err != nil {
		return nil, err
	}

	from := issue.Status
	change := types.UserChange(a.now(), caller.UserUUID())
	ok, err := a.transitions.DoTransition(issue, change, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: transition %q does not apply to issue %s", types.ErrInvalidArgument, key, issue.Key)
	}
	if comment != "" {
		a.setter.AddComment(issue, comment, change)
	}

	res := &transitionResult{
		Key:        issue.Key,
		Transition: key,
		From:       from,
		To:         issue.Status,
		Resolution: issue.Resolution,
		Changes:    issue.CurrentChange().Diffs(),
	}
	event := eventbus.NewIssueChanged(issue, caller.Login(), change.Date)
	if _, err := a.saver.Save(ctx, []*types.Issue{issue}); err != nil {
		return nil, err
	}
	if err := a.index.RefreshMeasures(ctx, []string{issue.ProjectUUID}); err != nil {
		a.logger.Warn("refresh measures", "project", issue.ProjectUUID, "err", err)
	} else {
		for _, m := range a.index.CachedMeasures() {
			if m.ProjectUUID == issue.ProjectUUID {
				res.Measures = &m
			}
		}
	}
	if _, err := a.bus.Dispatch(ctx, event); err != nil {
		a.logger.Warn("notify", "issue", issue.Key, "err", err)
	}
	return res, nil
}

// pickTransition asks on the terminal; without one the transition is required.
func pickTransition(issue *types.Issue, keys []string) (string, error) {
	if !ui.IsTerminal() || jsonOutput {
		return "", fmt.Errorf("%w: transition required, one of %v", types.ErrInvalidArgument, keys)
	}
	options := make([]huh.Option[string], len(keys))
	for i, k := range keys {
		options[i] = huh.NewOption(k, k)
	}
	var chosen string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Transition %s (%s)", issue.Key, issue.Status)).
				Options(options...).
				Value(&chosen),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return chosen, nil
}
