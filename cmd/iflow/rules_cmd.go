package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/config"
	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/ui"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and synchronize the rule catalog",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules of the catalog file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		all := a.catalog.All()
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), all)
		}
		for _, r := range all {
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %-18s %-8s %s\n", ui.RenderKey(r.Key.String()), r.Type, r.Severity, r.Name)
		}
		return nil
	},
}

var rulesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Store the catalog rules in the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := a.syncRules(cmd.Context()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]int{"synced": len(a.catalog.All())})
		}
		debug.PrintNormal("%s synced %d rule(s)\n", ui.RenderPass(ui.IconPass), len(a.catalog.All()))
		return nil
	},
}

var rulesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload and synchronize the catalog whenever its file changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		debug.PrintNormal("Watching %s (Ctrl-C to stop)\n", config.ResolvePath(config.GetString("rules-file")))
		return a.catalog.Watch(ctx, func(err error) {
			if err != nil {
				debug.PrintNormal("%s %v\n", ui.RenderFail(ui.IconFail), err)
				return
			}
			if err := a.syncRules(ctx); err != nil {
				a.logger.Warn("rules sync failed", "err", err)
				return
			}
			debug.PrintNormal("%s reloaded %d rule(s)\n", ui.RenderPass(ui.IconPass), len(a.catalog.All()))
		})
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd, rulesSyncCmd, rulesWatchCmd)
	rootCmd.AddCommand(rulesCmd)
}
