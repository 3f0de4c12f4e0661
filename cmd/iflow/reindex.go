package main

import (
	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/debug"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Replay the indexing queue and rebuild the search index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		recovered, err := a.index.Recover(ctx)
		if err != nil {
			return err
		}
		indexed, err := a.index.Rebuild(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]int{"recovered": recovered, "indexed": indexed})
		}
		debug.PrintNormal("Replayed %d queued item(s), indexed %d issue(s)\n", recovered, indexed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
