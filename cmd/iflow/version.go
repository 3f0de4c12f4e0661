package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/storage/sqlstore"
)

var (
	// Version is the current version of iflow (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		commit := resolveCommitHash()
		if jsonOutput {
			result := map[string]any{
				"version":        Version,
				"build":          Build,
				"schema_version": sqlstore.SchemaVersion(),
			}
			if commit != "" {
				result["commit"] = commit
			}
			return outputJSON(cmd.OutOrStdout(), result)
		}
		if commit != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "iflow version %s (%s: %s)\n", Version, Build, shortCommit(commit))
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "iflow version %s (%s)\n", Version, Build)
		}
		return nil
	},
}

// resolveCommitHash prefers the ldflag and falls back to the VCS stamp.
func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
