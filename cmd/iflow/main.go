package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/config"
	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/telemetry"
)

var (
	dbPath      string
	actor       string
	jsonOutput  bool
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output
	noPager     bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:           "iflow",
	Short:         "iflow - issue lifecycle engine",
	Long:          `Track code analysis issues through their lifecycle: transitions, bulk changes, changelogs and comments.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		cmd.SetContext(rootCtx)

		if err := config.Initialize(); err != nil {
			return err
		}
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		if !cmd.Flags().Changed("actor") {
			actor = config.GetString("actor")
		}
		if !cmd.Flags().Changed("db") {
			dbPath = config.GetString("db.path")
		}

		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		logger = debug.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		debug.Logf("config file: %q, actor: %q\n", config.ConfigFileUsed(), actor)

		return telemetry.Init(rootCtx, "iflow", Version, config.GetBool("telemetry.enabled"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: .iflow/issues.db)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Login of the user acting (default: actor from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noPager, "no-pager", false, "Disable pager output")
}

// shutdown releases what the command opened. It runs whether or not the
// command failed.
func shutdown() {
	closeApp()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	telemetry.Shutdown(ctx)
	if rootCancel != nil {
		rootCancel()
	}
}

func main() {
	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}
