package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qualityhub/issueflow/internal/config"
	"github.com/qualityhub/issueflow/internal/debug"
	"github.com/qualityhub/issueflow/internal/storage/sqlstore"
	"github.com/qualityhub/issueflow/internal/types"
	"github.com/qualityhub/issueflow/internal/ui"
)

const configTemplate = `# iflow configuration
#
# Every key can be overridden with an IFLOW_* environment variable,
# e.g. IFLOW_DB_BACKEND=mysql or IFLOW_STORAGE_BATCH_SIZE=100.

db:
  backend: %s
  # path: .iflow/issues.db
  # dsn: root@tcp(127.0.0.1:3306)/
  # database: issueflow

# actor: alice
# permissions-file: .iflow/permissions.yaml
# rules-file: .iflow/rules.toml
# json: false

# notifications:
#   hooks:
#     - id: slack
#       command: ./scripts/notify.sh
#       events: [issue.changed]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize iflow in the current directory",
	Long: `Create .iflow/config.yaml and the database schema.

Running init again keeps the existing configuration and applies pending
schema migrations.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		switch sqlstore.Backend(backend) {
		case sqlstore.BackendSQLite, sqlstore.BackendMySQL, sqlstore.BackendDolt:
		default:
			return fmt.Errorf("%w: unknown backend %q (sqlite, mysql or dolt)", types.ErrInvalidArgument, backend)
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir := filepath.Join(cwd, config.Dir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		cfgPath := filepath.Join(dir, "config.yaml")
		created := false
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(cfgPath, []byte(fmt.Sprintf(configTemplate, backend)), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			created = true
		}
		if cmd.Flags().Changed("actor") {
			if err := config.SetYamlConfigAt(cfgPath, "actor", actor); err != nil {
				return err
			}
		}

		if err := config.Initialize(); err != nil {
			return err
		}
		if !cmd.Flags().Changed("db") {
			dbPath = config.GetString("db.path")
		}
		if _, err := openApp(cmd.Context(), false); err != nil {
			return err
		}

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), map[string]any{
				"config":         cfgPath,
				"created":        created,
				"backend":        config.GetString("db.backend"),
				"schema_version": sqlstore.SchemaVersion(),
			})
		}
		debug.PrintNormal("%s Initialized iflow in %s (backend %s, schema v%d)\n",
			ui.RenderPass(ui.IconPass), dir, config.GetString("db.backend"), sqlstore.SchemaVersion())
		return nil
	},
}

func init() {
	initCmd.Flags().String("backend", string(sqlstore.BackendSQLite), "Storage backend: sqlite, mysql or dolt")
	rootCmd.AddCommand(initCmd)
}
