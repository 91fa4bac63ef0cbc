package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roamgate/infra/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the PostgreSQL schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != "postgres" {
		return fmt.Errorf("migrate needs the postgres store backend, got %s", cfg.Store.Backend)
	}
	ctx := cmd.Context()
	s, err := postgres.New(ctx, cfg.Store.URL, cfg.Store.MaxConns)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return err
}
