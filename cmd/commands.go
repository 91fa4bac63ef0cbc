package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roamgate/app/plugins"
	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/pkg/export"
)

var (
	commandsTenant string
	commandsSince  string
	commandsLimit  int
	commandsFormat string
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Export the command audit log of a tenant",
	RunE:  runCommands,
}

func init() {
	commandsCmd.Flags().StringVar(&commandsTenant, "tenant", model.DefaultTenantID, "tenant id")
	commandsCmd.Flags().StringVar(&commandsSince, "since", "", "only records at or after this RFC3339 time")
	commandsCmd.Flags().IntVar(&commandsLimit, "limit", 0, "keep only the most recent records")
	commandsCmd.Flags().StringVar(&commandsFormat, "format", "json", "output format: json or csv")
	rootCmd.AddCommand(commandsCmd)
}

func runCommands(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q := commandlog.Query{TenantID: commandsTenant, Limit: commandsLimit}
	if commandsSince != "" {
		if q.Since, err = time.Parse(time.RFC3339, commandsSince); err != nil {
			return fmt.Errorf("since: %w", err)
		}
	}
	write := export.WriteJSON
	switch commandsFormat {
	case "json":
	case "csv":
		write = export.WriteCSV
	default:
		return fmt.Errorf("unknown format %q", commandsFormat)
	}

	logs, err := plugins.NewCommandLog(cmd.Context(), cfg.CommandLog)
	if err != nil {
		return err
	}
	defer logs.Close() //nolint:errcheck
	records, err := logs.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), records)
}
