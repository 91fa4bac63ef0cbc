package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roamgate/app/plugins"
	"github.com/kilianp07/roamgate/core/connector"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
)

var (
	statsTenant string
	statsSite   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print connector statistics of a tenant",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsTenant, "tenant", model.DefaultTenantID, "tenant id")
	statsCmd.Flags().StringVar(&statsSite, "site", "", "restrict to one site")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := plugins.NewStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck
	if err := tenant.NewResolver(s, nil).Resolve(ctx, statsTenant); err != nil {
		return err
	}
	stations, err := s.ListStations(ctx, statsTenant, store.StationFilter{SiteID: statsSite})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(connector.Aggregate(stations))
}
