package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/roamgate/app/plugins"
	"github.com/kilianp07/roamgate/infra/store/fixtures"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load tenant datasets from a YAML file into the store",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML dataset file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sets, err := fixtures.Load(seedFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := plugins.NewStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck
	n, err := fixtures.Apply(ctx, s, sets)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tenant(s)\n", n)
	return err
}
