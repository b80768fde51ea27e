package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
)

var horizonDryRun bool

var horizonCmd = &cobra.Command{
	Use:   "horizon",
	Short: "Respace every technology over the current year set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
			sums, err := svc.RunHorizon(ctx, horizonDryRun)
			for _, sum := range sums {
				printSummary(cmd.OutOrStdout(), sum)
			}
			return err
		})
	},
}

func init() {
	horizonCmd.Flags().BoolVar(&horizonDryRun, "dry-run", false, "compute replacements without committing")
	rootCmd.AddCommand(horizonCmd)
}
