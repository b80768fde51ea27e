package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
)

var yearsCmd = &cobra.Command{
	Use:   "years",
	Short: "Print the model years with their period durations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
			h, err := svc.Horizon(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "YEAR\tDURATION\tCUMULATIVE")
			for _, y := range h.Years() {
				d, _ := h.Duration(y)
				cum, err := h.Cumulative(h.First(), y)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "%d\t%d\t%d\n", y, d, cum)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(yearsCmd)
}
