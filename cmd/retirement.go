package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
)

var retirementOpts struct {
	technology string
	node       string
}

var retirementCmd = &cobra.Command{
	Use:   "retirement",
	Short: "Print the retirement year of every vintage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
			ret, h, err := svc.Retirement(ctx, retirementOpts.technology, retirementOpts.node)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VINTAGE\tRETIRES\tACTIVE THROUGH")
			for _, v := range ret.Vintages() {
				r := ret[v]
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", v, r, r.Through(h.Last()))
			}
			return w.Flush()
		})
	},
}

func init() {
	f := retirementCmd.Flags()
	f.StringVarP(&retirementOpts.technology, "technology", "t", "", "technology")
	f.StringVarP(&retirementOpts.node, "node", "n", "", "node")
	_ = retirementCmd.MarkFlagRequired("technology")
	_ = retirementCmd.MarkFlagRequired("node")
	rootCmd.AddCommand(retirementCmd)
}
