package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
)

var auditOpts struct {
	technology string
	node       string
	params     []string
	repair     bool
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check stored grids against the retirement windows",
	RunE:  runAudit,
}

func init() {
	f := auditCmd.Flags()
	f.StringVarP(&auditOpts.technology, "technology", "t", "", "technology to audit")
	f.StringVarP(&auditOpts.node, "node", "n", "", "node to audit")
	f.StringSliceVarP(&auditOpts.params, "params", "p", nil, "parameters to audit (default: from configuration)")
	f.BoolVar(&auditOpts.repair, "repair", false, "write back removals and backfills of two-axis grids")
	_ = auditCmd.MarkFlagRequired("technology")
	_ = auditCmd.MarkFlagRequired("node")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, _ []string) error {
	job := app.AuditJob{
		Technology: auditOpts.technology,
		Node:       auditOpts.node,
		Parameters: auditOpts.params,
		Repair:     auditOpts.repair,
	}
	return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
		res, err := svc.Audit(ctx, job)
		if res == nil {
			return err
		}
		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "PARAMETER\tMISSING\tEXTRA\tREMAINING MISSING\tREMAINING EXTRA")
		for _, rep := range res.Reports {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", rep.Param,
				len(rep.Missing), len(rep.Extra), len(rep.RemainingMissing), len(rep.RemainingExtra))
		}
		_ = w.Flush()
		for _, rep := range res.Reports {
			for _, f := range rep.Extra {
				_, _ = fmt.Fprintf(out, "%s extra %s vintage %d activity %d\n", rep.Param, f.Dims, f.Vintage, f.Activity)
			}
			for _, f := range rep.Missing {
				_, _ = fmt.Fprintf(out, "%s missing %s vintage %d activity %d\n", rep.Param, f.Dims, f.Vintage, f.Activity)
			}
		}
		if res.CommitID != "" {
			_, _ = fmt.Fprintf(out, "repairs committed as %s\n", res.CommitID)
		}
		return err
	})
}
