package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
	"github.com/kilianp07/lifespan/core/lifetime"
	coremetrics "github.com/kilianp07/lifespan/core/metrics"
	"github.com/kilianp07/lifespan/pkg/export"
)

var respaceOpts struct {
	technology string
	nodes      []string
	lifetime   float64
	from, to   int
	params     []string
	preserve   bool
	dryRun     bool
	progress   bool
	export     string
}

var respaceCmd = &cobra.Command{
	Use:   "respace",
	Short: "Update a technology lifetime and respace its parameter grids",
	RunE:  runRespace,
}

func init() {
	f := respaceCmd.Flags()
	f.StringVarP(&respaceOpts.technology, "technology", "t", "", "technology to update")
	f.StringSliceVarP(&respaceOpts.nodes, "nodes", "n", nil, "nodes to update (default: every node with lifetime rows)")
	f.Float64Var(&respaceOpts.lifetime, "lifetime", 0, "new lifetime in years (default: keep current values)")
	f.IntVar(&respaceOpts.from, "from", 0, "first vintage of the update range")
	f.IntVar(&respaceOpts.to, "to", 0, "last vintage of the update range")
	f.StringSliceVarP(&respaceOpts.params, "params", "p", nil, "parameters to respace (default: from configuration)")
	f.BoolVar(&respaceOpts.preserve, "preserve", false, "keep observations outside the operating windows")
	f.BoolVar(&respaceOpts.dryRun, "dry-run", false, "compute replacements without committing")
	f.BoolVar(&respaceOpts.progress, "progress", false, "print one line per respaced parameter and node")
	f.StringVar(&respaceOpts.export, "export", "", "write the computed changes to a .csv or .json file")
	_ = respaceCmd.MarkFlagRequired("technology")
	rootCmd.AddCommand(respaceCmd)
}

func runRespace(cmd *cobra.Command, _ []string) error {
	job := app.Job{
		Technology: respaceOpts.technology,
		Nodes:      respaceOpts.nodes,
		Range:      lifetime.Range{From: respaceOpts.from, To: respaceOpts.to},
		Parameters: respaceOpts.params,
		Preserve:   respaceOpts.preserve,
		DryRun:     respaceOpts.dryRun,
	}
	if cmd.Flags().Changed("lifetime") {
		lt := respaceOpts.lifetime
		job.Lifetime = &lt
	}
	if job.Range.From != 0 && job.Range.To == 0 || job.Range.From == 0 && job.Range.To != 0 {
		return fmt.Errorf("--from and --to must be given together")
	}
	return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
		var done chan struct{}
		if respaceOpts.progress {
			ch := svc.Progress()
			done = make(chan struct{})
			go func() {
				defer close(done)
				for ev := range ch {
					printProgress(cmd.ErrOrStderr(), ev)
				}
			}()
			defer func() {
				svc.Unsubscribe(ch)
				<-done
			}()
		}
		sum, err := svc.Run(ctx, job)
		if sum != nil {
			printSummary(cmd.OutOrStdout(), sum)
			if respaceOpts.export != "" {
				if xerr := exportChanges(respaceOpts.export, sum); xerr != nil && err == nil {
					err = xerr
				}
			}
		}
		return err
	})
}

func printProgress(out io.Writer, ev coremetrics.RespaceEvent) {
	_, _ = fmt.Fprintf(out, "%s %s/%s: %s (+%d -%d)\n", ev.Param, ev.Node, ev.Technology, ev.Outcome, ev.Added, ev.Removed)
}

// exportChanges writes the rows every surviving table would add or remove.
func exportChanges(path string, sum *app.Summary) error {
	var changes []export.Change
	for _, name := range sum.Names() {
		pr := sum.Results[name]
		if pr.Failed() {
			continue
		}
		changes = append(changes, export.Changes(name, pr.Removed, pr.Added)...)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteChanges(f, export.FormatOf(path), changes); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printSummary(out io.Writer, sum *app.Summary) {
	_, _ = fmt.Fprintf(out, "run %s: %s at %d nodes", sum.RunID, sum.Technology, len(sum.Nodes))
	switch {
	case sum.DryRun:
		_, _ = fmt.Fprintln(out, " (dry run)")
	case sum.CommitID != "":
		_, _ = fmt.Fprintf(out, ", commit %s\n", sum.CommitID)
	default:
		_, _ = fmt.Fprintln(out, ", nothing to commit")
	}
	for node, err := range sum.Skipped {
		_, _ = fmt.Fprintf(out, "skipped %s: %v\n", node, err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PARAMETER\tKIND\tADDED\tREMOVED\tDIAGNOSTICS\tSTATUS")
	for _, name := range sum.Names() {
		pr := sum.Results[name]
		status := "ok"
		if pr.Failed() {
			status = "dropped"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", name, pr.Kind, len(pr.Added), len(pr.Removed), len(pr.Diagnostics), status)
	}
	_ = w.Flush()
	for _, name := range sum.Failed() {
		for node, err := range sum.Results[name].Errors {
			_, _ = fmt.Fprintf(out, "%s at %s: %v\n", name, node, err)
		}
	}
}
