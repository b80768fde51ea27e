package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/lifespan/app"
	"github.com/kilianp07/lifespan/config"
	corestore "github.com/kilianp07/lifespan/core/store"
	"github.com/kilianp07/lifespan/pkg/export"
)

var tableOpts struct {
	nodes        []string
	technologies []string
	format       string
}

var tableCmd = &cobra.Command{
	Use:   "table PARAMETER",
	Short: "Dump the committed rows of a parameter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(tableOpts.format)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *app.Service, _ *config.Config) error {
			p, err := svc.Store().ParameterTable(ctx, args[0], corestore.Filter{
				Nodes:        tableOpts.nodes,
				Technologies: tableOpts.technologies,
			})
			if err != nil {
				return fmt.Errorf("load %s: %w", args[0], err)
			}
			return export.WriteRows(cmd.OutOrStdout(), format, p.Schema(), p.Rows())
		})
	},
}

func init() {
	f := tableCmd.Flags()
	f.StringSliceVarP(&tableOpts.nodes, "nodes", "n", nil, "restrict to these nodes")
	f.StringSliceVarP(&tableOpts.technologies, "technologies", "t", nil, "restrict to these technologies")
	f.StringVarP(&tableOpts.format, "format", "f", "csv", "output format: csv or json")
	rootCmd.AddCommand(tableCmd)
}
