package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/appnet-org/sdnsim/internal/config"
	"github.com/appnet-org/sdnsim/pkg/table"
)

func newTableCommand(configPath *string) *cobra.Command {
	var router uint8
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the forwarding table, or one router's partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			tbl, err := cfg.ForwardingTable()
			if err != nil {
				return err
			}
			if router != 0 {
				id, err := cfg.NetworkTopology().Router(router)
				if err != nil {
					return err
				}
				tbl = tbl.Partition(id)
			}
			if err := printTable(cmd.OutOrStdout(), tbl); err != nil {
				return err
			}
			if router != 0 {
				printDestinations(cmd.OutOrStdout(), tbl)
			}
			return nil
		},
	}
	cmd.Flags().Uint8Var(&router, "router", 0, "only print the partition installed on router `K`")
	return cmd
}

func printTable(w io.Writer, tbl table.Table) error {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Src", "Dst", "Router", "Prev", "Next", "Wire"})
	tw.SetAutoFormatHeaders(false)
	for _, r := range tbl {
		raw := r.Raw()
		tw.Append([]string{
			r.Src.String(), r.Dst.String(), r.Router.String(), r.Prev.String(), r.Next.String(),
			fmt.Sprint(raw),
		})
	}
	tw.SetFooter([]string{"", "", "", "", "Rows", fmt.Sprint(len(tbl))})
	tw.Render()
	return nil
}

// printDestinations lists the end users a partition can carry traffic to.
func printDestinations(w io.Writer, tbl table.Table) {
	dsts := tbl.Destinations()
	names := make([]string, 0, len(dsts))
	for _, d := range dsts {
		names = append(names, d.String())
	}
	fmt.Fprintf(w, "Destinations: %s\n", strings.Join(names, ", "))
}
