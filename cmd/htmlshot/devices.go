package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/porticus-lab/go-html-shot/device"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the named device profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVIEWPORT\tSCALE\tMOBILE")
			for _, name := range device.Names() {
				p, _ := device.Lookup(name)
				p = p.Normalized()
				fmt.Fprintf(tw, "%s\t%dx%d\t%g\t%t\n", name, p.Width, p.Height, p.DeviceScaleFactor, p.IsMobile)
			}
			return tw.Flush()
		},
	}
}
