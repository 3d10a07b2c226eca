package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tumulus/tumulus/internal/comparecat"
)

var cmdCompareCatalogs = &cobra.Command{
	Use:   "compare-catalogs LOCAL REMOTE",
	Short: "Compare two local catalog files and report the extent-level delta",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompareCatalogs,
}

func init() {
	cmdRoot.AddCommand(cmdCompareCatalogs)
}

func runCompareCatalogs(cmd *cobra.Command, args []string) error {
	report, err := comparecat.Compare(args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "to transfer: %d extents, %d bytes\n", report.ToTransferCount, report.ToTransferBytes)
	fmt.Fprintf(out, "shared:      %d extents, %d bytes\n", report.SharedCount, report.SharedBytes)
	fmt.Fprintf(out, "remote only: %d extents, %d bytes\n", report.BOnlyCount, report.BOnlyBytes)
	return nil
}
