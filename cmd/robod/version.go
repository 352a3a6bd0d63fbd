package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/najoast/robo/units"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "robod %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List the available unit types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, typ := range units.NewRegistry().Types() {
				fmt.Fprintln(cmd.OutOrStdout(), typ)
			}
		},
	}
}
