package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "splicer",
		Short:         "Splice a SpiderMonkey engine module into a WebAssembly component",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStubWasiCmd())
	root.AddCommand(newSpliceBindingsCmd())
	return root
}
