package main

import (
	"github.com/spf13/cobra"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func newRootCmd(connect connectFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "evalctl",
		Short:         "Evaluate tutor responses against case datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("output", "o", outputTable, "output format: table or json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newDatasetsCmd(connect))
	root.AddCommand(newKeysCmd(connect))
	return root
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
