package main

import (
	"github.com/spf13/cobra"

	"gosshield/artifact"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <binary>",
	Short: "Print the section table and entry point of a PE or ELF binary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return artifact.Inspect(args[0], cmd.OutOrStdout())
	},
}
