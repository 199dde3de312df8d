package main

import (
	"github.com/spf13/cobra"

	"github.com/hed1ad/omniad/pkg/registry"
)

func newAlgorithmsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List available detector algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.print(cmd.OutOrStdout(), registry.Default().IDs())
		},
	}
}
