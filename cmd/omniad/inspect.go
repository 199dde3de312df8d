package main

import (
	"github.com/spf13/cobra"

	"github.com/hed1ad/omniad/pkg/archive"
)

// archiveSummary is what fit and inspect print.
type archiveSummary struct {
	Path             string `json:"path" yaml:"path"`
	NFeatures        int    `json:"n_features,omitempty" yaml:"n_features,omitempty"`
	archive.Metadata `yaml:",inline"`
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Show the metadata of an archive",
		Long: `Print the metadata segment of ARCHIVE without restoring the detector.

Examples:
  omniad inspect model.zip
  omniad inspect model.zip -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.codec().ReadMetadata(args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), &archiveSummary{Path: args[0], Metadata: *meta})
		},
	}
}
