package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hed1ad/omniad/pkg/archive"
)

type versionInfo struct {
	Version       string `json:"version" yaml:"version"`
	FormatVersion int    `json:"format_version" yaml:"format_version"`
	GoVersion     string `json:"go_version" yaml:"go_version"`
	Platform      string `json:"platform" yaml:"platform"`
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.print(cmd.OutOrStdout(), versionInfo{
				Version:       archive.LibraryVersion,
				FormatVersion: archive.FormatVersion,
				GoVersion:     runtime.Version(),
				Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			})
		},
	}
}
