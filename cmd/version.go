package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// newVersionCmd creates the 'version' subcommand
func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   Version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if opts.outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), info)
			}

			out := cmd.OutOrStdout()
			printSection(out, "webserver")
			printField(out, "Version", info.Version)
			printField(out, "Go", info.GoVersion)
			printField(out, "Platform", info.Platform)
			if !opts.quiet {
				infoColor.Fprintln(out, "  Run 'webserver --help' for usage.")
			}
			return nil
		},
	}
}
