package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kwestra/tidesync/internal/version"
)

var checkLatest bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "tidesync %s (%s, %s/%s)\n",
			version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

		if !checkLatest {
			return nil
		}
		info, err := version.CheckLatest(cmd.Context())
		if err != nil {
			return err
		}
		if info.IsNewer {
			fmt.Fprintf(cmd.OutOrStdout(), "update available: %s\n", info.Latest)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&checkLatest, "check", false, "check for a newer release")
	rootCmd.AddCommand(versionCmd)
}
