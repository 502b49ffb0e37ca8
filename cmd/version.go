package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ethuo/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "get version",
	Long:  `get version and commit of the binary`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", version.Get(), version.Commit())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
