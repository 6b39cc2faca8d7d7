package cmd

import (
	"fmt"

	"github.com/pliedpiper/KadenBot/kadenbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints version info",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf(
			"kadenbot %s (commit: %s) (built: %s)\n",
			kadenbot.Version,
			kadenbot.CommitSHA,
			kadenbot.BuildTime,
		)
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(versionCmd)
}
