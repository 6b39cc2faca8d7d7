package cmd

import (
	"log"

	"github.com/pliedpiper/KadenBot/kadenbot"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the KadenBot relay bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := kadenbot.New(cfg)
		if err != nil {
			log.Fatalf("error creating kadenbot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running kadenbot: %s", err.Error())
		}
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
