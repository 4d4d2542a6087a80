package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quickchat",
	Short: "Multi-room chat with a live cursor overlay",
	Long: `quickchat is a multi-room chat whose clients keep a local view of the
remote store and share their pointer positions.

Available commands:
  serve    Host the store over WebSocket
  chat     Start a terminal client
  version  Print the version

Configuration is read from the environment and an optional .env file
(QUICKCHAT_STORE, QUICKCHAT_URL, QUICKCHAT_ROOM, SURREAL_URL, ...).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
