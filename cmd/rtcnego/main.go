package main

import (
	"os"

	"github.com/shynome/rtcnego/cmd/rtcnego/commands"
)

func main() {
	rootCmd := commands.RootCmd

	// do not print usage when a command fails
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
