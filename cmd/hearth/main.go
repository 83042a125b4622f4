package main

import (
	"os"

	cmd "github.com/hearthnet/hearth/cmd/hearth/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
