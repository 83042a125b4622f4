package commands

import (
	"github.com/hearthnet/hearth/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

// RootCmd is the root command for hearth
var RootCmd = &cobra.Command{
	Use:              "hearth",
	Short:            "hearth group-messaging server",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(
		NewRunCmd(),
		NewKeygenCmd(),
		VersionCmd)
	//do not print usage when error occurs
	RootCmd.SilenceUsage = true
}
