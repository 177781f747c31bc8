package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for Icore
var RootCmd = &cobra.Command{
	Use:              "icore",
	Short:            "realtime chat and call signaling node",
	TraverseChildren: true,
}
