package cmd

import (
	"github.com/spf13/cobra"

	"github.com/memovia/callkeeper/pkg/cmd/server"
)

// serveCallControlCmd starts the call control server instance
var serveCallControlCmd = &cobra.Command{
	Use:   "callcontrol",
	Short: "Starts the call control server",
	Run: func(cmd *cobra.Command, args []string) {
		server.RunServeCallControl(c)(cmd, args)
	},
}

func init() {
	serveCmd.AddCommand(serveCallControlCmd)
}
