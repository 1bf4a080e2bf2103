package cmd

import (
	"github.com/spf13/cobra"

	"interview-recorder/config"
	"interview-recorder/server"
)

func agent(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "start the recorder control API",
		Run: func(cmd *cobra.Command, args []string) {
			server.RunHttp(config)
		},
	}
}
