package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"interview-recorder/capture"
	"interview-recorder/config"
)

func devices(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "list capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := capture.NewManager(config).Devices(loggerContext(config))
			if err != nil {
				return err
			}
			if len(devs) == 0 {
				fmt.Println("no capture devices found")
				return nil
			}
			for _, d := range devs {
				fmt.Printf("%s\t%s\t%s\n", d.Id, d.Path, d.Label)
			}
			return nil
		},
	}
}
