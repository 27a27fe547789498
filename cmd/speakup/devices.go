package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the input devices of the configured input",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := microphoneAPIFromConfig()
		if err != nil {
			return err
		}
		devices := api.InputDevices()
		if len(devices) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no input devices")
			return nil
		}
		for _, d := range devices {
			fmt.Fprintln(cmd.OutOrStdout(), d.String())
		}
		return nil
	},
}
