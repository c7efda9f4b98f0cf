package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/link"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := link.Ports()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p.Name)
		}
		return nil
	},
}
