package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/config"
)

var forceFlag bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configFlag); err == nil && !forceFlag {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configFlag)
		}
		if err := config.Default().Save(configFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configFlag)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "overwrite an existing configuration file")
}
