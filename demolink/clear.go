package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/catalog"
	"github.com/itohio/demolink/pkg/trial"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Truncate the trial log and reset the trial index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		rec, err := trial.NewRecorder(cfg.Trials, nil)
		if err != nil {
			return err
		}
		if err := rec.Clear(); err != nil {
			return err
		}

		if cfg.Catalog.Enabled {
			cat, err := catalog.Open(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			defer cat.Close()

			n, err := cat.ClearTrials(cfg.Trials.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d catalogued trials\n", n)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", cfg.Trials.Path)
		return nil
	},
}
