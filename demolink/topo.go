package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/topography"
)

var valuesFlag bool

var topoCmd = &cobra.Command{
	Use:   "topo",
	Short: "Print the row-normalized topography of the trial log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		m, err := topography.Load(cfg.Trials.Path, cfg.Trials.MaxTrials, cfg.Trials.MaxSamples)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !valuesFlag {
			return topography.Render(out, m)
		}

		rows, cols := m.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if c > 0 {
					fmt.Fprint(out, ",")
				}
				if v := m.At(r, c); !topography.IsNoData(v) {
					fmt.Fprintf(out, "%.4f", v)
				}
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	topoCmd.Flags().BoolVar(&valuesFlag, "values", false, "print normalized values instead of a heatmap")
}
