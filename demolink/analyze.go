package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/analysis"
	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/sample"
)

var (
	latestFlag  bool
	previewFlag int
	bandFlag    float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [capture.csv...]",
	Short: "Print step-response metrics of captures",
	Long: `analyze reads capture files and prints overshoot, swing boundaries and
settling metrics for each. With --latest the newest capture in the
configured capture directory is analyzed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		files := args
		if latestFlag {
			all, err := capture.List(cfg.Capture.Dir)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				return fmt.Errorf("no captures in %s", cfg.Capture.Dir)
			}
			files = append(files, all[len(all)-1])
		}
		if len(files) == 0 {
			return errors.New("capture file required (or --latest)")
		}

		opts := analysis.OptionsFrom(cfg.Analysis)
		if cmd.Flags().Changed("band") {
			opts.SettleBand = bandFlag
		}

		out := cmd.OutOrStdout()
		for _, f := range files {
			if err := analyzeFile(out, f, opts, previewFlag); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&latestFlag, "latest", false, "analyze the newest capture in the capture directory")
	analyzeCmd.Flags().IntVar(&previewFlag, "preview", 0, "print up to this many decimated points of the trace")
	analyzeCmd.Flags().Float64Var(&bandFlag, "band", 0.02, "settling band as a fraction of the step")
}

func analyzeFile(w io.Writer, path string, opts analysis.Options, preview int) error {
	points, err := capture.ReadFile(path)
	if err != nil {
		return err
	}

	m, err := analysis.Analyze(points, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "%s\n", filepath.Base(path))
	fmt.Fprintf(w, "  samples:        %d\n", m.Samples)
	fmt.Fprintf(w, "  initial/final:  %.3f -> %.3f (step %.3f)\n", m.InitialValue, m.FinalValue, m.StepSize)
	fmt.Fprintf(w, "  min/max:        %.3f / %.3f\n", m.MinValue, m.MaxValue)
	fmt.Fprintf(w, "  overshoot:      %.2f %%\n", m.OvershootPercent)
	fmt.Fprintf(w, "  swing:          %.3f .. %.3f\n", m.SwingStartTime, m.SwingEndTime)
	fmt.Fprintf(w, "  observed:       %.3f\n", m.ObservedDuration)
	if opts.SettleBand > 0 {
		fmt.Fprintf(w, "  settling (%.0f%%): %.3f\n", opts.SettleBand*100, m.SettlingTime)
	}

	if preview > 0 {
		fmt.Fprintf(w, "  trace:\n")
		for _, p := range sample.Downsample(nil, points, preview) {
			fmt.Fprintf(w, "    %8.3f  %8.3f\n", p.Time, p.Value)
		}
	}
	return nil
}
