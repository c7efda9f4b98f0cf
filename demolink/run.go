package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/analysis"
	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/catalog"
	"github.com/itohio/demolink/pkg/config"
	"github.com/itohio/demolink/pkg/link"
	"github.com/itohio/demolink/pkg/pipeline"
	"github.com/itohio/demolink/pkg/trial"
)

var (
	portFlag   string
	mockFlag   bool
	modeFlag   int
	armFlag    int
	statusFlag time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live telemetry loop",
	Long: `run connects to the controller, selects its telemetry mode and ticks the
pipeline until interrupted. Trials are appended to the trial log and
captures are written to the capture directory as they complete.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if portFlag != "" {
			cfg.Serial.Port = portFlag
		}
		if cmd.Flags().Changed("mode") {
			cfg.Serial.ModeByte = byte(modeFlag)
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVarP(&portFlag, "port", "p", "", "serial port override (e.g., COM3 or /dev/ttyACM0)")
	runCmd.Flags().BoolVar(&mockFlag, "mock", false, "use the simulated controller instead of a serial port")
	runCmd.Flags().IntVar(&modeFlag, "mode", 1, "mode byte sent on start (1 = stream, 2 = step captures)")
	runCmd.Flags().IntVar(&armFlag, "arm", 0, "record this many trials back to back")
	runCmd.Flags().DurationVar(&statusFlag, "status", time.Second, "status log interval (0 disables)")
}

func openLink(cfg *config.Config) (link.Link, error) {
	if mockFlag {
		m := link.NewMock(&cfg.Mock)
		if err := m.Connect(); err != nil {
			return nil, fmt.Errorf("failed to start simulated controller: %w", err)
		}
		log.Info().Msg("using simulated controller")
		return m, nil
	}

	s := link.New(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Serial.BufferSize, cfg.Serial.ReadTimeout)
	if err := s.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
	}
	return s, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l, err := openLink(cfg)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			l.Close()
			return err
		}
		defer cat.Close()
		opts = append(opts, pipeline.WithCatalog(cat))
	}

	p, err := pipeline.New(cfg, l, opts...)
	if err != nil {
		l.Close()
		return err
	}
	defer p.Close()

	remaining := armFlag
	p.OnTrial(func(t *trial.Trial) {
		fmt.Printf("trial %d saved: %d samples\n", t.Index, len(t.Values))
		if remaining > 0 {
			armNext(p, &remaining)
		}
	})

	opt := analysis.OptionsFrom(cfg.Analysis)
	p.OnCapture(func(c *capture.Capture) {
		m, err := analysis.Analyze(c.Points, opt)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Path).Msg("failed to analyze capture")
			return
		}
		fmt.Printf("capture %s (%s): %d points, overshoot %.1f%%, swing %.3f..%.3f\n",
			c.Path, c.Reason, m.Samples, m.OvershootPercent, m.SwingStartTime, m.SwingEndTime)
	})

	if err := p.Restart(); err != nil {
		return err
	}
	if err := p.SetMode(cfg.Serial.ModeByte); err != nil {
		return err
	}
	defer func() {
		if err := p.SetMode(link.ModeIdle); err != nil {
			log.Debug().Err(err).Msg("failed to pause controller")
		}
	}()

	if remaining > 0 {
		armNext(p, &remaining)
	}

	if statusFlag > 0 {
		go logStatus(ctx, p, statusFlag)
	}

	log.Info().Dur("interval", cfg.Tick.Interval).Msg("telemetry loop started")
	return p.Run(ctx)
}

func armNext(p *pipeline.Pipeline, remaining *int) {
	if err := p.Arm(); err != nil {
		log.Warn().Err(err).Msg("cannot arm trial")
		*remaining = 0
		return
	}
	*remaining--
}

func logStatus(ctx context.Context, p *pipeline.Pipeline, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Status()
			ev := log.Info().
				Float64("filtered", st.Filtered).
				Stringer("trial_state", st.Trial.State).
				Int("trial", st.Trial.Index).
				Int("max_trials", st.Trial.MaxTrials).
				Stringer("capture", st.Capture).
				Uint64("lines", st.Stats.Lines).
				Uint64("unrecognized", st.Stats.Unrecognized)
			if st.Trial.State == trial.Armed {
				ev = ev.Dur("seconds_left", st.Trial.Remaining.Round(time.Second))
			}
			ev.Msg("status")
		}
	}
}
