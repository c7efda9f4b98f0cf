package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itohio/demolink/pkg/config"
	"github.com/itohio/demolink/pkg/logging"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "demolink",
	Short: "Telemetry ingestion and analysis for the demonstration controller",
	Long: `demolink reads the controller's line-oriented telemetry stream, filters
continuous readings into bounded trials and collects framed step-response
captures, then analyzes them offline.

Commands:
  run       live tick loop (serial port or --mock)
  analyze   step-response metrics of a capture file
  topo      row-normalized topography of the trial log
  clear     truncate the trial log
  ports     list serial ports
  init      write the default configuration`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, analyzeCmd, topoCmd, clearCmd, portsCmd, initCmd)
}

// loadConfig loads the configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Log.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	if err := logging.Init(level, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
