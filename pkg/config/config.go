package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate when a value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Tick     TickConfig     `yaml:"tick"`
	Filter   FilterConfig   `yaml:"filter"`
	Trials   TrialsConfig   `yaml:"trials"`
	Capture  CaptureConfig  `yaml:"capture"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Mock     MockConfig     `yaml:"mock"`
	Log      LogConfig      `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	BufferSize  int           `yaml:"buffer_size"` // Lines queued between the reader goroutine and the tick loop
	ModeByte    byte          `yaml:"mode_byte"`   // Sent on start to select the telemetry stream
}

// TickConfig controls the cooperative polling loop.
type TickConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxLines int           `yaml:"max_lines"` // Lines decoded per tick
}

// FilterConfig contains signal conditioning parameters.
type FilterConfig struct {
	DeadZone float64 `yaml:"dead_zone"`
	Alpha    float64 `yaml:"alpha"` // Smoothing factor in (0,1]
}

// TrialsConfig contains trial recording parameters.
type TrialsConfig struct {
	Path           string        `yaml:"path"`
	MaxTrials      int           `yaml:"max_trials"`
	MaxSamples     int           `yaml:"max_samples"`
	RecordDuration time.Duration `yaml:"record_duration"`
}

// CaptureConfig contains streamed capture parameters.
type CaptureConfig struct {
	Dir         string        `yaml:"dir"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AnalysisConfig contains step-response analysis thresholds.
type AnalysisConfig struct {
	MinStep      float64 `yaml:"min_step"`      // Below this step size overshoot is 0
	StableWindow int     `yaml:"stable_window"` // Sliding window width in samples
	StableStd    float64 `yaml:"stable_std"`    // Window std-dev that counts as settled
	SettleBand   float64 `yaml:"settle_band"`   // Fraction of step size for band settling time
}

// CatalogConfig contains the optional sqlite catalog configuration.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MockConfig contains simulated controller configuration.
type MockConfig struct {
	SampleRate  time.Duration `yaml:"sample_rate"`  // Interval between emitted lines
	Amplitude   float64       `yaml:"amplitude"`    // Peak angle of the scalar stream (deg)
	Period      time.Duration `yaml:"period"`       // Period of the scalar stream
	NoiseLevel  float64       `yaml:"noise_level"`  // Additive noise amplitude
	StepSize    float64       `yaml:"step_size"`    // Final value of the framed step response
	StepSamples int           `yaml:"step_samples"` // Pairs emitted per framed capture
	Damping     float64       `yaml:"damping"`      // Damping ratio of the simulated response
	NaturalFreq float64       `yaml:"natural_freq"` // Natural frequency (rad/s)
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux
			BaudRate:    115200,
			ReadTimeout: 10 * time.Millisecond,
			BufferSize:  256,
			ModeByte:    0x01,
		},
		Tick: TickConfig{
			Interval: 25 * time.Millisecond,
			MaxLines: 64,
		},
		Filter: FilterConfig{
			DeadZone: 0.01,
			Alpha:    0.20,
		},
		Trials: TrialsConfig{
			Path:           "trials.txt",
			MaxTrials:      4,
			MaxSamples:     100,
			RecordDuration: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Dir:         "captures",
			IdleTimeout: 3 * time.Second,
		},
		Analysis: AnalysisConfig{
			MinStep:      1e-3,
			StableWindow: 10,
			StableStd:    0.05,
			SettleBand:   0.02,
		},
		Catalog: CatalogConfig{
			Enabled: false,
			Path:    "demolink.db",
		},
		Mock: MockConfig{
			SampleRate:  20 * time.Millisecond,
			Amplitude:   0.3,
			Period:      4 * time.Second,
			NoiseLevel:  0.005,
			StepSize:    10.0,
			StepSamples: 200,
			Damping:     0.3,
			NaturalFreq: 6.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be back-filled with defaults.
func (c *Config) Validate() error {
	switch {
	case c.Filter.Alpha <= 0 || c.Filter.Alpha > 1:
		return fmt.Errorf("%w: filter.alpha must be in (0,1], got %v", ErrInvalidConfig, c.Filter.Alpha)
	case c.Filter.DeadZone < 0:
		return fmt.Errorf("%w: filter.dead_zone must be >= 0, got %v", ErrInvalidConfig, c.Filter.DeadZone)
	case c.Trials.MaxTrials <= 0:
		return fmt.Errorf("%w: trials.max_trials must be positive", ErrInvalidConfig)
	case c.Trials.MaxSamples <= 0:
		return fmt.Errorf("%w: trials.max_samples must be positive", ErrInvalidConfig)
	case c.Trials.RecordDuration <= 0:
		return fmt.Errorf("%w: trials.record_duration must be positive", ErrInvalidConfig)
	case c.Capture.IdleTimeout <= 0:
		return fmt.Errorf("%w: capture.idle_timeout must be positive", ErrInvalidConfig)
	case c.Tick.Interval <= 0:
		return fmt.Errorf("%w: tick.interval must be positive", ErrInvalidConfig)
	case c.Analysis.StableWindow < 2:
		return fmt.Errorf("%w: analysis.stable_window must be at least 2", ErrInvalidConfig)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}
	if c.Serial.BufferSize == 0 {
		c.Serial.BufferSize = def.Serial.BufferSize
	}

	if c.Tick.Interval == 0 {
		c.Tick.Interval = def.Tick.Interval
	}
	if c.Tick.MaxLines == 0 {
		c.Tick.MaxLines = def.Tick.MaxLines
	}

	if c.Filter.Alpha == 0 {
		c.Filter.Alpha = def.Filter.Alpha
	}

	if c.Trials.Path == "" {
		c.Trials.Path = def.Trials.Path
	}
	if c.Trials.MaxTrials == 0 {
		c.Trials.MaxTrials = def.Trials.MaxTrials
	}
	if c.Trials.MaxSamples == 0 {
		c.Trials.MaxSamples = def.Trials.MaxSamples
	}
	if c.Trials.RecordDuration == 0 {
		c.Trials.RecordDuration = def.Trials.RecordDuration
	}

	if c.Capture.Dir == "" {
		c.Capture.Dir = def.Capture.Dir
	}
	if c.Capture.IdleTimeout == 0 {
		c.Capture.IdleTimeout = def.Capture.IdleTimeout
	}

	if c.Analysis.MinStep == 0 {
		c.Analysis.MinStep = def.Analysis.MinStep
	}
	if c.Analysis.StableWindow == 0 {
		c.Analysis.StableWindow = def.Analysis.StableWindow
	}
	if c.Analysis.StableStd == 0 {
		c.Analysis.StableStd = def.Analysis.StableStd
	}
	// settle_band 0 disables band settling time and is kept as written

	if c.Catalog.Path == "" {
		c.Catalog.Path = def.Catalog.Path
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.Period == 0 {
		c.Mock.Period = def.Mock.Period
	}
	if c.Mock.StepSamples == 0 {
		c.Mock.StepSamples = def.Mock.StepSamples
	}
	if c.Mock.NaturalFreq == 0 {
		c.Mock.NaturalFreq = def.Mock.NaturalFreq
	}
	if c.Mock.Damping == 0 {
		c.Mock.Damping = def.Mock.Damping
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
