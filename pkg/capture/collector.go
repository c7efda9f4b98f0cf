// Package capture collects framed (time, value) captures delimited by
// stream sentinels and persists each one as a two-column text file.
package capture

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/itohio/demolink/pkg/config"
)

var (
	// ErrPersistence is returned when a capture file cannot be written.
	ErrPersistence = errors.New("capture persistence failed")
	// ErrEmptyCapture is returned when a capture holds no points.
	ErrEmptyCapture = errors.New("capture is empty")
	// ErrNothingToRetry is returned by Retry when no failed capture is held.
	ErrNothingToRetry = errors.New("no capture pending retry")
)

// State of the collector.
type State int

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	if s == Collecting {
		return "collecting"
	}
	return "idle"
}

// Reason a capture was finalized.
type Reason int

const (
	ReasonEnd Reason = iota
	ReasonIdleTimeout
)

func (r Reason) String() string {
	if r == ReasonIdleTimeout {
		return "idle-timeout"
	}
	return "end"
}

// Capture is one finalized, persisted capture.
type Capture struct {
	Path       string
	Points     []Point
	StartedAt  time.Time
	FinishedAt time.Time
	Reason     Reason
}

// Collector buffers pairs between a start and an end sentinel. A capture is
// also finalized when no pair arrives for idle_timeout. It is not safe for
// concurrent use.
type Collector struct {
	dir   string
	idle  time.Duration
	clock clock.Clock

	state      State
	points     []Point
	startedAt  time.Time
	lastSample time.Time

	pending *Capture
}

// NewCollector creates an idle collector writing into cfg.Dir.
func NewCollector(cfg config.CaptureConfig, clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{
		dir:   cfg.Dir,
		idle:  cfg.IdleTimeout,
		clock: clk,
	}
}

// Start begins a new capture. A capture already in progress is discarded
// without being written.
func (c *Collector) Start() {
	if c.state == Collecting {
		log.Warn().Int("points", len(c.points)).Msg("capture restarted, discarding partial capture")
	}

	now := c.clock.Now()
	c.state = Collecting
	c.points = c.points[:0]
	c.startedAt = now
	c.lastSample = now

	log.Debug().Msg("capture started")
}

// Add appends a pair to the capture in progress. It reports false when idle.
func (c *Collector) Add(t, value float64) bool {
	if c.state != Collecting {
		return false
	}
	c.points = append(c.points, Point{Time: t, Value: value})
	c.lastSample = c.clock.Now()
	return true
}

// End finalizes the capture in progress. It is a no-op while idle.
func (c *Collector) End() (*Capture, error) {
	if c.state != Collecting {
		return nil, nil
	}
	return c.finalize(ReasonEnd)
}

// Tick finalizes the capture in progress once idle_timeout has passed since
// the last pair (or the start sentinel).
func (c *Collector) Tick() (*Capture, error) {
	if c.state != Collecting {
		return nil, nil
	}
	if c.clock.Since(c.lastSample) < c.idle {
		return nil, nil
	}
	return c.finalize(ReasonIdleTimeout)
}

// Abort discards the capture in progress without writing it.
func (c *Collector) Abort() {
	if c.state == Collecting {
		log.Info().Int("points", len(c.points)).Msg("capture aborted")
	}
	c.state = Idle
	c.points = c.points[:0]
}

// Retry attempts once more to write a capture whose first write failed. The
// capture is released whether or not the retry succeeds.
func (c *Collector) Retry() (*Capture, error) {
	capt := c.pending
	if capt == nil {
		return nil, ErrNothingToRetry
	}
	c.pending = nil

	if err := c.persist(capt); err != nil {
		log.Error().Err(err).Msg("capture retry failed, capture discarded")
		return nil, err
	}
	return capt, nil
}

// State returns the collector state.
func (c *Collector) State() State {
	return c.state
}

// Len returns the number of pairs in the capture in progress.
func (c *Collector) Len() int {
	return len(c.points)
}

// Pending reports whether a failed capture is held for Retry.
func (c *Collector) Pending() bool {
	return c.pending != nil
}

// Dir returns the directory captures are written to.
func (c *Collector) Dir() string {
	return c.dir
}

func (c *Collector) finalize(reason Reason) (*Capture, error) {
	c.state = Idle

	if len(c.points) == 0 {
		log.Info().Stringer("reason", reason).Msg("capture finished empty, nothing written")
		return nil, nil
	}

	points := make([]Point, len(c.points))
	copy(points, c.points)
	c.points = c.points[:0]

	capt := &Capture{
		Points:     points,
		StartedAt:  c.startedAt,
		FinishedAt: c.clock.Now(),
		Reason:     reason,
	}

	if err := c.persist(capt); err != nil {
		if c.pending != nil {
			log.Warn().
				Int("points", len(c.pending.Points)).
				Time("started", c.pending.StartedAt).
				Msg("unretried capture discarded")
		}
		c.pending = capt
		log.Error().Err(err).Int("points", len(points)).Msg("failed to save capture")
		return nil, err
	}
	return capt, nil
}

func (c *Collector) persist(capt *Capture) error {
	path, err := WriteFile(c.dir, capt.StartedAt, capt.Points)
	if err != nil {
		return err
	}
	capt.Path = path

	log.Info().
		Str("path", path).
		Int("points", len(capt.Points)).
		Stringer("reason", capt.Reason).
		Msg("capture saved")
	return nil
}
