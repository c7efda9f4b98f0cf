// Package trial records fixed-duration windows of conditioned samples into
// an append-only trial log.
package trial

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/itohio/demolink/pkg/config"
)

var (
	// ErrCapacityExceeded is returned when arming with max_trials already recorded.
	ErrCapacityExceeded = errors.New("trial capacity exceeded")
	// ErrAlreadyArmed is returned when arming while a trial is recording.
	ErrAlreadyArmed = errors.New("trial already armed")
	// ErrPersistence is returned when the trial log cannot be written.
	ErrPersistence = errors.New("trial persistence failed")
	// ErrNothingToRetry is returned by Retry when no failed trial is held.
	ErrNothingToRetry = errors.New("no trial pending retry")
)

// State of the recorder.
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Trial is one finalized recording window.
type Trial struct {
	Index      int
	Values     []float64
	StartedAt  time.Time
	FinishedAt time.Time
	Rotated    string // Backup path the previous round was moved to, if any
}

// Status is a snapshot of recorder progress.
type Status struct {
	State     State
	Index     int
	MaxTrials int
	Samples   int
	Remaining time.Duration
	Pending   bool // A failed trial is held for Retry
}

// Recorder captures conditioned samples for record_duration after Arm and
// persists them as one trial. It is not safe for concurrent use.
type Recorder struct {
	cfg   config.TrialsConfig
	log   *Log
	clock clock.Clock

	state   State
	index   int
	armedAt time.Time
	values  []float64

	pending *Trial
}

// NewRecorder creates a recorder over the log at cfg.Path. The trial index
// is the number of logged trials, or 0 when the log is already full.
func NewRecorder(cfg config.TrialsConfig, clk clock.Clock) (*Recorder, error) {
	if clk == nil {
		clk = clock.New()
	}

	l := NewLog(cfg.Path)
	count, err := l.Count()
	if err != nil {
		return nil, err
	}

	index := count
	if count >= cfg.MaxTrials {
		index = 0
		log.Info().Str("path", cfg.Path).Int("trials", count).Msg("trial log full, next trial starts a new round")
	}

	return &Recorder{
		cfg:   cfg,
		log:   l,
		clock: clk,
		index: index,
	}, nil
}

// Arm starts a new recording window.
func (r *Recorder) Arm() error {
	if r.state == Armed {
		return ErrAlreadyArmed
	}
	if r.index >= r.cfg.MaxTrials {
		return fmt.Errorf("%w: %d of %d trials recorded", ErrCapacityExceeded, r.index, r.cfg.MaxTrials)
	}
	if r.pending != nil {
		log.Warn().Int("trial", r.pending.Index).Msg("discarding unsaved trial")
		r.pending = nil
	}

	r.state = Armed
	r.armedAt = r.clock.Now()
	r.values = make([]float64, 0, r.cfg.MaxSamples)

	log.Info().Int("trial", r.index).Dur("duration", r.cfg.RecordDuration).Msg("trial armed")

	return nil
}

// Add records value into the active window. It reports false when the value
// was dropped: not armed, window elapsed, or the trial is full.
func (r *Recorder) Add(value float64) bool {
	if r.state != Armed {
		return false
	}
	if r.clock.Since(r.armedAt) >= r.cfg.RecordDuration {
		return false
	}
	if len(r.values) >= r.cfg.MaxSamples {
		return false
	}
	r.values = append(r.values, value)
	return true
}

// Tick finalizes the active trial once record_duration has elapsed. It
// returns the persisted trial, or nil while still recording or idle. On a
// persistence failure the trial is held for one Retry.
func (r *Recorder) Tick() (*Trial, error) {
	if r.state != Armed {
		return nil, nil
	}

	now := r.clock.Now()
	if now.Sub(r.armedAt) < r.cfg.RecordDuration {
		return nil, nil
	}

	t := &Trial{
		Index:      r.index,
		Values:     r.values,
		StartedAt:  r.armedAt,
		FinishedAt: now,
	}
	r.state = Idle
	r.values = nil

	if err := r.persist(t); err != nil {
		r.pending = t
		log.Error().Err(err).Int("trial", t.Index).Msg("failed to save trial")
		return nil, err
	}
	return t, nil
}

// Retry attempts once more to persist a trial whose first write failed. The
// trial is released whether or not the retry succeeds.
func (r *Recorder) Retry() (*Trial, error) {
	t := r.pending
	if t == nil {
		return nil, ErrNothingToRetry
	}
	r.pending = nil

	if err := r.persist(t); err != nil {
		log.Error().Err(err).Int("trial", t.Index).Msg("retry failed, trial discarded")
		return nil, err
	}
	return t, nil
}

// Abandon drops the active window without persisting it.
func (r *Recorder) Abandon() {
	if r.state == Armed {
		log.Info().Int("trial", r.index).Msg("trial abandoned")
	}
	r.state = Idle
	r.values = nil
}

// Clear truncates the log and resets the trial index. An active window is
// abandoned.
func (r *Recorder) Clear() error {
	r.Abandon()
	r.pending = nil

	if err := r.log.Clear(); err != nil {
		return err
	}
	r.index = 0

	log.Info().Str("path", r.log.Path()).Msg("trial log cleared")
	return nil
}

// Index returns the index the next trial will be stored under.
func (r *Recorder) Index() int {
	return r.index
}

// State returns the recorder state.
func (r *Recorder) State() State {
	return r.state
}

// Log returns the underlying trial log.
func (r *Recorder) Log() *Log {
	return r.log
}

// Status reports the recorder progress.
func (r *Recorder) Status() Status {
	s := Status{
		State:     r.state,
		Index:     r.index,
		MaxTrials: r.cfg.MaxTrials,
		Samples:   len(r.values),
		Pending:   r.pending != nil,
	}
	if r.state == Armed {
		s.Remaining = r.cfg.RecordDuration - r.clock.Since(r.armedAt)
		if s.Remaining < 0 {
			s.Remaining = 0
		}
	}
	return s
}

func (r *Recorder) persist(t *Trial) error {
	if t.Index == 0 {
		// First trial of a round replaces a full log
		moved, err := r.log.Rotate()
		if err != nil {
			return err
		}
		if moved {
			t.Rotated = r.log.BackupPath()
		}
	}
	if err := r.log.Append(t.Values); err != nil {
		return err
	}
	r.index = t.Index + 1

	log.Info().Int("trial", t.Index).Int("samples", len(t.Values)).Str("path", r.log.Path()).Msg("trial saved")
	return nil
}
