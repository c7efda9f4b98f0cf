// Package pipeline ties the link, decoder, conditioner, trial recorder and
// capture collector into one tick-driven loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/config"
	"github.com/itohio/demolink/pkg/frame"
	"github.com/itohio/demolink/pkg/link"
	"github.com/itohio/demolink/pkg/sample"
	"github.com/itohio/demolink/pkg/trial"
)

// Catalog indexes persisted trials and captures. *catalog.Catalog
// implements it.
type Catalog interface {
	RecordTrial(logPath string, t *trial.Trial) error
	RecordCapture(c *capture.Capture) error
	ClearTrials(logPath string) (int64, error)
	MoveTrials(from, to string) (int64, error)
}

// Stats counts decoded lines by kind.
type Stats struct {
	Lines        uint64
	Scalars      uint64
	Pairs        uint64
	Sentinels    uint64
	Unrecognized uint64
}

// Status is a snapshot of the pipeline.
type Status struct {
	Trial        trial.Status
	Capture      capture.State
	CapturePairs int
	Filtered     float64
	Stats        Stats
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock used for time bases and timeouts.
func WithClock(clk clock.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clk
	}
}

// WithCatalog records every persisted trial and capture in c.
func WithCatalog(c Catalog) Option {
	return func(p *Pipeline) {
		p.catalog = c
	}
}

// Pipeline owns the link for its lifetime. All state is advanced by Tick;
// the other methods may be called from any goroutine.
type Pipeline struct {
	cfg     *config.Config
	link    link.Link
	clock   clock.Clock
	catalog Catalog

	mu       sync.Mutex
	cond     *sample.Conditioner
	recorder *trial.Recorder
	capture  *capture.Collector
	latest   sample.Sample
	fresh    bool // A scalar arrived during the current tick
	stats    Stats

	cbMu             sync.RWMutex
	sampleCallbacks  []func(sample.Sample)
	trialCallbacks   []func(*trial.Trial)
	captureCallbacks []func(*capture.Capture)
}

// New creates a pipeline reading from l.
func New(cfg *config.Config, l link.Link, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:  cfg,
		link: l,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clock.New()
	}

	rec, err := trial.NewRecorder(cfg.Trials, p.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}

	p.cond = sample.NewConditioner(cfg.Filter)
	p.recorder = rec
	p.capture = capture.NewCollector(cfg.Capture, p.clock)

	return p, nil
}

// OnSample registers a callback for every conditioned scalar sample.
func (p *Pipeline) OnSample(cb func(sample.Sample)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.sampleCallbacks = append(p.sampleCallbacks, cb)
}

// OnTrial registers a callback for every persisted trial.
func (p *Pipeline) OnTrial(cb func(*trial.Trial)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.trialCallbacks = append(p.trialCallbacks, cb)
}

// OnCapture registers a callback for every persisted capture.
func (p *Pipeline) OnCapture(cb func(*capture.Capture)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.captureCallbacks = append(p.captureCallbacks, cb)
}

// events collects what a tick produced so callbacks run without p.mu held.
type events struct {
	samples  []sample.Sample
	trials   []*trial.Trial
	captures []*capture.Capture
}

// Tick polls at most tick.max_lines lines, dispatches them in order and
// advances the recorder and collector timers. Lines received before a link
// failure are still processed; the failure is then returned wrapping
// link.ErrLinkUnavailable. Persistence failures are returned too, the
// affected record being held for Retry.
func (p *Pipeline) Tick() error {
	lines, linkErr := p.link.Poll(p.cfg.Tick.MaxLines)

	p.mu.Lock()
	var ev events
	var errs []error

	for _, line := range lines {
		if err := p.dispatch(line, &ev); err != nil {
			errs = append(errs, err)
		}
	}

	if p.fresh {
		p.recorder.Add(p.latest.Filtered)
		p.fresh = false
	}

	if t, err := p.recorder.Tick(); err != nil {
		errs = append(errs, err)
	} else if t != nil {
		ev.trials = append(ev.trials, t)
	}

	if c, err := p.capture.Tick(); err != nil {
		errs = append(errs, err)
	} else if c != nil {
		ev.captures = append(ev.captures, c)
	}
	p.mu.Unlock()

	p.index(&ev)
	p.notify(&ev)

	if linkErr != nil {
		if !errors.Is(linkErr, link.ErrLinkUnavailable) {
			linkErr = fmt.Errorf("%w: %v", link.ErrLinkUnavailable, linkErr)
		}
		errs = append(errs, linkErr)
	}
	return errors.Join(errs...)
}

// dispatch routes one line. Must be called with p.mu held.
func (p *Pipeline) dispatch(line string, ev *events) error {
	p.stats.Lines++

	fr := frame.Decode(line)
	switch fr.Kind {
	case frame.Scalar:
		p.stats.Scalars++
		p.latest = p.cond.Apply(fr.Value, p.clock.Now())
		p.fresh = true
		ev.samples = append(ev.samples, p.latest)

	case frame.Pair:
		p.stats.Pairs++
		if !p.capture.Add(fr.Time, fr.Value) {
			log.Debug().Str("line", line).Msg("pair outside capture ignored")
		}

	case frame.StreamStart:
		p.stats.Sentinels++
		p.capture.Start()

	case frame.StreamEnd:
		p.stats.Sentinels++
		c, err := p.capture.End()
		if err != nil {
			return err
		}
		if c != nil {
			ev.captures = append(ev.captures, c)
		}

	default:
		p.stats.Unrecognized++
		log.Debug().Str("line", line).Msg("unrecognized line dropped")
	}
	return nil
}

// index records persisted items in the catalog. Catalog failures are logged
// only; the files are already safe.
func (p *Pipeline) index(ev *events) {
	if p.catalog == nil {
		return
	}
	for _, t := range ev.trials {
		if t.Rotated != "" {
			if _, err := p.catalog.MoveTrials(p.cfg.Trials.Path, t.Rotated); err != nil {
				log.Warn().Err(err).Str("backup", t.Rotated).Msg("failed to move catalogued trials to backup")
			}
		}
		if err := p.catalog.RecordTrial(p.cfg.Trials.Path, t); err != nil {
			log.Warn().Err(err).Int("trial", t.Index).Msg("failed to catalog trial")
		}
	}
	for _, c := range ev.captures {
		if err := p.catalog.RecordCapture(c); err != nil {
			log.Warn().Err(err).Str("path", c.Path).Msg("failed to catalog capture")
		}
	}
}

func (p *Pipeline) notify(ev *events) {
	if len(ev.samples) == 0 && len(ev.trials) == 0 && len(ev.captures) == 0 {
		return
	}

	p.cbMu.RLock()
	sampleCallbacks := make([]func(sample.Sample), len(p.sampleCallbacks))
	copy(sampleCallbacks, p.sampleCallbacks)
	trialCallbacks := make([]func(*trial.Trial), len(p.trialCallbacks))
	copy(trialCallbacks, p.trialCallbacks)
	captureCallbacks := make([]func(*capture.Capture), len(p.captureCallbacks))
	copy(captureCallbacks, p.captureCallbacks)
	p.cbMu.RUnlock()

	for _, s := range ev.samples {
		for _, cb := range sampleCallbacks {
			cb(s)
		}
	}
	for _, t := range ev.trials {
		for _, cb := range trialCallbacks {
			cb(t)
		}
	}
	for _, c := range ev.captures {
		for _, cb := range captureCallbacks {
			cb(c)
		}
	}
}

// Run ticks every tick.interval until ctx is done or the link fails.
// Persistence failures are logged and the loop continues.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.cfg.Tick.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := p.Tick()
			if err == nil {
				continue
			}
			if errors.Is(err, link.ErrLinkUnavailable) {
				return err
			}
			log.Error().Err(err).Msg("tick failed")
		}
	}
}

// Arm starts recording a trial.
func (p *Pipeline) Arm() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorder.Arm()
}

// Clear truncates the trial log, resets the trial index and removes the
// log's catalog entries.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	err := p.recorder.Clear()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if p.catalog != nil {
		if _, err := p.catalog.ClearTrials(p.cfg.Trials.Path); err != nil {
			log.Warn().Err(err).Msg("failed to clear catalogued trials")
		}
	}
	return nil
}

// Retry attempts once more to persist a trial or capture whose write failed.
func (p *Pipeline) Retry() error {
	p.mu.Lock()
	var ev events
	var errs []error

	t, err := p.recorder.Retry()
	switch {
	case err == nil:
		ev.trials = append(ev.trials, t)
	case !errors.Is(err, trial.ErrNothingToRetry):
		errs = append(errs, err)
	}

	c, err := p.capture.Retry()
	switch {
	case err == nil:
		ev.captures = append(ev.captures, c)
	case !errors.Is(err, capture.ErrNothingToRetry):
		errs = append(errs, err)
	}
	p.mu.Unlock()

	p.index(&ev)
	p.notify(&ev)

	return errors.Join(errs...)
}

// Restart discards buffered link input and resets the filter and its time
// base, as when the link is resumed.
func (p *Pipeline) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cond.Reset()
	p.fresh = false

	if err := p.link.ResetInput(); err != nil {
		return err
	}
	log.Debug().Msg("pipeline restarted")
	return nil
}

// NotifyModeChanged must be called after the controller mode is switched.
// It resets the filter and discards any capture in progress.
func (p *Pipeline) NotifyModeChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cond.Reset()
	p.fresh = false
	p.capture.Abort()
}

// SetMode writes the mode byte to the controller and notifies the pipeline.
func (p *Pipeline) SetMode(mode byte) error {
	if err := p.link.Write([]byte{mode}); err != nil {
		return err
	}
	p.NotifyModeChanged()
	return nil
}

// Abort discards the capture in progress without writing it.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capture.Abort()
}

// Status returns a snapshot of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Trial:        p.recorder.Status(),
		Capture:      p.capture.State(),
		CapturePairs: p.capture.Len(),
		Filtered:     p.cond.Value(),
		Stats:        p.stats,
	}
}

// Close releases the link.
func (p *Pipeline) Close() error {
	return p.link.Close()
}
