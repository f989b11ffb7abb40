package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/airpi/airpi/internal/averaging"
	"github.com/airpi/airpi/pkg/types"
)

const (
	// DefaultLEDHold is how long a light stays on after a dispatch.
	DefaultLEDHold = time.Second

	cadenceEarlySlack = 10 * time.Millisecond
	cadenceLateSlack  = 20 * time.Millisecond
	warmupPause       = 200 * time.Millisecond
)

// State is the engine's position in the cycle.
type State string

const (
	StateIdle        State = "idle"
	StateSampling    State = "sampling"
	StateDispatching State = "dispatching"
	StateCooling     State = "cooling"
	StateStopped     State = "stopped"
)

// Sink is an output plus its per-output options.
type Sink struct {
	Output    types.Output
	Calibrate bool // receive the calibrated batch instead of the raw one
	Metadata  bool // receive run metadata at startup
}

// Options configures an Engine. SampleInterval is required.
type Options struct {
	SampleInterval time.Duration
	// AverageWindow is the number of cycles per averaged dispatch. Zero
	// disables averaging; otherwise it must be at least 2.
	AverageWindow int
	// StopAfter stops the run after this many cycles. Zero means unlimited.
	StopAfter int
	// Warmup reads every sensor repeatedly for this long before the first
	// cycle, discarding the values.
	Warmup time.Duration
	// WaitToStart delays the first cycle to the top of the next minute,
	// less the warm-up.
	WaitToStart bool

	SuccessLight  types.IndicatorLight
	FailureLight  types.IndicatorLight
	SuccessPolicy types.Policy
	FailurePolicy types.Policy
	LEDHold       time.Duration

	Calibrator types.Calibrator
	Notifiers  []types.Notifier

	// PrintErrors echoes per-cycle failure messages to ErrOut.
	PrintErrors bool
	ErrOut      io.Writer

	Clock clock.Clock
}

// slot is one configured sensor, classified once at construction.
type slot struct {
	id       string
	scalar   types.ScalarSensor
	location types.LocationSensor
}

// Engine drives sampling cycles. Run and Stop may be called from different
// goroutines; Step must not be called concurrently with Run.
type Engine struct {
	opts     Options
	clock    clock.Clock
	slots    []slot
	location types.LocationSensor
	sinks    []Sink

	acc         *averaging.Accumulator
	windowCount int
	episode     FailureEpisode
	success     *light
	failure     *light
	summary     Summary

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	stopRequested bool
	shutdownOnce  sync.Once
}

// New classifies sensors into scalar and location roles and validates opts.
// At most one location sensor is allowed.
func New(sensors []types.Sensor, sinks []Sink, opts Options) (*Engine, error) {
	if opts.SampleInterval <= 0 {
		return nil, errors.New("engine: sample interval must be positive")
	}
	if opts.AverageWindow == 1 || opts.AverageWindow < 0 {
		return nil, fmt.Errorf("engine: average window %d: must be 0 (off) or at least 2", opts.AverageWindow)
	}
	if opts.StopAfter < 0 {
		return nil, fmt.Errorf("engine: stop-after %d: must not be negative", opts.StopAfter)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}

	e := &Engine{
		opts:    opts,
		clock:   opts.Clock,
		sinks:   sinks,
		acc:     averaging.New(),
		success: newLight(opts.SuccessLight, opts.SuccessPolicy),
		failure: newLight(opts.FailureLight, opts.FailurePolicy),
		state:   StateIdle,
	}
	for _, s := range sensors {
		info := s.Info()
		sl := slot{id: info.Sensor + "-" + info.Name}
		switch v := s.(type) {
		case types.LocationSensor:
			if e.location != nil {
				return nil, fmt.Errorf("engine: %s: only one location sensor is supported", sl.id)
			}
			e.location = v
			sl.location = v
		case types.ScalarSensor:
			sl.scalar = v
		default:
			return nil, fmt.Errorf("engine: %s: sensor implements neither a scalar nor a location read", sl.id)
		}
		e.slots = append(e.slots, sl)
	}
	return e, nil
}

// State returns the current cycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		slog.Debug("engine: state", "from", prev, "to", s)
	}
}

// Summary returns the run statistics so far.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary
}

// Stop requests a graceful stop. It is safe to call from a signal handler
// goroutine, more than once, and before Run.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
	if e.cancel != nil {
		e.cancel()
	}
}

// WriteMetadata sends meta to every sink that asked for it. Failures are
// logged and returned combined; they do not prevent the run.
func (e *Engine) WriteMetadata(ctx context.Context, meta types.Metadata) error {
	var errs error
	for _, s := range e.sinks {
		if !s.Metadata {
			continue
		}
		mw, ok := s.Output.(types.MetadataWriter)
		if !ok {
			continue
		}
		if err := mw.WriteMetadata(ctx, meta); err != nil {
			slog.Warn("engine: metadata write failed", "output", s.Output.Name(), "err", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Output.Name(), err))
		}
	}
	return errs
}

// Run blocks until ctx is cancelled, Stop is called or the stop-after limit
// is reached. It always returns the run summary; the error reports shutdown
// problems only. Cycle-level failures never end the run.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	stopped := e.stopRequested
	e.summary.Start = e.clock.Now()
	e.mu.Unlock()

	if !stopped {
		e.prepare(ctx)
		e.loop(ctx)
	}
	return e.shutdown()
}

func (e *Engine) loop(ctx context.Context) {
	interval := e.opts.SampleInterval
	var last time.Time
	for ctx.Err() == nil {
		e.setState(StateIdle)
		now := e.clock.Now()
		start, late := due(now.Sub(last), interval, last.IsZero())
		if start {
			if late {
				slog.Warn("engine: can't keep up, sample interval is too short",
					"interval", interval, "since_last", now.Sub(last))
			}
			last = now
			e.Step(ctx)
			if e.opts.StopAfter > 0 && e.Summary().Samples >= e.opts.StopAfter {
				slog.Info("engine: reached requested number of samples, stopping run", "samples", e.opts.StopAfter)
				return
			}
		}
		e.setState(StateCooling)
		if !e.sleep(ctx, interval-e.clock.Since(last)) {
			return
		}
	}
}

// due reports whether a cycle should start now that since has passed since
// the previous start, and whether it starts late. A cycle may start up to
// cadenceEarlySlack early; it is late beyond interval+cadenceLateSlack. The
// first cycle is never late.
func due(since, interval time.Duration, first bool) (start, late bool) {
	if first {
		return true, false
	}
	if since <= interval-cadenceEarlySlack {
		return false, false
	}
	return true, since > interval+cadenceLateSlack
}

// sleep waits for d or until ctx is done. It reports whether the run should
// continue.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := e.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shutdown runs once: stop the location controller, turn lights off and
// report the summary.
func (e *Engine) shutdown() (Summary, error) {
	var errs error
	e.shutdownOnce.Do(func() {
		slog.Info("engine: sampling stopping")
		if e.location != nil {
			if err := e.location.Stop(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("engine: stop location controller: %w", err))
			}
		}
		errs = multierr.Append(errs, e.success.off())
		errs = multierr.Append(errs, e.failure.off())

		e.mu.Lock()
		e.state = StateStopped
		e.summary.End = e.clock.Now()
		e.mu.Unlock()

		sum := e.Summary()
		slog.Info("engine: "+sum.String(), "samples", sum.Samples, "duration", sum.Duration())
	})
	return e.Summary(), errs
}
