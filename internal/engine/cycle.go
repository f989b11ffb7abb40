package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airpi/airpi/pkg/types"
)

// Cycle records what happened in one Step.
type Cycle struct {
	Readings      []types.Reading // raw readings in sensor order
	FailedSensors []string        // identities of sensors that failed, location included
	SensorFailure bool            // any scalar reading was nil, NaN or zero
	Dispatched    bool            // a batch was handed to outputs
	OutputFailure bool            // at least one output failed
	Batch         *types.Batch    // the raw batch dispatched, nil when not dispatched
}

// Step runs one complete cycle: sample, average, dispatch and signal. It is
// exported so callers can drive cycles without the cadence loop.
func (e *Engine) Step(ctx context.Context) Cycle {
	e.setState(StateSampling)
	start := e.clock.Now()
	c := e.sample(ctx)

	if len(c.FailedSensors) > 0 {
		msg := "Failed to obtain data from these sensors: " + strings.Join(c.FailedSensors, ", ")
		slog.Error("engine: "+msg, "sensors", c.FailedSensors)
		if e.opts.PrintErrors {
			fmt.Fprintln(e.opts.ErrOut, msg)
		}
	} else {
		slog.Info("engine: data successfully obtained from all sensors")
	}
	if c.SensorFailure && e.episode.trip(types.ReasonSensor) {
		e.notify(ctx, types.ReasonSensor)
	}

	if ctx.Err() != nil {
		return c
	}

	readings, ready := e.windowed(c.Readings)
	if ready {
		batch := &types.Batch{Time: start, Readings: readings}
		c.Batch = batch
		c.Dispatched = true
		e.setState(StateDispatching)
		c.OutputFailure = !e.dispatch(ctx, batch)
		e.signal(ctx, c.OutputFailure)
	}

	// A cycle that dispatched nothing says nothing about the outputs, so it
	// only counts as a full success when no output episode is open.
	outputsOK := !c.OutputFailure && (c.Dispatched || !e.episode.Active(types.ReasonOutput))
	if !c.SensorFailure && outputsOK {
		e.episode.reset()
	}

	e.mu.Lock()
	e.summary.Samples++
	e.mu.Unlock()
	return c
}

// sample reads every sensor in configured order.
func (e *Engine) sample(ctx context.Context) Cycle {
	var c Cycle
	for _, s := range e.slots {
		if s.location != nil {
			r, err := readLocation(ctx, s.location)
			if err != nil {
				slog.Warn("engine: location read failed", "sensor", s.id, "err", err)
				c.FailedSensors = append(c.FailedSensors, s.id)
				continue
			}
			c.Readings = append(c.Readings, r)
			continue
		}

		r, err := readScalar(ctx, s.scalar)
		if err != nil {
			slog.Debug("engine: sensor read failed", "sensor", s.id, "err", err)
		}
		if r.Failed() {
			c.SensorFailure = true
			c.FailedSensors = append(c.FailedSensors, s.id)
		}
		c.Readings = append(c.Readings, r)
	}
	return c
}

// windowed returns the readings to dispatch this cycle and whether to
// dispatch at all. Without averaging every cycle dispatches its raw readings.
// With averaging, readings accumulate until the window fills; the flushing
// cycle's location reading rides along with the averages.
func (e *Engine) windowed(readings []types.Reading) ([]types.Reading, bool) {
	if e.opts.AverageWindow == 0 {
		return readings, true
	}
	e.acc.RecordBatch(readings)
	e.windowCount++
	if e.windowCount < e.opts.AverageWindow {
		return nil, false
	}
	e.windowCount = 0
	out := e.acc.Flush()
	for _, r := range readings {
		if r.IsLocation() {
			out = append(out, r)
		}
	}
	return out, true
}

// dispatch writes batch to every sink. Every sink is attempted regardless of
// earlier failures. It reports whether all of them succeeded.
//
// The calibrator runs on every dispatch, even when no sink takes calibrated
// readings, so its cross-sensor averages track the latest batch.
func (e *Engine) dispatch(ctx context.Context, batch *types.Batch) bool {
	calibrated := batch
	if e.opts.Calibrator != nil {
		calibrated = e.opts.Calibrator.Calibrate(batch)
	}
	ok := true
	for _, s := range e.sinks {
		b := batch
		if s.Calibrate {
			b = calibrated
		}
		if err := writeOutput(ctx, s.Output, b); err != nil {
			ok = false
			slog.Error("engine: output failed", "output", s.Output.Name(), "err", err)
		}
	}
	if ok {
		slog.Info("engine: data output in all requested formats")
		return true
	}

	msg := "Failed to output in all requested formats."
	if e.opts.PrintErrors {
		fmt.Fprintln(e.opts.ErrOut, msg)
	}
	if e.episode.trip(types.ReasonOutput) {
		e.notify(ctx, types.ReasonOutput)
	}
	return false
}

// signal lights the success or failure indicator per policy, holds, then
// releases.
func (e *Engine) signal(ctx context.Context, failed bool) {
	if failed {
		e.failure.signal()
	} else {
		e.success.signal()
	}
	if e.opts.LEDHold > 0 {
		e.sleep(ctx, e.opts.LEDHold)
	}
	e.success.release()
	e.failure.release()
}

func (e *Engine) notify(ctx context.Context, reason types.Reason) {
	for _, n := range e.opts.Notifiers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("engine: notifier panicked", "reason", reason, "panic", r)
				}
			}()
			n.Notify(ctx, reason)
		}()
	}
}

func readScalar(ctx context.Context, s types.ScalarSensor) (r types.Reading, err error) {
	info := s.Info()
	r = types.Reading{
		Sensor:      info.Sensor,
		Name:        info.Name,
		Unit:        info.Unit,
		Symbol:      info.Symbol,
		Description: info.Description,
		Kind:        info.Kind,
		ReadingType: string(info.Kind),
	}
	if r.Kind == "" {
		r.Kind = types.KindSample
		r.ReadingType = string(types.KindSample)
	}
	defer func() {
		if p := recover(); p != nil {
			r.Value = nil
			err = fmt.Errorf("sensor panicked: %v", p)
		}
	}()
	v, err := s.Read(ctx)
	if err != nil {
		return r, err
	}
	r.Value = types.Float(v)
	return r, nil
}

func readLocation(ctx context.Context, s types.LocationSensor) (r types.Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("location sensor panicked: %v", p)
		}
	}()
	loc, err := s.ReadLocation(ctx)
	if err != nil {
		return types.Reading{}, err
	}
	info := s.Info()
	return types.Reading{
		Sensor:      info.Sensor,
		Name:        info.Name,
		Description: info.Description,
		ReadingType: string(types.KindSample),
		Location:    &loc,
	}, nil
}

func writeOutput(ctx context.Context, o types.Output, b *types.Batch) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("output panicked: %v", p)
		}
	}()
	return o.Write(ctx, b)
}
