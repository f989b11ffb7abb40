package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/airpi/airpi/pkg/types"
)

// fakeSensor returns values[i] on the i-th read, repeating the last one.
// A nil entry makes the read fail.
type fakeSensor struct {
	info   types.SensorInfo
	values []*float64
	reads  int
}

func newFakeSensor(sensor, name string, values ...*float64) *fakeSensor {
	return &fakeSensor{
		info:   types.SensorInfo{Sensor: sensor, Name: name, Unit: "Celsius", Symbol: "C", Kind: types.KindSample},
		values: values,
	}
}

func (f *fakeSensor) Info() types.SensorInfo { return f.info }

func (f *fakeSensor) Read(context.Context) (float64, error) {
	i := f.reads
	if i >= len(f.values) {
		i = len(f.values) - 1
	}
	f.reads++
	if f.values[i] == nil {
		return 0, errors.New("no data")
	}
	return *f.values[i], nil
}

type fakeLocation struct {
	loc     types.Location
	err     error
	stopped int
}

func (f *fakeLocation) Info() types.SensorInfo {
	return types.SensorInfo{Sensor: "MTK3339", Name: "Location"}
}
func (f *fakeLocation) ReadLocation(context.Context) (types.Location, error) { return f.loc, f.err }
func (f *fakeLocation) Stop() error                                          { f.stopped++; return nil }

// slowSensor advances a mock clock by step on every read, standing in for a
// sensor that takes that long to answer.
type slowSensor struct {
	mock *clock.Mock
	step time.Duration
}

func (s slowSensor) Info() types.SensorInfo {
	return types.SensorInfo{Sensor: "DHT22", Name: "Temperature", Kind: types.KindSample}
}

func (s slowSensor) Read(context.Context) (float64, error) {
	s.mock.Add(s.step)
	return 21.5, nil
}

// captureLogs routes the default slog logger into a buffer at debug level
// for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

type unknownSensor struct{}

func (unknownSensor) Info() types.SensorInfo { return types.SensorInfo{Sensor: "X", Name: "Y"} }

type panicSensor struct{}

func (panicSensor) Info() types.SensorInfo                { return types.SensorInfo{Sensor: "Bad", Name: "Panic"} }
func (panicSensor) Read(context.Context) (float64, error) { panic("boom") }

// fakeOutput records every batch and fails or panics on demand.
type fakeOutput struct {
	name    string
	failAll bool
	panics  bool
	onWrite func(n int)

	mu      sync.Mutex
	batches []*types.Batch
	meta    []types.Metadata
}

func (f *fakeOutput) Name() string { return f.name }

func (f *fakeOutput) Write(_ context.Context, b *types.Batch) error {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	n := len(f.batches)
	f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite(n)
	}
	if f.panics {
		panic("output exploded")
	}
	if f.failAll {
		return errors.New("write failed")
	}
	return nil
}

func (f *fakeOutput) WriteMetadata(_ context.Context, m types.Metadata) error {
	f.meta = append(f.meta, m)
	return nil
}

func (f *fakeOutput) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeNotifier struct {
	reasons []types.Reason
}

func (f *fakeNotifier) Notify(_ context.Context, r types.Reason) { f.reasons = append(f.reasons, r) }

type fakeLight struct {
	events []string
	lit    bool
}

func (f *fakeLight) On() error  { f.events = append(f.events, "on"); f.lit = true; return nil }
func (f *fakeLight) Off() error { f.events = append(f.events, "off"); f.lit = false; return nil }

func (f *fakeLight) count(ev string) int {
	n := 0
	for _, e := range f.events {
		if e == ev {
			n++
		}
	}
	return n
}

// countingCalibrator doubles every value and counts real computations,
// memoising on batch identity.
type countingCalibrator struct {
	computed int
	lastIn   *types.Batch
	lastOut  *types.Batch
}

func (c *countingCalibrator) Calibrate(b *types.Batch) *types.Batch {
	if b == c.lastIn {
		return c.lastOut
	}
	c.computed++
	out := &types.Batch{Time: b.Time, Readings: make([]types.Reading, len(b.Readings))}
	for i, r := range b.Readings {
		out.Readings[i] = r
		if r.Usable() {
			out.Readings[i].Value = types.Float(*r.Value * 2)
		}
	}
	c.lastIn, c.lastOut = b, out
	return out
}
