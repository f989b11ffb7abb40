package sensors

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/gpio"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	defaultRainBounce = 300 * time.Millisecond
	edgePoll          = 500 * time.Millisecond
)

// rainGauge counts tipping-bucket pulses on a GPIO pin. Each Read returns
// the tips since the previous Read and starts a new count.
type rainGauge struct {
	scalar
	pin    gpio.PinIn
	bounce time.Duration
	clock  clock.Clock

	count  atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

func newRainGauge(p config.Params, clk clock.Clock) (*rainGauge, error) {
	n, err := p.RequiredInt("pin")
	if err != nil {
		return nil, err
	}
	bounce, err := p.Duration("bounce", defaultRainBounce)
	if err != nil {
		return nil, err
	}
	pin, err := board.Pin(n)
	if err != nil {
		return nil, err
	}
	info := infoFrom(p, types.SensorInfo{
		Sensor:      "RainGauge",
		Name:        "Bucket_tips",
		Unit:        "Tips",
		Symbol:      "tips",
		Description: "Rain gauge bucket tips since the last reading.",
		Kind:        types.KindPulseCount,
	})
	return startRainGauge(pin, info, bounce, clk)
}

func startRainGauge(pin gpio.PinIn, info types.SensorInfo, bounce time.Duration, clk clock.Clock) (*rainGauge, error) {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &rainGauge{
		scalar: scalar{info: info},
		pin:    pin,
		bounce: bounce,
		clock:  clk,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go g.watch(ctx)
	return g, nil
}

func (g *rainGauge) watch(ctx context.Context) {
	defer close(g.done)
	var last time.Time
	for ctx.Err() == nil {
		if !g.pin.WaitForEdge(edgePoll) {
			continue
		}
		now := g.clock.Now()
		if !last.IsZero() && now.Sub(last) < g.bounce {
			continue
		}
		last = now
		g.count.Add(1)
	}
}

func (g *rainGauge) Read(context.Context) (float64, error) {
	return float64(g.count.Swap(0)), nil
}

// Close stops the edge watcher and releases the pin.
func (g *rainGauge) Close() error {
	g.cancel()
	<-g.done
	return g.pin.Halt()
}
