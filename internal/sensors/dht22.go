package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/gpio"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	dhtStartLow  = 2 * time.Millisecond
	dhtListen    = 10 * time.Millisecond
	dhtOneCutoff = 48 * time.Microsecond
	dhtBits      = 40
)

var errDHTChecksum = errors.New("dht22: checksum mismatch")

type dhtSample struct {
	celsius  float64
	humidity float64
}

// dht22Device is one DHT22 on one pin. Its temperature and humidity sensors
// share a single rate-limited reader, since one transfer yields both.
type dht22Device struct {
	pin gpio.PinIO
	*bounded[dhtSample]
}

func (b *Builder) dht22On(n int, p config.Params) (*dht22Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.dht[n]; ok {
		return d, nil
	}
	pin, err := board.Pin(n)
	if err != nil {
		return nil, err
	}
	d, err := newDHT22Device(pin, p, b.Clock)
	if err != nil {
		return nil, err
	}
	b.dht[n] = d
	return d, nil
}

func newDHT22Device(pin gpio.PinIO, p config.Params, clk clock.Clock) (*dht22Device, error) {
	timeout, err := p.Duration("timeout", DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	interval, err := p.Duration("min_interval", DefaultMinInterval)
	if err != nil {
		return nil, err
	}
	d := &dht22Device{pin: pin}
	d.bounded = newBounded(d.transfer, timeout, interval, clk)
	return d, nil
}

func (d *dht22Device) transfer(context.Context) (dhtSample, error) {
	highs, err := captureDHT(d.pin)
	if err != nil {
		return dhtSample{}, err
	}
	return decodeDHT(highs)
}

// captureDHT sends the start signal and returns the width of every complete
// high pulse seen on the line while the sensor answers.
func captureDHT(pin gpio.PinIO) ([]time.Duration, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("dht22: start signal: %w", err)
	}
	time.Sleep(dhtStartLow)
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("dht22: listen: %w", err)
	}

	highs := make([]time.Duration, 0, dhtBits+2)
	level := pin.Read()
	start := time.Now()
	edge := start
	for now := start; now.Sub(start) < dhtListen; now = time.Now() {
		l := pin.Read()
		if l == level {
			continue
		}
		if level == gpio.High {
			highs = append(highs, now.Sub(edge))
		}
		level, edge = l, now
	}
	return highs, nil
}

// decodeDHT turns high-pulse widths into a reading. The last 40 pulses carry
// the data; anything before them is the sensor's response preamble.
func decodeDHT(highs []time.Duration) (dhtSample, error) {
	if len(highs) < dhtBits {
		return dhtSample{}, fmt.Errorf("dht22: got %d bits, want %d", len(highs), dhtBits)
	}
	var data [5]byte
	for i, w := range highs[len(highs)-dhtBits:] {
		data[i/8] <<= 1
		if w > dhtOneCutoff {
			data[i/8] |= 1
		}
	}
	if data[0]+data[1]+data[2]+data[3] != data[4] {
		return dhtSample{}, errDHTChecksum
	}
	s := dhtSample{
		humidity: float64(uint16(data[0])<<8|uint16(data[1])) / 10,
		celsius:  float64(uint16(data[2]&0x7F)<<8|uint16(data[3])) / 10,
	}
	if data[2]&0x80 != 0 {
		s.celsius = -s.celsius
	}
	return s, nil
}

type dht22Sensor struct {
	scalar
	dev      *dht22Device
	humidity bool
}

func (b *Builder) newDHT22(p config.Params) (*dht22Sensor, error) {
	m, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	n, err := p.RequiredInt("pin")
	if err != nil {
		return nil, err
	}
	if m != "temp" && m != "humidity" {
		return nil, fmt.Errorf("unknown measurement %q (want temp or humidity)", m)
	}
	dev, err := b.dht22On(n, p)
	if err != nil {
		return nil, err
	}
	return newDHT22Sensor(dev, m, p)
}

func newDHT22Sensor(dev *dht22Device, m string, p config.Params) (*dht22Sensor, error) {
	s := &dht22Sensor{dev: dev}
	def := types.SensorInfo{Sensor: "DHT22"}
	switch m {
	case "temp":
		unit, symbol, err := temperatureInfo(p)
		if err != nil {
			return nil, err
		}
		def.Name, def.Unit, def.Symbol = "Temperature-DHT", unit, symbol
		def.Description = "Temperature from the DHT22."
	case "humidity":
		s.humidity = true
		def.Name, def.Unit, def.Symbol = "Relative_Humidity", "% Relative Humidity", "%"
		def.Description = "Relative humidity from the DHT22."
	default:
		return nil, fmt.Errorf("unknown measurement %q (want temp or humidity)", m)
	}
	s.info = infoFrom(p, def)
	s.info.Unit, s.info.Symbol = def.Unit, def.Symbol
	return s, nil
}

func (s *dht22Sensor) Read(ctx context.Context) (float64, error) {
	v, err := s.dev.Read(ctx)
	if err != nil {
		return 0, err
	}
	if s.humidity {
		return v.humidity, nil
	}
	return celsiusTo(s.info.Unit, v.celsius), nil
}
