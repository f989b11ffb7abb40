package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	mcp3008Channels = 8
	mcp3008Max      = 1023
	mcp3008Clock    = 1 * physic.MegaHertz
	adcReference    = 3.3
)

// mcp3008 is one MCP3008 ADC on one SPI port. All analogue sensors on the
// port share it.
type mcp3008 struct {
	mu   sync.Mutex
	conn conn.Conn
	port io.Closer
}

// read returns the 10-bit single-ended conversion of channel ch.
func (a *mcp3008) read(ch int) (int, error) {
	if ch < 0 || ch >= mcp3008Channels {
		return 0, fmt.Errorf("mcp3008: channel %d out of range", ch)
	}
	w := []byte{0x01, byte(8+ch) << 4, 0x00}
	r := make([]byte, len(w))
	a.mu.Lock()
	err := a.conn.Tx(w, r)
	a.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("mcp3008: channel %d: %w", ch, err)
	}
	return int(r[1]&0x03)<<8 | int(r[2]), nil
}

func (a *mcp3008) Close() error {
	if a.port == nil {
		return nil
	}
	return a.port.Close()
}

// mcp3008On returns the shared ADC on the named SPI port, opening it on
// first use.
func (b *Builder) mcp3008On(name string) (*mcp3008, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.adc[name]; ok {
		return a, nil
	}
	port, err := board.SPI(name)
	if err != nil {
		return nil, err
	}
	c, err := port.Connect(mcp3008Clock, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("mcp3008: connect: %w", err)
	}
	a := &mcp3008{conn: c, port: port}
	b.adc[name] = a
	return a, nil
}

// analogueSensor converts one ADC channel to Ohms, when a pull-up or
// pull-down resistor is configured, or to millivolts otherwise.
type analogueSensor struct {
	scalar
	adc      *mcp3008
	channel  int
	pullUp   float64
	pullDown float64
	supply   float64
}

func (b *Builder) newAnalogue(p config.Params) (*analogueSensor, error) {
	a, err := b.mcp3008On(p.String("spi", ""))
	if err != nil {
		return nil, err
	}
	return newAnalogueSensor(a, p)
}

func newAnalogueSensor(a *mcp3008, p config.Params) (*analogueSensor, error) {
	m, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	ch, err := p.RequiredInt("adc_pin")
	if err != nil {
		return nil, err
	}
	if ch < 0 || ch >= mcp3008Channels {
		return nil, fmt.Errorf("adc_pin %d: must be 0-%d", ch, mcp3008Channels-1)
	}
	s := &analogueSensor{adc: a, channel: ch}
	if s.pullUp, err = p.Float("pull_up", 0); err != nil {
		return nil, err
	}
	if s.pullDown, err = p.Float("pull_down", 0); err != nil {
		return nil, err
	}
	if s.supply, err = p.Float("sensor_voltage", adcReference); err != nil {
		return nil, err
	}
	if s.pullUp > 0 && s.pullDown > 0 {
		return nil, fmt.Errorf("%s: set either pull_up or pull_down, not both", m)
	}

	def := types.SensorInfo{Sensor: "Analogue", Name: m, Unit: "millivolts", Symbol: "mV",
		Description: "An analogue sensor."}
	if s.pullUp > 0 || s.pullDown > 0 {
		def.Unit, def.Symbol = "Ohms", "Ohms"
	}
	s.info = infoFrom(p, def)
	return s, nil
}

var (
	errNoVoltage   = errors.New("no voltage on ADC input, check wiring")
	errFullVoltage = errors.New("full voltage on ADC input, check wiring")
)

func (s *analogueSensor) Read(context.Context) (float64, error) {
	raw, err := s.adc.read(s.channel)
	if err != nil {
		return 0, err
	}
	return s.convert(raw)
}

// convert turns a raw conversion into the sensor's unit. A light-dependent
// resistor may legitimately saturate the input; any other sensor doing so
// is miswired.
func (s *analogueSensor) convert(raw int) (float64, error) {
	switch {
	case raw == 0:
		return 0, fmt.Errorf("%s (channel %d): %w", s.info.Sensor, s.channel, errNoVoltage)
	case raw >= mcp3008Max && s.info.Sensor != "LDR":
		return 0, fmt.Errorf("%s (channel %d): %w", s.info.Sensor, s.channel, errFullVoltage)
	}
	vout := float64(raw) / mcp3008Max * adcReference
	switch {
	case s.pullDown > 0:
		return s.pullDown*s.supply/vout - s.pullDown, nil
	case s.pullUp > 0:
		return s.pullUp / (s.supply/vout - 1), nil
	default:
		return vout * 1000, nil
	}
}
