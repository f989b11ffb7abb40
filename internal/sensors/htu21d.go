package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/i2c"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	htu21dAddr        = 0x40
	htu21dCmdTemp     = 0xF3 // no-hold master
	htu21dCmdHumidity = 0xF5
	htu21dConversion  = 50 * time.Millisecond
)

// htu21dDevice is one HTU21D on one bus. Temperature and humidity sensors on
// the same bus share it; the mutex keeps their command/read pairs apart.
type htu21dDevice struct {
	mu    sync.Mutex
	dev   *i2c.Dev
	bus   i2c.BusCloser
	sleep func(time.Duration)
}

func (d *htu21dDevice) measure(cmd byte) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.Tx([]byte{cmd}, nil); err != nil {
		return 0, fmt.Errorf("htu21d: command %#x: %w", cmd, err)
	}
	d.sleep(htu21dConversion)
	buf := make([]byte, 3)
	if err := d.dev.Tx(nil, buf); err != nil {
		return 0, fmt.Errorf("htu21d: read: %w", err)
	}
	if crc := htu21dCRC(buf[:2]); crc != buf[2] {
		return 0, fmt.Errorf("htu21d: crc %#x, want %#x", buf[2], crc)
	}
	return (uint16(buf[0])<<8 | uint16(buf[1])) &^ 0x3, nil
}

func (d *htu21dDevice) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}

// htu21dCRC is the CRC-8 the sensor appends: polynomial x^8+x^5+x^4+1.
func htu21dCRC(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func htu21dCelsius(raw uint16) float64  { return -46.85 + 175.72*float64(raw)/65536 }
func htu21dHumidity(raw uint16) float64 { return -6 + 125*float64(raw)/65536 }

type htu21dSensor struct {
	scalar
	dev *htu21dDevice
	cmd byte
	*bounded[float64]
}

func (b *Builder) newHTU21D(p config.Params) (*htu21dSensor, error) {
	m, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	dev, err := b.htu21dOn(p.String("bus", ""))
	if err != nil {
		return nil, err
	}
	return newHTU21DSensor(dev, m, p, b.Clock)
}

// htu21dOn returns the shared device on busName, opening it on first use.
func (b *Builder) htu21dOn(busName string) (*htu21dDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.htu[busName]; ok {
		return d, nil
	}
	bus, err := board.Bus(busName)
	if err != nil {
		return nil, err
	}
	d := &htu21dDevice{dev: &i2c.Dev{Addr: htu21dAddr, Bus: bus}, bus: bus, sleep: time.Sleep}
	b.htu[busName] = d
	return d, nil
}

func newHTU21DSensor(dev *htu21dDevice, m string, p config.Params, clk clock.Clock) (*htu21dSensor, error) {
	s := &htu21dSensor{dev: dev}
	def := types.SensorInfo{Sensor: "HTU21D"}
	switch m {
	case "temp":
		unit, symbol, err := temperatureInfo(p)
		if err != nil {
			return nil, err
		}
		s.cmd = htu21dCmdTemp
		def.Name, def.Unit, def.Symbol = "Temperature", unit, symbol
		def.Description = "Temperature from the HTU21D."
	case "humidity":
		s.cmd = htu21dCmdHumidity
		def.Name, def.Unit, def.Symbol = "Relative_Humidity", "Percent", "%"
		def.Description = "Relative humidity from the HTU21D."
	default:
		return nil, fmt.Errorf("unknown measurement %q (want temp or humidity)", m)
	}
	s.info = infoFrom(p, def)
	s.info.Unit, s.info.Symbol = def.Unit, def.Symbol

	timeout, err := p.Duration("timeout", DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	interval, err := p.Duration("min_interval", DefaultMinInterval)
	if err != nil {
		return nil, err
	}
	s.bounded = newBounded(s.readDevice, timeout, interval, clk)
	return s, nil
}

func (s *htu21dSensor) readDevice(context.Context) (float64, error) {
	raw, err := s.dev.measure(s.cmd)
	if err != nil {
		return 0, err
	}
	if s.cmd == htu21dCmdHumidity {
		return htu21dHumidity(raw), nil
	}
	return celsiusTo(s.info.Unit, htu21dCelsius(raw)), nil
}
