package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const bmp085Addr = 0x77

type envSenser interface {
	Sense(*physic.Env) error
}

// bmp085Device is one BMP085/BMP180 on one bus, shared by its temperature
// and pressure sensors.
type bmp085Device struct {
	mu  sync.Mutex
	dev envSenser
	bus i2c.BusCloser
}

func (d *bmp085Device) sense() (physic.Env, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var e physic.Env
	if err := d.dev.Sense(&e); err != nil {
		return e, fmt.Errorf("bmp085: %w", err)
	}
	return e, nil
}

func (d *bmp085Device) Close() error {
	if d.bus == nil {
		return nil
	}
	return d.bus.Close()
}

func (b *Builder) bmp085On(busName string) (*bmp085Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.bmp[busName]; ok {
		return d, nil
	}
	bus, err := board.Bus(busName)
	if err != nil {
		return nil, err
	}
	dev, err := bmxx80.NewI2C(bus, bmp085Addr, &bmxx80.Opts{Temperature: bmxx80.O1x, Pressure: bmxx80.O4x})
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bmp085: %w", err)
	}
	d := &bmp085Device{dev: dev, bus: bus}
	b.bmp[busName] = d
	return d, nil
}

type bmp085Sensor struct {
	scalar
	dev      *bmp085Device
	pressure bool
	// altitude in metres; pressure is reduced to mean sea level when set.
	altitude float64
	mslp     bool
}

func (b *Builder) newBMP085(p config.Params) (*bmp085Sensor, error) {
	m, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	if m != "temp" && m != "pres" {
		return nil, fmt.Errorf("unknown measurement %q (want temp or pres)", m)
	}
	dev, err := b.bmp085On(p.String("bus", ""))
	if err != nil {
		return nil, err
	}
	return newBMP085Sensor(dev, m, p)
}

func newBMP085Sensor(dev *bmp085Device, m string, p config.Params) (*bmp085Sensor, error) {
	s := &bmp085Sensor{dev: dev}
	def := types.SensorInfo{Sensor: "BMP085"}
	switch m {
	case "temp":
		unit, symbol, err := temperatureInfo(p)
		if err != nil {
			return nil, err
		}
		def.Name, def.Unit, def.Symbol = "Temperature-BMP", unit, symbol
		def.Description = "Temperature from the BMP085."
	case "pres":
		s.pressure = true
		def.Name, def.Unit, def.Symbol = "Pressure", "Hectopascal", "hPa"
		def.Description = "Barometric pressure from the BMP085."
		mslp, err := p.Bool("mslp", false)
		if err != nil {
			return nil, err
		}
		if mslp {
			if s.altitude, err = p.Float("altitude", 0); err != nil {
				return nil, err
			}
			s.mslp = true
			def.Description = "Barometric pressure reduced to mean sea level."
		}
	default:
		return nil, fmt.Errorf("unknown measurement %q (want temp or pres)", m)
	}
	s.info = infoFrom(p, def)
	s.info.Unit, s.info.Symbol = def.Unit, def.Symbol
	return s, nil
}

func (s *bmp085Sensor) Read(context.Context) (float64, error) {
	e, err := s.dev.sense()
	if err != nil {
		return 0, err
	}
	if !s.pressure {
		c := float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
		return celsiusTo(s.info.Unit, c), nil
	}
	hpa := float64(e.Pressure) / float64(100*physic.Pascal)
	if s.mslp {
		return seaLevelPressure(hpa, s.altitude), nil
	}
	return hpa, nil
}

// seaLevelPressure reduces station pressure to sea level with the
// international barometric formula.
func seaLevelPressure(hpa, altitude float64) float64 {
	return hpa / math.Pow(1-altitude/44330, 5.255)
}
