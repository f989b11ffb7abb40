package sensors

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// Builder constructs sensors from config entries. Sensors that share one
// physical device (both HTU21D measurements, for instance) share one driver
// instance through the Builder.
type Builder struct {
	Clock      clock.Clock
	HTTPClient *http.Client

	mu      sync.Mutex
	htu     map[string]*htu21dDevice
	bmp     map[string]*bmp085Device
	adc     map[string]*mcp3008
	dht     map[int]*dht22Device
	closers []io.Closer
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{
		Clock:      clock.New(),
		HTTPClient: &http.Client{Timeout: defaultScrapeTimeout},
		htu:        make(map[string]*htu21dDevice),
		bmp:        make(map[string]*bmp085Device),
		adc:        make(map[string]*mcp3008),
		dht:        make(map[int]*dht22Device),
	}
}

// Build returns the sensor for p.
func (b *Builder) Build(p config.Plugin) (types.Sensor, error) {
	s, err := b.build(p)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", p.Label(), err)
	}
	if c, ok := s.(io.Closer); ok {
		b.mu.Lock()
		b.closers = append(b.closers, c)
		b.mu.Unlock()
	}
	return s, nil
}

func (b *Builder) build(p config.Plugin) (types.Sensor, error) {
	switch p.Type {
	case "random":
		return newRandom(p.Params)
	case "raspi":
		return newRaspi(p.Params)
	case "ds18b20":
		return newDS18B20(p.Params, b.Clock)
	case "htu21d":
		return b.newHTU21D(p.Params)
	case "bmp085":
		return b.newBMP085(p.Params)
	case "dht22":
		return b.newDHT22(p.Params)
	case "analogue":
		return b.newAnalogue(p.Params)
	case "raingauge":
		return newRainGauge(p.Params, b.Clock)
	case "prometheus":
		return newPromSensor(p.Params, b.HTTPClient)
	case "gps":
		return openGPS(p.Params)
	default:
		return nil, fmt.Errorf("unsupported type %q", p.Type)
	}
}

// Close releases every device opened by this Builder. Location sensors are
// stopped by the engine and are not closed here.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	b.closers = nil
	for _, d := range b.htu {
		err = multierr.Append(err, d.Close())
	}
	b.htu = make(map[string]*htu21dDevice)
	for _, d := range b.bmp {
		err = multierr.Append(err, d.Close())
	}
	b.bmp = make(map[string]*bmp085Device)
	for _, a := range b.adc {
		err = multierr.Append(err, a.Close())
	}
	b.adc = make(map[string]*mcp3008)
	b.dht = make(map[int]*dht22Device)
	return err
}

// infoFrom fills a SensorInfo from defaults overridden by the common
// "sensor", "name", "unit", "symbol" and "description" parameters.
func infoFrom(p config.Params, def types.SensorInfo) types.SensorInfo {
	def.Sensor = p.String("sensor", def.Sensor)
	def.Name = p.String("name", def.Name)
	def.Unit = p.String("unit", def.Unit)
	def.Symbol = p.String("symbol", def.Symbol)
	def.Description = p.String("description", def.Description)
	if def.Kind == "" {
		def.Kind = types.KindSample
	}
	return def
}

// scalar is the common shape of the simple sensors.
type scalar struct {
	info types.SensorInfo
}

func (s scalar) Info() types.SensorInfo { return s.info }

// celsiusTo converts a Celsius reading to the configured temperature unit.
func celsiusTo(unit string, c float64) float64 {
	if unit == "Fahrenheit" || unit == "F" {
		return c*9/5 + 32
	}
	return c
}

// temperatureInfo returns the unit and symbol for a "unit: C|F" parameter.
func temperatureInfo(p config.Params) (unit, symbol string, err error) {
	switch u := p.String("unit", "C"); u {
	case "C", "Celsius":
		return "Celsius", "C", nil
	case "F", "Fahrenheit":
		return "Fahrenheit", "F", nil
	default:
		return "", "", fmt.Errorf("unknown temperature unit %q", u)
	}
}
