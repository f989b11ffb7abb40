package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const defaultW1Dir = "/sys/bus/w1/devices"

// powerOnReset is what a DS18B20 reports before its first conversion.
const powerOnReset = 85000

// ds18b20Sensor reads a 1-wire temperature probe through the kernel w1
// driver. Conversions take up to 750ms and the bus can hang, so reads go
// through the bounded worker.
type ds18b20Sensor struct {
	scalar
	path string
	*bounded[float64]
}

func newDS18B20(p config.Params, clk clock.Clock) (*ds18b20Sensor, error) {
	id, err := p.RequiredString("id")
	if err != nil {
		return nil, err
	}
	unit, symbol, err := temperatureInfo(p)
	if err != nil {
		return nil, err
	}
	timeout, err := p.Duration("timeout", DefaultReadTimeout)
	if err != nil {
		return nil, err
	}
	interval, err := p.Duration("min_interval", DefaultMinInterval)
	if err != nil {
		return nil, err
	}
	s := &ds18b20Sensor{
		path: filepath.Join(p.String("w1_dir", defaultW1Dir), id, "w1_slave"),
	}
	s.info = types.SensorInfo{
		Sensor:      p.String("sensor", "DS18B20"),
		Name:        p.String("name", "Temperature"),
		Unit:        unit,
		Symbol:      symbol,
		Description: p.String("description", "1-wire temperature probe "+id+"."),
		Kind:        types.KindSample,
	}
	s.bounded = newBounded(s.readDevice, timeout, interval, clk)
	return s, nil
}

func (s *ds18b20Sensor) readDevice(context.Context) (float64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("ds18b20: %w", err)
	}
	defer f.Close()
	milli, err := parseW1Slave(f)
	if err != nil {
		return 0, fmt.Errorf("ds18b20: %s: %w", s.path, err)
	}
	return celsiusTo(s.info.Unit, float64(milli)/1000), nil
}

// parseW1Slave extracts the millidegree reading from w1_slave output:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return 0, fmt.Errorf("empty w1_slave")
	}
	if !strings.HasSuffix(strings.TrimSpace(sc.Text()), "YES") {
		return 0, fmt.Errorf("crc check failed")
	}
	if !sc.Scan() {
		return 0, fmt.Errorf("missing temperature line")
	}
	_, raw, ok := strings.Cut(sc.Text(), "t=")
	if !ok {
		return 0, fmt.Errorf("no t= field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse t=: %w", err)
	}
	if milli == powerOnReset {
		return 0, ErrNoReading
	}
	return milli, nil
}
