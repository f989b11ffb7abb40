package sensors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"
	geo "github.com/kellydunn/golang-geo"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	knotsToMetresPerSecond = 0.514444
	// mobileSpeed is the ground speed above which the station is treated as
	// moving, and therefore outdoors.
	mobileSpeed = 1.0
)

// gpsFix is the controller's latest view of position and motion.
type gpsFix struct {
	valid    bool
	point    *geo.Point
	altitude float64
	hasAlt   bool
	speed    float64 // metres per second
	rmcSeen  bool    // speed comes from RMC; otherwise it is derived from GGA fixes
	ggaAt    float64 // seconds since midnight of the last GGA fix
}

// gpsSensor is the location sensor. A background controller reads NMEA
// sentences from a serial GPS and keeps the latest fix; ReadLocation only
// copies it.
type gpsSensor struct {
	info types.SensorInfo
	dev  io.ReadCloser

	mu  sync.RWMutex
	fix gpsFix

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func openGPS(p config.Params) (*gpsSensor, error) {
	port, err := p.RequiredString("port")
	if err != nil {
		return nil, err
	}
	baud, err := p.Int("baud", 9600)
	if err != nil {
		return nil, err
	}
	dev, err := serial.Open(serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", port, err)
	}
	info := infoFrom(p, types.SensorInfo{Sensor: "MTK3339", Name: "Location", Description: "GPS position fix."})
	return startGPS(dev, info), nil
}

func startGPS(dev io.ReadCloser, info types.SensorInfo) *gpsSensor {
	ctx, cancel := context.WithCancel(context.Background())
	g := &gpsSensor{info: info, dev: dev, cancel: cancel, done: make(chan struct{})}
	go g.controller(ctx)
	return g
}

func (g *gpsSensor) Info() types.SensorInfo { return g.info }

func (g *gpsSensor) controller(ctx context.Context) {
	defer close(g.done)
	r := bufio.NewReader(g.dev)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			g.update(line)
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				slog.Warn("gps: serial read failed, controller stopping", "err", err)
			}
			return
		}
	}
}

func (g *gpsSensor) update(line string) {
	s, err := nmea.Parse(line)
	if err != nil {
		slog.Debug("gps: skipping sentence", "line", line, "err", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	f := &g.fix
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			f.valid = false
			return
		}
		f.valid = true
		f.point = geo.NewPoint(m.Latitude, m.Longitude)
		f.speed = m.Speed * knotsToMetresPerSecond
		f.rmcSeen = true
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			f.valid = false
			return
		}
		cur := geo.NewPoint(m.Latitude, m.Longitude)
		at := secondsOfDay(m.Time)
		if !f.rmcSeen && f.point != nil && at > f.ggaAt {
			km := f.point.GreatCircleDistance(cur)
			f.speed = km * 1000 / (at - f.ggaAt)
		}
		f.valid = true
		f.point = cur
		f.ggaAt = at
		if !math.IsNaN(m.Altitude) {
			f.altitude = m.Altitude
			f.hasAlt = true
		}
	}
}

func secondsOfDay(t nmea.Time) float64 {
	return float64(t.Hour*3600+t.Minute*60+t.Second) + float64(t.Millisecond)/1000
}

// ReadLocation returns the latest fix, or ErrNoReading before the first one.
func (g *gpsSensor) ReadLocation(context.Context) (types.Location, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f := g.fix
	if !f.valid || f.point == nil {
		return types.Location{}, ErrNoReading
	}
	loc := types.Location{
		Latitude:    f.point.Lat(),
		Longitude:   f.point.Lng(),
		Disposition: "fixed",
		Exposure:    "indoor",
	}
	if f.hasAlt {
		loc.Altitude = types.Float(f.altitude)
	}
	if f.speed > mobileSpeed {
		loc.Disposition = "mobile"
		loc.Exposure = "outdoor"
	}
	return loc, nil
}

// Stop halts the controller and closes the serial port. Later calls return
// the first call's result.
func (g *gpsSensor) Stop() error {
	g.stopOnce.Do(func() {
		g.cancel()
		g.stopErr = g.dev.Close()
		<-g.done
	})
	return g.stopErr
}
