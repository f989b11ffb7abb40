// Package indicator drives the success and failure lights.
package indicator

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/airpi/airpi/internal/board"
	"github.com/airpi/airpi/pkg/types"
)

// LED is a light on a GPIO output pin.
type LED struct {
	mu  sync.Mutex
	pin gpio.PinOut
}

// New returns the light on BCM pin n, switched off. Pin 0 means no light is
// fitted and yields a no-op.
func New(n int) (types.IndicatorLight, error) {
	if n == 0 {
		return Noop{}, nil
	}
	p, err := board.Pin(n)
	if err != nil {
		return nil, err
	}
	return NewLED(p)
}

// NewLED wraps an already-opened pin and turns it off.
func NewLED(pin gpio.PinOut) (*LED, error) {
	l := &LED{pin: pin}
	if err := l.Off(); err != nil {
		return nil, err
	}
	return l, nil
}

// On drives the pin high.
func (l *LED) On() error { return l.set(gpio.High) }

// Off drives the pin low.
func (l *LED) Off() error { return l.set(gpio.Low) }

func (l *LED) set(level gpio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("indicator: %s: %w", l.pin, err)
	}
	return nil
}

// Noop is used when no light is fitted.
type Noop struct{}

func (Noop) On() error  { return nil }
func (Noop) Off() error { return nil }

// Logged wraps a light and logs each transition at debug level, so runs
// without hardware still show what the lights would have done.
type Logged struct {
	Name  string
	Light types.IndicatorLight
}

func (l Logged) On() error {
	slog.Debug("indicator: on", "light", l.Name)
	return l.Light.On()
}

func (l Logged) Off() error {
	slog.Debug("indicator: off", "light", l.Name)
	return l.Light.Off()
}
