// Package board opens Raspberry Pi peripherals through periph.io. The host
// drivers are initialised once per process on first use.
package board

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the periph host drivers.
func Init() error {
	initOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			initErr = fmt.Errorf("board: init host drivers: %w", err)
		}
	})
	return initErr
}

// Pin returns the GPIO pin with BCM number n.
func Pin(n int) (gpio.PinIO, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(strconv.Itoa(n))
	if p == nil {
		return nil, fmt.Errorf("board: no GPIO pin %d", n)
	}
	return p, nil
}

// Bus opens the named I2C bus; "" selects the first one available.
func Bus(name string) (i2c.BusCloser, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("board: open i2c bus %q: %w", name, err)
	}
	return b, nil
}

// SPI opens the named SPI port; "" selects the first one available.
func SPI(name string) (spi.PortCloser, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("board: open spi port %q: %w", name, err)
	}
	return p, nil
}
