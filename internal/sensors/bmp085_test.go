package sensors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/airpi/airpi/internal/config"
)

type fakeEnv struct {
	env   physic.Env
	err   error
	calls int
}

func (f *fakeEnv) Sense(e *physic.Env) error {
	f.calls++
	*e = f.env
	return f.err
}

func stationEnv() *fakeEnv {
	return &fakeEnv{env: physic.Env{
		Temperature: physic.ZeroCelsius + 20*physic.Celsius,
		Pressure:    101325 * physic.Pascal,
	}}
}

func TestBMP085_TemperatureAndPressure(t *testing.T) {
	env := stationEnv()
	dev := &bmp085Device{dev: env}

	temp, err := newBMP085Sensor(dev, "temp", config.Params{"unit": "F"})
	require.NoError(t, err)
	assert.Equal(t, "Temperature-BMP", temp.Info().Name)
	v, err := temp.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 68, v, 1e-6)

	pres, err := newBMP085Sensor(dev, "pres", config.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hPa", pres.Info().Symbol)
	v, err = pres.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1013.25, v, 1e-6)
	assert.Equal(t, 2, env.calls)
}

func TestBMP085_SeaLevelPressure(t *testing.T) {
	dev := &bmp085Device{dev: stationEnv()}
	s, err := newBMP085Sensor(dev, "pres", config.Params{"mslp": true, "altitude": 100})
	require.NoError(t, err)
	v, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1025.347, v, 0.001)

	assert.InDelta(t, 1013.25, seaLevelPressure(1013.25, 0), 1e-9)
}

func TestBMP085_Errors(t *testing.T) {
	dev := &bmp085Device{dev: &fakeEnv{err: errors.New("i2c nack")}}
	s, err := newBMP085Sensor(dev, "temp", config.Params{})
	require.NoError(t, err)
	_, err = s.Read(context.Background())
	assert.ErrorContains(t, err, "bmp085: i2c nack")

	_, err = newBMP085Sensor(dev, "humidity", config.Params{})
	assert.ErrorContains(t, err, "unknown measurement")
	_, err = NewBuilder().Build(config.Plugin{Type: "bmp085", Params: config.Params{"measurement": "alt"}})
	assert.ErrorContains(t, err, "want temp or pres")
}
