package sensors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"

	"github.com/airpi/airpi/internal/config"
)

func adcReply(ch int, raw int) conntest.IO {
	return conntest.IO{
		W: []byte{0x01, byte(8+ch) << 4, 0x00},
		R: []byte{0x00, byte(raw >> 8), byte(raw)},
	}
}

func TestMCP3008_ReadsChannel(t *testing.T) {
	pb := &conntest.Playback{Ops: []conntest.IO{adcReply(3, 512), adcReply(0, 1023)}}
	adc := &mcp3008{conn: pb}

	v, err := adc.read(3)
	require.NoError(t, err)
	assert.Equal(t, 512, v)
	v, err = adc.read(0)
	require.NoError(t, err)
	assert.Equal(t, 1023, v)
	require.NoError(t, pb.Close())

	_, err = adc.read(8)
	assert.ErrorContains(t, err, "out of range")
}

func TestAnalogue_Conversions(t *testing.T) {
	tests := []struct {
		name   string
		params config.Params
		unit   string
		want   float64
	}{
		{"millivolts", config.Params{}, "millivolts", 1651.613},
		{"pull-down", config.Params{"pull_down": 10000}, "Ohms", 9980.469},
		{"pull-up", config.Params{"pull_up": "10000"}, "Ohms", 10019.569},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := &conntest.Playback{Ops: []conntest.IO{adcReply(2, 512)}}
			p := config.Params{"measurement": "Light_Level", "adc_pin": 2}
			for k, v := range tt.params {
				p[k] = v
			}
			s, err := newAnalogueSensor(&mcp3008{conn: pb}, p)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, s.Info().Unit)
			assert.Equal(t, "Light_Level", s.Info().Name)

			v, err := s.Read(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v, 0.001)
		})
	}
}

func TestAnalogue_RailReadings(t *testing.T) {
	adc := &mcp3008{conn: &conntest.Playback{}}
	s, err := newAnalogueSensor(adc, config.Params{"measurement": "Nitrogen_Dioxide", "adc_pin": 0, "pull_up": 22000})
	require.NoError(t, err)

	_, err = s.convert(0)
	assert.ErrorIs(t, err, errNoVoltage)
	_, err = s.convert(mcp3008Max)
	assert.ErrorIs(t, err, errFullVoltage)

	ldr, err := newAnalogueSensor(adc, config.Params{"measurement": "Light_Level", "adc_pin": 1, "sensor": "LDR", "pull_down": 10000})
	require.NoError(t, err)
	v, err := ldr.convert(mcp3008Max)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-9)
}

func TestAnalogue_BadConfig(t *testing.T) {
	adc := &mcp3008{conn: &conntest.Playback{}}

	_, err := newAnalogueSensor(adc, config.Params{"measurement": "x", "adc_pin": 8})
	assert.ErrorContains(t, err, "adc_pin 8")

	_, err = newAnalogueSensor(adc, config.Params{"measurement": "x", "adc_pin": 1, "pull_up": 1, "pull_down": 1})
	assert.ErrorContains(t, err, "not both")

	_, err = newAnalogueSensor(adc, config.Params{"measurement": "x"})
	var mp *config.MissingParamError
	assert.ErrorAs(t, err, &mp)
}
