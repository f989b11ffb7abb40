package sensors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// randomSensor produces uniformly distributed values in [min, max). It
// stands in for hardware during bench runs.
type randomSensor struct {
	scalar
	min, max float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newRandom(p config.Params) (*randomSensor, error) {
	name, err := p.RequiredString("measurement")
	if err != nil {
		return nil, err
	}
	lo, err := p.Float("min", 0)
	if err != nil {
		return nil, err
	}
	hi, err := p.Float("max", 100)
	if err != nil {
		return nil, err
	}
	if hi <= lo {
		return nil, fmt.Errorf("max (%v) must be greater than min (%v)", hi, lo)
	}
	seed, err := p.Int("seed", 1)
	if err != nil {
		return nil, err
	}
	kind := types.KindSample
	if p.String("kind", "") == string(types.KindPulseCount) {
		kind = types.KindPulseCount
	}
	return &randomSensor{
		scalar: scalar{info: infoFrom(p, types.SensorInfo{Sensor: "Random", Name: name, Kind: kind})},
		min:    lo,
		max:    hi,
		rng:    rand.New(rand.NewSource(int64(seed))),
	}, nil
}

func (s *randomSensor) Read(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.min + s.rng.Float64()*(s.max-s.min), nil
}
