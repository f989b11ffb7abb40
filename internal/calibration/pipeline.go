package calibration

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/montanaflynn/stats"

	"github.com/airpi/airpi/pkg/types"
)

// Pipeline is safe for concurrent use. Outputs may call FindAveraged from
// their own goroutines while the engine calibrates the next batch.
type Pipeline struct {
	mu      sync.Mutex
	funcs   map[string]Function // keyed by lower-cased name
	lastIn  *types.Batch
	lastOut *types.Batch
}

// New returns a Pipeline with the given functions.
func New(funcs []Function) *Pipeline {
	p := &Pipeline{}
	p.SetFunctions(funcs)
	return p
}

// SetFunctions replaces the function set and drops the memoised result so the
// next Calibrate recomputes with the new functions.
func (p *Pipeline) SetFunctions(funcs []Function) {
	m := make(map[string]Function, len(funcs))
	for _, f := range funcs {
		m[strings.ToLower(f.Name)] = f
	}
	p.mu.Lock()
	p.funcs = m
	p.lastIn = nil
	p.lastOut = nil
	p.mu.Unlock()
}

// Calibrate returns a new batch with every matching scalar reading corrected
// and its symbol replaced. The input is never modified. If batch is the same
// pointer as the previous call the previous result is returned as is.
func (p *Pipeline) Calibrate(batch *types.Batch) *types.Batch {
	if batch == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if batch == p.lastIn && p.lastOut != nil {
		return p.lastOut
	}

	out := &types.Batch{Time: batch.Time, Readings: make([]types.Reading, len(batch.Readings))}
	for i, r := range batch.Readings {
		out.Readings[i] = r
		if !r.Usable() {
			continue
		}
		f, ok := p.funcs[strings.ToLower(r.Name)]
		if !ok {
			continue
		}
		v, err := f.Apply(*r.Value)
		if err != nil {
			slog.Warn("calibration: function failed, passing raw value", "name", r.Name, "err", err)
			continue
		}
		out.Readings[i].Value = types.Float(v)
		if f.Symbol != "" {
			out.Readings[i].Symbol = f.Symbol
		}
	}

	p.lastIn = batch
	p.lastOut = out
	return out
}

// FindAveraged returns the mean of every usable value named name in the most
// recent calibrated batch. ok is false before the first Calibrate call or when
// nothing matches.
func (p *Pipeline) FindAveraged(name string) (float64, bool) {
	p.mu.Lock()
	last := p.lastOut
	p.mu.Unlock()
	if last == nil {
		return 0, false
	}

	var vals []float64
	for _, r := range last.Readings {
		if r.Usable() && strings.EqualFold(r.Name, name) {
			vals = append(vals, *r.Value)
		}
	}
	mean, err := stats.Mean(vals)
	if err != nil {
		return 0, false
	}
	return mean, true
}
