package averaging

import (
	"github.com/montanaflynn/stats"

	"github.com/airpi/airpi/pkg/types"
)

// bucket is the per-measurement state within one window.
type bucket struct {
	template types.Reading
	values   []float64
	seen     int // readings recorded this window, usable or not
}

// Accumulator is not safe for concurrent use; the engine owns it.
type Accumulator struct {
	order   []string
	buckets map[string]*bucket
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{buckets: make(map[string]*bucket)}
}

// Record adds one reading to its bucket. Location readings are ignored.
func (a *Accumulator) Record(r types.Reading) {
	if r.IsLocation() {
		return
	}
	key := r.Key()
	b, ok := a.buckets[key]
	if !ok {
		tmpl := r
		tmpl.Value = nil
		b = &bucket{template: tmpl}
		a.buckets[key] = b
		a.order = append(a.order, key)
	}
	b.seen++
	if r.Usable() {
		b.values = append(b.values, *r.Value)
	}
}

// RecordBatch records every reading of a cycle.
func (a *Accumulator) RecordBatch(readings []types.Reading) {
	for _, r := range readings {
		a.Record(r)
	}
}

// ShouldFlush reports whether every known bucket has seen at least window
// readings since the last flush. An empty accumulator is never ready.
func (a *Accumulator) ShouldFlush(window int) bool {
	if len(a.buckets) == 0 {
		return false
	}
	for _, b := range a.buckets {
		if b.seen < window {
			return false
		}
	}
	return true
}

// Flush reduces every bucket that saw readings this window to one averaged
// reading, in first-seen order, then clears the values. Templates are kept.
// A bucket whose values were all excluded yields a reading with a nil Value.
func (a *Accumulator) Flush() []types.Reading {
	out := make([]types.Reading, 0, len(a.order))
	for _, key := range a.order {
		b := a.buckets[key]
		if b.seen == 0 {
			continue
		}
		r := b.template
		r.ReadingType = types.ReadingTypeAverage
		if v, ok := reduce(b.template.Kind, b.values); ok {
			r.Value = types.Float(v)
		}
		out = append(out, r)
		b.values = b.values[:0]
		b.seen = 0
	}
	return out
}

// Pending returns the number of buckets holding readings for the current window.
func (a *Accumulator) Pending() int {
	n := 0
	for _, b := range a.buckets {
		if b.seen > 0 {
			n++
		}
	}
	return n
}

func reduce(kind types.Kind, values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	data := stats.Float64Data(values)
	var (
		v   float64
		err error
	)
	if kind == types.KindPulseCount {
		v, err = stats.Sum(data)
	} else {
		v, err = stats.Mean(data)
	}
	if err != nil {
		return 0, false
	}
	return v, true
}
