package types

import (
	"math"
	"strconv"
	"time"
)

// Kind distinguishes how raw values of a measurement combine over a window.
type Kind string

const (
	// KindSample is an instantaneous measurement; windows reduce by mean.
	KindSample Kind = "sample"
	// KindPulseCount is a count of events since the previous read; windows
	// reduce by sum.
	KindPulseCount Kind = "pulseCount"
)

// ReadingTypeAverage tags readings produced by the averaging accumulator.
const ReadingTypeAverage = "average"

// NoData is the sentinel a producer may store to say "no value this round".
// It is distinct from a failure (nil Value) and from NaN, and is excluded
// from averages the same way.
var NoData = math.Inf(-1)

// IsNoData reports whether v is the NoData sentinel.
func IsNoData(v float64) bool { return math.IsInf(v, -1) }

// Reading is one measurement from one sensor in one cycle.
//
// A nil Value is the failure marker: the sensor could not produce a value.
// Location is non-nil only for readings from the location sensor; such
// readings carry no Value and take no part in calibration, averaging or the
// failure check.
type Reading struct {
	Sensor      string    `json:"sensor" msgpack:"sensor"`
	Name        string    `json:"name" msgpack:"name"`
	Value       *float64  `json:"value,omitempty" msgpack:"value,omitempty"`
	Unit        string    `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Symbol      string    `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
	Description string    `json:"description,omitempty" msgpack:"description,omitempty"`
	Kind        Kind      `json:"-" msgpack:"-"`
	ReadingType string    `json:"readingType" msgpack:"readingType"`
	Location    *Location `json:"location,omitempty" msgpack:"location,omitempty"`
}

// Location is a position fix from the location sensor.
type Location struct {
	Latitude    float64  `json:"latitude" msgpack:"latitude"`
	Longitude   float64  `json:"longitude" msgpack:"longitude"`
	Altitude    *float64 `json:"altitude,omitempty" msgpack:"altitude,omitempty"`
	Disposition string   `json:"disposition" msgpack:"disposition"` // "mobile" | "fixed"
	Exposure    string   `json:"exposure" msgpack:"exposure"`       // "outdoor" | "indoor"
}

// Float returns a pointer to v, for building Readings.
func Float(v float64) *float64 { return &v }

// Key is the accumulator bucket key: "<sensor>-<name>".
func (r Reading) Key() string { return r.Sensor + "-" + r.Name }

// IsLocation reports whether r came from the location sensor.
func (r Reading) IsLocation() bool { return r.Location != nil }

// Failed reports whether a scalar reading counts as a sensor failure:
// its value is missing, NaN or exactly zero.
func (r Reading) Failed() bool {
	if r.IsLocation() {
		return false
	}
	if r.Value == nil {
		return true
	}
	v := *r.Value
	return math.IsNaN(v) || v == 0
}

// Usable reports whether r carries a value that may take part in arithmetic.
func (r Reading) Usable() bool {
	if r.IsLocation() || r.Value == nil {
		return false
	}
	v := *r.Value
	return !math.IsNaN(v) && !IsNoData(v)
}

// Batch is the ordered set of readings handed to outputs for one cycle (or
// one averaging window). Batches are passed by pointer and must be treated as
// immutable once built; the calibration cache keys on pointer identity.
type Batch struct {
	Time     time.Time `json:"time" msgpack:"time"`
	Readings []Reading `json:"readings" msgpack:"readings"`
}

// Metadata describes one run. It is written once to every output that has
// metadata enabled, before the first cycle.
type Metadata struct {
	RunID           string        `json:"runId" yaml:"run_id"`
	StartTime       time.Time     `json:"startTime" yaml:"start_time"`
	Operator        string        `json:"operator,omitempty" yaml:"operator"`
	BoardSerial     string        `json:"boardSerial,omitempty" yaml:"board_serial"`
	Hostname        string        `json:"hostname" yaml:"hostname"`
	SampleInterval  time.Duration `json:"sampleInterval" yaml:"sample_interval"`
	AverageInterval time.Duration `json:"averageInterval,omitempty" yaml:"average_interval"`
	Warmup          time.Duration `json:"warmup,omitempty" yaml:"warmup"`
	StopAfter       int           `json:"stopAfter,omitempty" yaml:"stop_after"`
}

// Pairs returns the metadata as ordered label/value pairs for text outputs.
func (m Metadata) Pairs() [][2]string {
	pairs := [][2]string{
		{"Run ID", m.RunID},
		{"Start time", m.StartTime.Format(time.RFC3339)},
		{"Operator", m.Operator},
		{"Board serial", m.BoardSerial},
		{"Host name", m.Hostname},
		{"Sample interval", m.SampleInterval.String()},
	}
	if m.AverageInterval > 0 {
		pairs = append(pairs, [2]string{"Average interval", m.AverageInterval.String()})
	}
	if m.Warmup > 0 {
		pairs = append(pairs, [2]string{"Warm-up", m.Warmup.String()})
	}
	if m.StopAfter > 0 {
		pairs = append(pairs, [2]string{"Stop after", strconv.Itoa(m.StopAfter) + " samples"})
	}
	return pairs
}
