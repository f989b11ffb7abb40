package engine

import (
	"fmt"
	"time"
)

// Summary is the run's start time and number of processed cycles. End is
// set when the engine stops.
type Summary struct {
	Start   time.Time
	End     time.Time
	Samples int
}

// Duration is End minus Start, or zero while the run is in progress.
func (s Summary) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Elapsed splits the time from Start to now into whole hours, minutes and
// seconds.
func (s Summary) Elapsed(now time.Time) (hours, minutes, seconds int) {
	total := int(now.Sub(s.Start) / time.Second)
	if total < 0 {
		total = 0
	}
	return total / 3600, (total % 3600) / 60, total % 60
}

// String formats the end-of-run report.
func (s Summary) String() string {
	end := s.End
	if end.IsZero() {
		end = s.Start
	}
	h, m, sec := s.Elapsed(end)
	return fmt.Sprintf("This run lasted %dh %dm %ds, and consisted of %d samples.", h, m, sec, s.Samples)
}
