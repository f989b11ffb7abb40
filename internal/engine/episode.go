package engine

import "github.com/airpi/airpi/pkg/types"

// FailureEpisode remembers whether a notification has already been sent for
// the current run of consecutive failures, per failure class.
type FailureEpisode struct {
	sensor bool
	output bool
}

// trip marks reason's class as failing and reports whether this starts a new
// episode, i.e. whether notifiers should fire.
func (f *FailureEpisode) trip(reason types.Reason) bool {
	switch reason {
	case types.ReasonSensor:
		if f.sensor {
			return false
		}
		f.sensor = true
	case types.ReasonOutput:
		if f.output {
			return false
		}
		f.output = true
	default:
		return false
	}
	return true
}

// reset ends both episodes after a fully successful cycle.
func (f *FailureEpisode) reset() {
	f.sensor = false
	f.output = false
}

// Active reports whether an episode of reason's class is in progress.
func (f FailureEpisode) Active(reason types.Reason) bool {
	switch reason {
	case types.ReasonSensor:
		return f.sensor
	case types.ReasonOutput:
		return f.output
	}
	return false
}
