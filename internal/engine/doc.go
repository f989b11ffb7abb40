// Package engine runs the sampling cycle.
//
// One cycle reads every sensor in configured order, feeds the averaging
// accumulator when averaging is on, dispatches the batch to every output,
// drives the success and failure lights, and raises at most one notification
// per failure episode. Run repeats cycles at a fixed cadence until its context
// is cancelled, Stop is called, or the stop-after limit is reached, and then
// shuts down: the location controller is stopped, lights are turned off and a
// Summary is returned.
//
// Cadence: a cycle starts when more than interval-10ms has passed since the
// previous start. A start more than interval+20ms late logs a warning and
// runs anyway; missed cycles are never made up.
//
// Time comes from an injectable clock.Clock so tests can drive the engine
// without sleeping.
package engine
