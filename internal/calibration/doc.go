// Package calibration applies per-measurement correction functions to a
// batch of readings before it reaches outputs that opted into calibration.
//
// Each function is an expression over x (the raw value), compiled once with
// expr-lang, plus the unit symbol the corrected value is reported in.
// Function names match reading names case-insensitively.
//
// The Pipeline remembers the last batch it calibrated by pointer identity, so
// when several outputs ask for the same cycle's batch the work is done once.
package calibration
