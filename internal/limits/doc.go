// Package limits flags readings that exceed a configured threshold.
//
// A rule names a measurement, a threshold, an optional unit and a comparison
// operator (default ">"). A reading breaches a rule when its name matches
// case-insensitively, its unit matches (when the rule names one), and the
// comparison holds. Outputs use this to highlight readings; it has no effect
// on the sampling cycle.
package limits
