// Package averaging accumulates raw readings across a window of sampling
// cycles and reduces each measurement to one averaged reading.
//
// Buckets are keyed "<sensor>-<name>". The first reading seen for a key
// becomes the bucket's metadata template; later readings only contribute
// values. Sample measurements reduce by mean and pulse counts by sum. Nil,
// NaN and NoData values are excluded from both the numerator and the divisor.
package averaging
