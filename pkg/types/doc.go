// Package types defines the data model and capability interfaces shared by
// the sampling engine and every sensor, output, notifier and indicator plugin.
//
// reading.go holds the in-memory shapes that flow through one sampling
// cycle: Reading (scalar or location), Batch and Metadata.
//
// capabilities.go holds the narrow interfaces the engine drives. A plugin is
// classified into a role once, when the engine is built, by checking which
// of these interfaces it satisfies.
package types
