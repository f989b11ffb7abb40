package types

import "context"

// SensorInfo is the static identity of a sensor measurement.
type SensorInfo struct {
	Sensor      string // hardware or source identity, e.g. "DS18B20"
	Name        string // measurement name, e.g. "Temperature"
	Unit        string
	Symbol      string
	Description string
	Kind        Kind
}

// Sensor is anything the engine can identify. Concrete sensors additionally
// implement ScalarSensor or LocationSensor.
type Sensor interface {
	Info() SensorInfo
}

// ScalarSensor produces one numeric value per read. A non-nil error marks the
// reading as failed for this cycle.
type ScalarSensor interface {
	Sensor
	Read(ctx context.Context) (float64, error)
}

// LocationSensor produces a position fix. It owns a background controller
// that must be stopped exactly once at shutdown.
type LocationSensor interface {
	Sensor
	ReadLocation(ctx context.Context) (Location, error)
	Stop() error
}

// Output receives every dispatched batch. A non-nil error (or a panic) counts
// as a failed write for this output only.
type Output interface {
	Name() string
	Write(ctx context.Context, batch *Batch) error
}

// MetadataWriter is implemented by outputs that record run metadata.
type MetadataWriter interface {
	WriteMetadata(ctx context.Context, meta Metadata) error
}

// Reason identifies why a notification is sent.
type Reason string

const (
	ReasonSensor Reason = "alertsensor"
	ReasonOutput Reason = "alertoutput"
)

// Notifier delivers an alert. Delivery errors are the notifier's own concern
// and are never reported back to the engine.
type Notifier interface {
	Notify(ctx context.Context, reason Reason)
}

// Calibrator maps a raw batch to a calibrated one. Calling it twice with the
// same batch pointer returns the same result without recomputing.
type Calibrator interface {
	Calibrate(batch *Batch) *Batch
}

// Averager exposes the cross-sensor calibrated mean of the most recent batch.
type Averager interface {
	FindAveraged(name string) (float64, bool)
}

// LimitChecker reports whether a reading exceeds its configured threshold.
type LimitChecker interface {
	Breach(r Reading) bool
}

// IndicatorLight is a two-state light.
type IndicatorLight interface {
	On() error
	Off() error
}

// Policy controls when an indicator light is lit.
type Policy string

const (
	// PolicyAll lights on every qualifying cycle.
	PolicyAll Policy = "all"
	// PolicyFirst lights on the first qualifying cycle of the run only.
	PolicyFirst Policy = "first"
	// PolicyConstant lights and stays lit until shutdown. Failure light only.
	PolicyConstant Policy = "constant"
)
