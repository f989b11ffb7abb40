// Package sensors builds the configured sensors.
//
// Every sensor reports a static types.SensorInfo and either a scalar Read or
// a location ReadLocation. Builder.Build maps a config entry to the right
// implementation and fails fast on missing required parameters.
//
// Slow hardware (1-wire, I2C, the DHT22) is read through a bounded worker: each read
// runs in its own goroutine and the caller waits at most a fixed timeout,
// falling back to the last good value. After a successful read the device is
// not touched again until a minimum interval has passed; reads inside that
// interval return the cached value.
package sensors
