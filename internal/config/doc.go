// Package config loads and watches the AirPi configuration file (airpi.yaml).
//
// Top-level types:
//   - Config{Sampling, LEDs, Misc, Logging, Calibration, Limits, Sensors,
//     Outputs, Notifications}: full config tree parsed from YAML
//   - Sampling: sample_interval, average_interval, stop_after, warmup,
//     wait_to_start; AverageWindow() is the cycles-per-average count
//   - LEDs: red_pin, green_pin, success (all|first), failure
//     (all|first|constant), hold
//   - Plugin: name, type, enabled, params; Output adds calibration, limits,
//     metadata, async and needs_internet switches
//   - Params: loosely-typed plugin parameters with cast-based accessors;
//     Secret() resolves "<key>_env" from the environment
//
// Load(path) reads the YAML file, applies defaults (5s sample interval,
// all/all LED policies, 1s LED hold, json logging), then validates intervals,
// enums and plugin types. Any error here is fatal before sampling starts.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. Only calibration and limits are
// applied live; the caller decides what to do with the rest.
package config
