// Package influxdb records Homeworks time-series measurements.
//
// It wraps the official influxdb-client-go v2 library with the patterns
// used elsewhere in this codebase for connection management, metric
// writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series storage for:
//   - Derived relay (CCO) state changes
//   - Dimmer level history
//   - Keypad button events
//   - Controller session counters
//
// Recording is optional; with influxdb.enabled false the rest of the
// client runs without it.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.Influx)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.WriteDimmerLevel("[01:04:02:08]", 75)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// SetOnError. Connection and health check errors are returned directly.
package influxdb
