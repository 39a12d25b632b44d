package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/homeworks-core/internal/homeworks"
)

// WriteCCOState records a derived relay state change.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceKey: Relay identity, e.g. "[02:06:03]-4"
//   - kind: Device category (switch, light, cover, lock)
//   - on: The derived state
//
// Example:
//
//	client.WriteCCOState("[02:06:03]-4", "lock", true)
func (c *Client) WriteCCOState(deviceKey, kind string, on bool) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if on {
		state = 1
	}

	point := write.NewPoint(
		"cco_state",
		map[string]string{
			"device": deviceKey,
			"kind":   kind,
		},
		map[string]interface{}{
			"on": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDimmerLevel records a reported dimmer level.
//
// Parameters:
//   - addr: Normalised dimmer address, e.g. "[01:04:02:08]"
//   - level: Brightness 0-100
func (c *Client) WriteDimmerLevel(addr string, level int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"dimmer_level",
		map[string]string{
			"addr": addr,
		},
		map[string]interface{}{
			"level": level,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteButtonEvent records a keypad button press or release.
//
// Parameters:
//   - addr: Keypad address
//   - button: 1-based button number
//   - action: "pressed", "released", or "held"
func (c *Client) WriteButtonEvent(addr string, button int, action string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"button_event",
		map[string]string{
			"addr":   addr,
			"action": action,
		},
		map[string]interface{}{
			"button": button,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteControllerHealth records the session counters for one controller.
//
// Called on the health reporting interval so counter series line up with
// the MQTT health topic.
//
// Parameters:
//   - controllerID: Controller identifier
//   - connected: Whether the controller session is up
//   - stats: Counter snapshot
func (c *Client) WriteControllerHealth(controllerID string, connected bool, stats homeworks.StatsSnapshot) {
	if !c.IsConnected() {
		return
	}

	up := 0
	if connected {
		up = 1
	}

	point := write.NewPoint(
		"controller_health",
		map[string]string{
			"controller": controllerID,
		},
		map[string]interface{}{
			"connected":       up,
			"lines_received":  int64(stats.LinesReceived),  // #nosec G115 -- counters fit int64
			"commands_sent":   int64(stats.CommandsSent),   // #nosec G115
			"decode_failures": int64(stats.DecodeFailures), // #nosec G115
			"poll_failures":   int64(stats.PollFailures),   // #nosec G115
			"reconnects":      int64(stats.Reconnects),     // #nosec G115
			"dropped_events":  int64(stats.DroppedEvents),  // #nosec G115
			"stale_commands":  int64(stats.StaleCommands),  // #nosec G115
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
