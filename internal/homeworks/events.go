package homeworks

import "time"

// TopicPrefix is the root of all MQTT topics published by the client.
const TopicPrefix = "homeworks"

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// StateRecorder receives every published state change for persistence or
// metrics. It is optional; a nil recorder disables recording.
type StateRecorder interface {
	// RecordCCOState records a derived relay state change.
	RecordCCOState(ev CCOStateEvent)

	// RecordDimmerLevel records an observed dimmer level.
	RecordDimmerLevel(ev DimmerLevelEvent)

	// RecordButtonEvent records a keypad button event.
	RecordButtonEvent(ev ButtonEvent)
}

// CCOStateEvent is a derived relay state change.
type CCOStateEvent struct {
	// Device is the registered device definition.
	Device CCODevice

	// State is the derived relay state after inversion.
	State RelayState

	// ObservedAt is when the KLS string carrying the state arrived.
	ObservedAt time.Time
}

// DimmerLevelEvent is an observed dimmer level report.
type DimmerLevelEvent struct {
	// Addr is the normalized dimmer address.
	Addr string

	// Level is the reported level, percent 0-100.
	Level float64

	// ObservedAt is when the level report arrived.
	ObservedAt time.Time
}

// ButtonEvent is a keypad button press, release, hold, or double-tap.
type ButtonEvent struct {
	Addr       string
	Button     int
	Action     ButtonAction
	ObservedAt time.Time
}

// CCOStateMessage is the published payload for a relay state change.
// Topic: homeworks/state/cco/{addr}-{button}
// QoS: 1, Retained: Yes
type CCOStateMessage struct {
	// Device is the configured device name.
	Device string `json:"device"`

	// Addr is the CCO module address.
	Addr string `json:"addr"`

	// Button is the relay number within the module.
	Button int `json:"button"`

	// Kind is the device category.
	Kind DeviceKind `json:"kind"`

	// State is "on", "off", or "unknown".
	State string `json:"state"`

	// On carries the boolean state; omitted while the state is unknown.
	On *bool `json:"on,omitempty"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// DimmerStateMessage is the published payload for a dimmer level report.
// Topic: homeworks/state/dimmer/{addr}
// QoS: 1, Retained: Yes
type DimmerStateMessage struct {
	// Addr is the normalized dimmer address.
	Addr string `json:"addr"`

	// Level is the reported level, percent 0-100.
	Level float64 `json:"level"`

	// Timestamp is when the level was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// KeypadEventMessage is the published payload for a keypad button event.
// Topic: homeworks/event/button/{addr}
// QoS: 1, Retained: No (events are moments, not states)
type KeypadEventMessage struct {
	// Addr is the keypad address.
	Addr string `json:"addr"`

	// Button is the pressed button number.
	Button int `json:"button"`

	// Action is "pressed", "released", "hold", or "double_tap".
	Action string `json:"action"`

	// Timestamp is when the event arrived (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// CCOStateTopic returns the MQTT topic for one relay's state.
func CCOStateTopic(device CCODevice) string {
	return TopicPrefix + "/state/cco/" + device.Key()
}

// DimmerStateTopic returns the MQTT topic for one dimmer zone's level.
func DimmerStateTopic(addr string) string {
	return TopicPrefix + "/state/dimmer/" + addr
}

// ButtonEventTopic returns the MQTT topic for one keypad's button events.
func ButtonEventTopic(addr string) string {
	return TopicPrefix + "/event/button/" + addr
}

// CommandTopic returns the MQTT topic the client listens on for raw
// command passthrough.
func CommandTopic(controllerID string) string {
	return TopicPrefix + "/command/" + controllerID
}

// NewCCOStateMessage builds the publishable payload for a state event.
func NewCCOStateMessage(ev CCOStateEvent) CCOStateMessage {
	msg := CCOStateMessage{
		Device:    ev.Device.Name,
		Addr:      ev.Device.Addr.String(),
		Button:    ev.Device.Button,
		Kind:      ev.Device.Kind,
		State:     ev.State.String(),
		Timestamp: ev.ObservedAt.UTC(),
	}
	if ev.State.Known() {
		on := ev.State.Bool()
		msg.On = &on
	}
	return msg
}
