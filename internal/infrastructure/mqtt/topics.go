package mqtt

import "fmt"

// Topic prefixes for the Homeworks MQTT surface.
//
// All state and event topics use the flat scheme:
// homeworks/{category}/{kind}/{address_or_id}
// This matches the engine's published topics in internal/homeworks.
const (
	// TopicPrefix is the base for all Homeworks topics.
	TopicPrefix = "homeworks"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "homeworks/system"
)

// Topics provides builders for Homeworks MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.CCOState("[02:06:03]-6")
//	// Returns: "homeworks/state/cco/[02:06:03]-6"
type Topics struct{}

// CCOState returns the topic for one relay's derived state.
//
// Example: homeworks/state/cco/[02:06:03]-6
func (Topics) CCOState(deviceKey string) string {
	return fmt.Sprintf("%s/state/cco/%s", TopicPrefix, deviceKey)
}

// DimmerState returns the topic for one dimmer zone's level.
//
// Example: homeworks/state/dimmer/[01:04:02:08]
func (Topics) DimmerState(addr string) string {
	return fmt.Sprintf("%s/state/dimmer/%s", TopicPrefix, addr)
}

// ButtonEvent returns the topic for one keypad's button events.
//
// Example: homeworks/event/button/[01:06:01]
func (Topics) ButtonEvent(addr string) string {
	return fmt.Sprintf("%s/event/button/%s", TopicPrefix, addr)
}

// Command returns the raw command passthrough topic for a controller.
//
// Example: homeworks/command/homeworks-01
func (Topics) Command(controllerID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, controllerID)
}

// Health returns the health status topic for a controller.
//
// Example: homeworks/health/homeworks-01
func (Topics) Health(controllerID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, controllerID)
}

// SystemStatus returns the system status topic for the client process.
//
// Example: homeworks/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCCOStates returns a pattern matching every relay state topic.
//
// Pattern: homeworks/state/cco/+
func (Topics) AllCCOStates() string {
	return fmt.Sprintf("%s/state/cco/+", TopicPrefix)
}

// AllDimmerStates returns a pattern matching every dimmer level topic.
//
// Pattern: homeworks/state/dimmer/+
func (Topics) AllDimmerStates() string {
	return fmt.Sprintf("%s/state/dimmer/+", TopicPrefix)
}

// AllButtonEvents returns a pattern matching every keypad event topic.
//
// Pattern: homeworks/event/button/+
func (Topics) AllButtonEvents() string {
	return fmt.Sprintf("%s/event/button/+", TopicPrefix)
}

// AllHealth returns a pattern matching every controller health topic.
//
// Pattern: homeworks/health/+
func (Topics) AllHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Homeworks topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: homeworks/#
func (Topics) AllTopics() string {
	return "homeworks/#"
}
