// Package homeworks implements a protocol client and derived-state engine
// for Lutron Homeworks Series 4/8 lighting processors.
//
// These processors speak a line-oriented ASCII protocol over TCP: commands
// and reports are CRLF-terminated, comma-separated lines. The protocol has
// no framing beyond the line terminator and no request/response
// correlation; state arrives as asynchronous monitor reports and as
// answers to explicit poll requests.
//
// # Architecture
//
// The package is organised as a pipeline:
//
//	┌────────────┐   lines    ┌────────────┐   events   ┌────────────┐
//	│ Controller │◄──────────►│   Client   │───────────►│   Engine   │──► MQTT
//	│ (TCP :23)  │            │ Dispatcher │            │            │
//	└────────────┘            └────────────┘            └────────────┘
//
//   - Client maintains the TCP session: login, monitor subscriptions,
//     line framing, and reconnection with exponential backoff.
//   - Dispatcher serialises all outbound commands through one writer,
//     enforcing the processor's rate tolerance and delay directives.
//   - Engine polls CCO modules, derives relay on/off state from KLS digit
//     strings, tracks dimmer levels, and publishes changes to MQTT.
//
// # CCO State Derivation
//
// Series 4/8 processors expose contact closure outputs (CCO relays) only
// through keypad LED state strings. An RKLS poll answers with a 24-digit
// string; the relay digits occupy a window inside it (offset 9 on stock
// firmware). Digit 1 means the relay is closed (on), 2 open (off); other
// digits carry keypad LED codes and leave the relay state unchanged.
//
// Example:
//
//	digits, _ := homeworks.ParseKLSDigits("000000000222112110000000")
//	dev := homeworks.CCODevice{Addr: addr, Button: 4}
//	state := homeworks.RelayStateFrom(digits, dev, 9) // StateOn
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package homeworks
