package homeworks

import "time"

// RelayState is the derived on/off state of a CCO relay.
type RelayState uint8

const (
	// StateUnknown means no digit observed yet, or the last observed digit
	// did not encode a relay position.
	StateUnknown RelayState = iota
	StateOff
	StateOn
)

// String implements fmt.Stringer.
func (s RelayState) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// Bool maps the state onto the published boolean payload. Only valid when
// Known reports true.
func (s RelayState) Bool() bool { return s == StateOn }

// Known reports whether the state carries a definite relay position.
func (s RelayState) Known() bool { return s == StateOn || s == StateOff }

// decodeDigit maps one KLS digit to a relay state. Digit 1 is a closed
// relay, digit 2 an open one. 0 and 3 are keypad LED codes that carry no
// relay information.
func decodeDigit(d uint8) RelayState {
	switch d {
	case klsDigitOn:
		return StateOn
	case klsDigitOpen:
		return StateOff
	default:
		return StateUnknown
	}
}

// RelayStateFrom derives the published state for one device from a KLS
// digit string. Inversion is applied after decoding, so an inverted device
// with digit 1 reports off. An unknown digit yields StateUnknown regardless
// of inversion.
func RelayStateFrom(digits KLSDigits, device CCODevice, windowOffset int) RelayState {
	st := decodeDigit(digits[device.DigitIndex(windowOffset)])
	if !st.Known() || !device.Inverted {
		return st
	}
	if st == StateOn {
		return StateOff
	}
	return StateOn
}

// KLSSnapshot is the last observed digit string for one module address.
type KLSSnapshot struct {
	Digits     KLSDigits
	ReceivedAt time.Time
}
