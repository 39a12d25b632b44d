package homeworks

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KLSDigitCount is the fixed length of a KLS report: one digit per keypad
// LED position.
const KLSDigitCount = 24

// KLS digit values as reported by the controller. For CCO relays only
// On (relay closed) and Off (relay open) are meaningful; Blink states appear
// on keypad LEDs and unused positions.
const (
	klsDigitOff   = 0
	klsDigitOn    = 1
	klsDigitOpen  = 2
	klsDigitBlink = 3
)

// KLSDigits is a validated 24-digit LED state vector, one symbol per
// position, each in {0,1,2,3}.
type KLSDigits [KLSDigitCount]uint8

// ParseKLSDigits validates and parses a raw KLS digit string.
//
// The string must be exactly 24 characters, each in {0,1,2,3}. Validation
// lives here, not in the state engine: a malformed report must never reach
// the cache.
func ParseKLSDigits(s string) (KLSDigits, error) {
	var d KLSDigits
	if len(s) != KLSDigitCount {
		return d, fmt.Errorf("%w: length %d, want %d", ErrInvalidKLS, len(s), KLSDigitCount)
	}
	for i := 0; i < KLSDigitCount; i++ {
		c := s[i]
		if c < '0' || c > '3' {
			return d, fmt.Errorf("%w: symbol %q at position %d", ErrInvalidKLS, string(c), i)
		}
		d[i] = c - '0'
	}
	return d, nil
}

// String renders the digit vector back to its 24-character wire form.
func (d KLSDigits) String() string {
	var b strings.Builder
	b.Grow(KLSDigitCount)
	for _, v := range d {
		b.WriteByte('0' + v)
	}
	return b.String()
}

// ButtonAction distinguishes the keypad button event variants.
type ButtonAction uint8

// Button event actions.
const (
	ButtonPressed ButtonAction = iota
	ButtonReleased
	ButtonHold
	ButtonDoubleTap
)

// String returns the action name for logging and published events.
func (a ButtonAction) String() string {
	switch a {
	case ButtonPressed:
		return "pressed"
	case ButtonReleased:
		return "released"
	case ButtonHold:
		return "hold"
	case ButtonDoubleTap:
		return "double_tap"
	default:
		return "unknown"
	}
}

// Message is a decoded inbound line. The concrete type selects the handler;
// Raw always carries the original line for logging.
type Message interface {
	Raw() string
}

// raw embeds the original line into every concrete message type.
type raw struct {
	Line       string
	ReceivedAt time.Time
}

func (r raw) Raw() string { return r.Line }

// KLSMessage is a keypad LED state report: "KLS, [pp:ll:aa], <24 digits>".
type KLSMessage struct {
	raw
	Addr   Address
	Digits KLSDigits
}

// DimmerLevelMessage is a dimmer level report: "DL, [addr], <level>".
// Addr is the normalized bracket form; dimmer group counts vary by family.
type DimmerLevelMessage struct {
	raw
	Addr  string
	Level float64
}

// ButtonEventMessage is a keypad/dimmer/sivoia button event. Addr is the
// normalized bracket form; dimmer and Sivoia sources use 4 or 5 address
// groups where keypads use 3.
type ButtonEventMessage struct {
	raw
	Addr   string
	Button int
	Action ButtonAction
}

// KeypadEnableMessage reports keypad enable state: "KES, [addr], enabled".
type KeypadEnableMessage struct {
	raw
	Addr    Address
	Enabled bool
}

// LoginPromptMessage is the bare "LOGIN:" prompt the controller emits when
// credentials are required.
type LoginPromptMessage struct {
	raw
}

// LoginResultMessage reports the outcome of a LOGIN command.
type LoginResultMessage struct {
	raw
	OK bool
}

// MonitorAckMessage is one of the fixed monitoring-enabled acknowledgement
// lines. Carried as a type so callers can log it at debug and move on.
type MonitorAckMessage struct {
	raw
}

// ControllerErrorMessage is an "Error: ..." response from the controller,
// e.g. after an invalid command.
type ControllerErrorMessage struct {
	raw
	Text string
}

// UnparseableMessage wraps any line the codec does not recognise. Decoding
// never fails: the read loop counts and logs these, nothing more.
type UnparseableMessage struct {
	raw
	Reason string
}

// Fixed acknowledgement lines sent after each monitoring-enable command.
var monitorAcks = map[string]struct{}{
	"Keypad button monitoring enabled":   {},
	"GrafikEye scene monitoring enabled": {},
	"Dimmer level monitoring enabled":    {},
	"Keypad led monitoring enabled":      {},
	"CCO monitoring enabled":             {},
	"Cover monitoring enabled":           {},
}

// Login protocol literals.
const (
	loginPrompt     = "LOGIN:"
	loginSuccessful = "login successful"
	loginIncorrect  = "login incorrect"
)

// buttonActions maps the event token prefix to its action. Keypad (KB*),
// dimmer (DB*) and Sivoia (SVB*) variants share suffix semantics.
var buttonActions = map[string]ButtonAction{
	"P":  ButtonPressed,
	"R":  ButtonReleased,
	"H":  ButtonHold,
	"DT": ButtonDoubleTap,
}

// DecodeLine decodes one inbound line into a typed message.
//
// Splits on commas after trimming whitespace; the first token selects the
// message kind case-insensitively. Malformed input yields an
// UnparseableMessage rather than an error, so the read loop can count it
// and continue.
func DecodeLine(line string) Message {
	now := time.Now()
	trimmed := strings.TrimSpace(line)
	base := raw{Line: line, ReceivedAt: now}

	if trimmed == "" {
		return UnparseableMessage{raw: base, Reason: "empty line"}
	}

	// Non-comma-separated variants first: login handshake and monitor acks.
	if strings.HasPrefix(trimmed, loginPrompt) {
		return LoginPromptMessage{raw: base}
	}
	if strings.HasPrefix(trimmed, loginSuccessful) {
		return LoginResultMessage{raw: base, OK: true}
	}
	if strings.HasPrefix(trimmed, loginIncorrect) {
		return LoginResultMessage{raw: base, OK: false}
	}
	if _, ok := monitorAcks[trimmed]; ok {
		return MonitorAckMessage{raw: base}
	}
	if strings.HasPrefix(trimmed, "Error") {
		return ControllerErrorMessage{raw: base, Text: trimmed}
	}

	fields := strings.Split(trimmed, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	switch keyword := strings.ToUpper(fields[0]); keyword {
	case "KLS":
		return decodeKLS(base, fields)
	case "DL":
		return decodeDimmerLevel(base, fields)
	case "KES":
		return decodeKeypadEnable(base, fields)
	default:
		if action, ok := matchButtonEvent(keyword); ok {
			return decodeButtonEvent(base, fields, action)
		}
		return UnparseableMessage{raw: base, Reason: "unrecognised keyword " + fields[0]}
	}
}

// matchButtonEvent resolves KBP/KBR/KBH/KBDT and the DB*/SVB* dimmer and
// Sivoia variants to a ButtonAction.
func matchButtonEvent(keyword string) (ButtonAction, bool) {
	for _, prefix := range []string{"KB", "DB", "SVB"} {
		if suffix, ok := strings.CutPrefix(keyword, prefix); ok {
			if action, ok := buttonActions[suffix]; ok {
				return action, true
			}
		}
	}
	return 0, false
}

func decodeKLS(base raw, fields []string) Message {
	if len(fields) != 3 {
		return UnparseableMessage{raw: base, Reason: "KLS wants 2 arguments"}
	}
	addr, err := ParseAddress(fields[1])
	if err != nil {
		return UnparseableMessage{raw: base, Reason: err.Error()}
	}
	digits, err := ParseKLSDigits(fields[2])
	if err != nil {
		return UnparseableMessage{raw: base, Reason: err.Error()}
	}
	return KLSMessage{raw: base, Addr: addr, Digits: digits}
}

func decodeDimmerLevel(base raw, fields []string) Message {
	if len(fields) != 3 {
		return UnparseableMessage{raw: base, Reason: "DL wants 2 arguments"}
	}
	norm, err := NormalizeAddress(fields[1])
	if err != nil {
		return UnparseableMessage{raw: base, Reason: err.Error()}
	}
	level, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || level < 0 || level > 100 {
		return UnparseableMessage{raw: base, Reason: "DL level must be 0-100"}
	}
	return DimmerLevelMessage{raw: base, Addr: norm, Level: level}
}

func decodeKeypadEnable(base raw, fields []string) Message {
	if len(fields) != 3 {
		return UnparseableMessage{raw: base, Reason: "KES wants 2 arguments"}
	}
	addr, err := ParseAddress(fields[1])
	if err != nil {
		return UnparseableMessage{raw: base, Reason: err.Error()}
	}
	return KeypadEnableMessage{raw: base, Addr: addr, Enabled: strings.EqualFold(fields[2], "enabled")}
}

func decodeButtonEvent(base raw, fields []string, action ButtonAction) Message {
	if len(fields) != 3 {
		return UnparseableMessage{raw: base, Reason: "button event wants 2 arguments"}
	}
	norm, err := NormalizeAddress(fields[1])
	if err != nil {
		return UnparseableMessage{raw: base, Reason: err.Error()}
	}
	button, err := strconv.Atoi(fields[2])
	if err != nil || button < 1 {
		return UnparseableMessage{raw: base, Reason: "invalid button number"}
	}
	return ButtonEventMessage{raw: base, Addr: norm, Button: button, Action: action}
}
