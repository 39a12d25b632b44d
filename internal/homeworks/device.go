package homeworks

import "fmt"

// DeviceKind categorises a CCO relay for downstream consumers. The
// derivation logic is identical for all kinds; the kind only shapes how the
// published state is interpreted.
type DeviceKind string

const (
	KindSwitch DeviceKind = "switch"
	KindLight  DeviceKind = "light"
	KindCover  DeviceKind = "cover"
	KindLock   DeviceKind = "lock"
)

// ValidKind reports whether k is one of the supported device kinds.
func ValidKind(k DeviceKind) bool {
	switch k {
	case KindSwitch, KindLight, KindCover, KindLock:
		return true
	}
	return false
}

// CCODevice describes one relay output on a CCO module. Button is the
// 1-based relay number within the module; together with the configured KLS
// window it selects the digit that carries the relay state.
type CCODevice struct {
	ID       string
	Name     string
	Addr     Address
	Button   int
	Kind     DeviceKind
	Inverted bool
}

// Key returns the stable identity used for registration and state topics,
// formed from the module address and the relay number.
func (d CCODevice) Key() string {
	return fmt.Sprintf("%s-%d", d.Addr, d.Button)
}

// Validate checks the device definition against the KLS window geometry.
// windowOffset and windowSize describe where the CCO relay digits sit
// inside the 24-digit KLS string.
func (d CCODevice) Validate(windowOffset, windowSize int) error {
	if d.Name == "" {
		return fmt.Errorf("hw: device name required")
	}
	if !ValidKind(d.Kind) {
		return fmt.Errorf("hw: unknown device kind %q", d.Kind)
	}
	if d.Button < 1 || d.Button > windowSize {
		return fmt.Errorf("%w: button %d outside window 1..%d", ErrButtonOutOfRange, d.Button, windowSize)
	}
	if idx := windowOffset + d.Button - 1; idx < 0 || idx >= KLSDigitCount {
		return fmt.Errorf("%w: button %d maps to digit index %d", ErrButtonOutOfRange, d.Button, idx)
	}
	return nil
}

// DigitIndex returns the 0-based index into the KLS digit string that
// carries this relay's state for the given window offset.
func (d CCODevice) DigitIndex(windowOffset int) int {
	return windowOffset + d.Button - 1
}

// DimmerDevice describes one dimmer zone tracked by the level cache.
type DimmerDevice struct {
	ID   string
	Name string
	// Addr is the normalized 3-5 group dimmer address.
	Addr string
	// Poll enables the periodic RDL refresh for this zone.
	Poll bool
}

// Validate checks the dimmer definition.
func (d DimmerDevice) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("hw: device name required")
	}
	if _, err := NormalizeAddress(d.Addr); err != nil {
		return err
	}
	return nil
}
