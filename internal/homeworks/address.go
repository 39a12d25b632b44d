package homeworks

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a keypad or CCO module on the Homeworks link.
//
// Format: processor:link:address, each component 0-99. The canonical wire
// rendering is zero-padded two-digit groups joined by colons and wrapped in
// brackets, e.g. "[02:06:03]".
//
// Address is a comparable value type: equality and map keys use the three
// components, never the string form.
type Address struct {
	Processor uint8
	Link      uint8
	Address   uint8
}

// Address component limits.
const (
	maxAddrComponent = 99

	// ccoGroupCount is the fixed number of groups in a CCO/keypad address.
	ccoGroupCount = 3

	// Dimmer addressing varies by dimmer family: RPM and D48/H48 use five
	// groups, RF uses four, and some families use the plain three-group
	// form. The codec accepts the full range.
	minDimmerGroups = 3
	maxDimmerGroups = 5
)

// ParseAddress parses a keypad/CCO address string.
//
// Accepts formats:
//   - "2:6:3" (bare colon-separated)
//   - "[02:06:03]" (canonical bracketed form)
//
// Exactly three groups are required; dimmer addresses with more groups are
// handled by ParseDimmerAddress.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "[]"), ":")
	if len(parts) != ccoGroupCount {
		return Address{}, fmt.Errorf("%w: expected processor:link:address, got %q", ErrInvalidAddress, s)
	}

	var vals [ccoGroupCount]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil || v > maxAddrComponent {
			return Address{}, fmt.Errorf("%w: component must be 0-%d, got %q", ErrInvalidAddress, maxAddrComponent, part)
		}
		vals[i] = uint8(v)
	}

	return Address{Processor: vals[0], Link: vals[1], Address: vals[2]}, nil
}

// String returns the canonical bracketed wire form.
//
// Example: "[02:06:03]"
func (a Address) String() string {
	return fmt.Sprintf("[%02d:%02d:%02d]", a.Processor, a.Link, a.Address)
}

// DimmerAddress is a variable-length dimmer address (3-5 colon-separated
// groups depending on dimmer family). It is kept in normalized string form
// because only CCO/keypad addresses participate in KLS derivation.
type DimmerAddress struct {
	groups [maxDimmerGroups]uint8
	n      uint8
}

// ParseDimmerAddress parses a dimmer address with 3-5 groups.
//
// Accepts bare and bracketed forms, e.g. "1:4:2:8" or "[01:04:02:08]".
func ParseDimmerAddress(s string) (DimmerAddress, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "[]"), ":")
	if len(parts) < minDimmerGroups || len(parts) > maxDimmerGroups {
		return DimmerAddress{}, fmt.Errorf("%w: dimmer address must have %d-%d groups, got %q",
			ErrInvalidAddress, minDimmerGroups, maxDimmerGroups, s)
	}

	var da DimmerAddress
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil || v > maxAddrComponent {
			return DimmerAddress{}, fmt.Errorf("%w: component must be 0-%d, got %q", ErrInvalidAddress, maxAddrComponent, part)
		}
		da.groups[i] = uint8(v)
	}
	da.n = uint8(len(parts))
	return da, nil
}

// String returns the normalized bracketed form, e.g. "[01:04:02:08]".
func (d DimmerAddress) String() string {
	parts := make([]string, d.n)
	for i := 0; i < int(d.n); i++ {
		parts[i] = fmt.Sprintf("%02d", d.groups[i])
	}
	return "[" + strings.Join(parts, ":") + "]"
}

// Groups returns the address components in order.
func (d DimmerAddress) Groups() []uint8 {
	return append([]uint8(nil), d.groups[:d.n]...)
}

// NormalizeAddress rewrites any accepted address string into the canonical
// bracketed zero-padded form without interpreting the group count. Used as
// a cache key for dimmer addresses where the family (and thus group count)
// is not known to the core.
func NormalizeAddress(s string) (string, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(s), "[]"), ":")
	if len(parts) < minDimmerGroups || len(parts) > maxDimmerGroups {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	norm := make([]string, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil || v > maxAddrComponent {
			return "", fmt.Errorf("%w: component %q", ErrInvalidAddress, part)
		}
		norm[i] = fmt.Sprintf("%02d", v)
	}
	return "[" + strings.Join(norm, ":") + "]", nil
}
