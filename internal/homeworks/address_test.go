package homeworks

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{
			name:  "bare form",
			input: "2:6:3",
			want:  Address{Processor: 2, Link: 6, Address: 3},
		},
		{
			name:  "bracketed zero-padded form",
			input: "[02:06:03]",
			want:  Address{Processor: 2, Link: 6, Address: 3},
		},
		{
			name:  "surrounding whitespace",
			input: "  1:4:12 ",
			want:  Address{Processor: 1, Link: 4, Address: 12},
		},
		{
			name:  "maximum components",
			input: "99:99:99",
			want:  Address{Processor: 99, Link: 99, Address: 99},
		},
		{
			name:    "too few groups",
			input:   "2:6",
			wantErr: true,
		},
		{
			name:    "too many groups",
			input:   "2:6:3:4",
			wantErr: true,
		},
		{
			name:    "component out of range",
			input:   "2:100:3",
			wantErr: true,
		},
		{
			name:    "non-numeric component",
			input:   "2:x:3",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAddress(%q) expected error, got nil", tt.input)
				}
				if err != nil && !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseAddress(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	addr := Address{Processor: 2, Link: 6, Address: 3}
	if got := addr.String(); got != "[02:06:03]" {
		t.Errorf("String() = %q, want %q", got, "[02:06:03]")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addr := Address{Processor: 1, Link: 5, Address: 42}
	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress(%q) unexpected error: %v", addr.String(), err)
	}
	if parsed != addr {
		t.Errorf("round trip = %v, want %v", parsed, addr)
	}
}

func TestAddressComparable(t *testing.T) {
	a := Address{Processor: 2, Link: 6, Address: 3}
	b, err := ParseAddress("[02:06:03]")
	if err != nil {
		t.Fatalf("ParseAddress unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("equal addresses compare unequal: %v vs %v", a, b)
	}

	// Map keys are by component, not string form.
	m := map[Address]int{a: 1}
	if m[b] != 1 {
		t.Errorf("map lookup by parsed address failed")
	}
}

func TestParseDimmerAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		groups  int
		wantErr bool
	}{
		{
			name:   "three groups",
			input:  "1:2:3",
			want:   "[01:02:03]",
			groups: 3,
		},
		{
			name:   "four groups",
			input:  "1:4:2:8",
			want:   "[01:04:02:08]",
			groups: 4,
		},
		{
			name:   "five groups bracketed",
			input:  "[01:01:00:02:04]",
			want:   "[01:01:00:02:04]",
			groups: 5,
		},
		{
			name:    "two groups",
			input:   "1:2",
			wantErr: true,
		},
		{
			name:    "six groups",
			input:   "1:2:3:4:5:6",
			wantErr: true,
		},
		{
			name:    "component out of range",
			input:   "1:2:3:200",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDimmerAddress(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDimmerAddress(%q) expected error, got nil", tt.input)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseDimmerAddress(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
			if len(got.Groups()) != tt.groups {
				t.Errorf("Groups() length = %d, want %d", len(got.Groups()), tt.groups)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "keypad form", input: "2:6:3", want: "[02:06:03]"},
		{name: "already normalized", input: "[02:06:03]", want: "[02:06:03]"},
		{name: "four groups", input: "1:4:2:8", want: "[01:04:02:08]"},
		{name: "five groups", input: "1:1:0:2:4", want: "[01:01:00:02:04]"},
		{name: "too few groups", input: "1:2", wantErr: true},
		{name: "garbage", input: "lights", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeAddress(%q) expected error, got nil", tt.input)
				}
				return
			}

			if err != nil {
				t.Errorf("NormalizeAddress(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
