package homeworks

import "testing"

func TestRelayStateString(t *testing.T) {
	tests := []struct {
		state RelayState
		want  string
	}{
		{StateOn, "on"},
		{StateOff, "off"},
		{StateUnknown, "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRelayStateKnown(t *testing.T) {
	if StateUnknown.Known() {
		t.Errorf("StateUnknown.Known() = true")
	}
	if !StateOn.Known() || !StateOff.Known() {
		t.Errorf("known states report Known() = false")
	}
	if !StateOn.Bool() || StateOff.Bool() {
		t.Errorf("Bool() mapping wrong")
	}
}

func TestRelayStateFrom(t *testing.T) {
	addr := Address{Processor: 2, Link: 6, Address: 3}
	digits, err := ParseKLSDigits("000000000222112110000000")
	if err != nil {
		t.Fatalf("ParseKLSDigits unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		button   int
		inverted bool
		want     RelayState
	}{
		// Window offset 9: button n reads digit index 9+n-1.
		{name: "button 1 digit 2", button: 1, want: StateOff},
		{name: "button 2 digit 2", button: 2, want: StateOff},
		{name: "button 3 digit 2", button: 3, want: StateOff},
		{name: "button 4 digit 1", button: 4, want: StateOn},
		{name: "button 5 digit 1", button: 5, want: StateOn},
		{name: "button 6 digit 2", button: 6, want: StateOff},
		{name: "button 7 digit 1", button: 7, want: StateOn},
		{name: "button 8 digit 1", button: 8, want: StateOn},
		{name: "button 9 digit 0", button: 9, want: StateUnknown},

		{name: "button 4 inverted", button: 4, inverted: true, want: StateOff},
		{name: "button 6 inverted", button: 6, inverted: true, want: StateOn},
		// Inversion never manufactures state from an unknown digit.
		{name: "button 9 inverted", button: 9, inverted: true, want: StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := CCODevice{
				Name:     "test",
				Addr:     addr,
				Button:   tt.button,
				Kind:     KindSwitch,
				Inverted: tt.inverted,
			}
			if got := RelayStateFrom(digits, dev, 9); got != tt.want {
				t.Errorf("RelayStateFrom(button=%d, inverted=%v) = %v, want %v",
					tt.button, tt.inverted, got, tt.want)
			}
		})
	}
}

func TestRelayStateFromBlinkDigit(t *testing.T) {
	digits, err := ParseKLSDigits("333333333333333333333333")
	if err != nil {
		t.Fatalf("ParseKLSDigits unexpected error: %v", err)
	}

	dev := CCODevice{Name: "blink", Addr: Address{1, 1, 1}, Button: 1, Kind: KindSwitch}
	if got := RelayStateFrom(digits, dev, 9); got != StateUnknown {
		t.Errorf("blink digit decoded to %v, want StateUnknown", got)
	}
}

func TestCCODeviceValidate(t *testing.T) {
	addr := Address{Processor: 2, Link: 6, Address: 3}

	tests := []struct {
		name    string
		dev     CCODevice
		wantErr bool
	}{
		{
			name: "valid",
			dev:  CCODevice{Name: "pump", Addr: addr, Button: 1, Kind: KindSwitch},
		},
		{
			name: "top of window",
			dev:  CCODevice{Name: "pump", Addr: addr, Button: 8, Kind: KindSwitch},
		},
		{
			name:    "button zero",
			dev:     CCODevice{Name: "pump", Addr: addr, Button: 0, Kind: KindSwitch},
			wantErr: true,
		},
		{
			name:    "button beyond window",
			dev:     CCODevice{Name: "pump", Addr: addr, Button: 9, Kind: KindSwitch},
			wantErr: true,
		},
		{
			name:    "missing name",
			dev:     CCODevice{Addr: addr, Button: 1, Kind: KindSwitch},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			dev:     CCODevice{Name: "pump", Addr: addr, Button: 1, Kind: "fan"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dev.Validate(9, 8)
			if tt.wantErr && err == nil {
				t.Errorf("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestCCODeviceKey(t *testing.T) {
	dev := CCODevice{Addr: Address{Processor: 2, Link: 6, Address: 3}, Button: 6}
	if got := dev.Key(); got != "[02:06:03]-6" {
		t.Errorf("Key() = %q, want %q", got, "[02:06:03]-6")
	}
}
