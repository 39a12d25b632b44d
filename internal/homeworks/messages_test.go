package homeworks

import (
	"errors"
	"testing"
)

func TestParseKLSDigits(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "valid mixed digits",
			input: "000000000222112110000000",
		},
		{
			name:  "all zeros",
			input: "000000000000000000000000",
		},
		{
			name:  "blink digits",
			input: "333333333333333333333333",
		},
		{
			name:    "too short",
			input:   "0001",
			wantErr: true,
		},
		{
			name:    "too long",
			input:   "0000000002221121100000001",
			wantErr: true,
		},
		{
			name:    "invalid symbol",
			input:   "000000000222112110000004",
			wantErr: true,
		},
		{
			name:    "letter in string",
			input:   "00000000022211211000000x",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKLSDigits(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseKLSDigits(%q) expected error, got nil", tt.input)
				}
				if err != nil && !errors.Is(err, ErrInvalidKLS) {
					t.Errorf("error = %v, want ErrInvalidKLS", err)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseKLSDigits(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestDecodeLineKLS(t *testing.T) {
	msg := DecodeLine("KLS, [02:06:03], 000000000222112110000000")

	kls, ok := msg.(KLSMessage)
	if !ok {
		t.Fatalf("DecodeLine() = %T, want KLSMessage", msg)
	}
	if kls.Addr != (Address{Processor: 2, Link: 6, Address: 3}) {
		t.Errorf("Addr = %v, want [02:06:03]", kls.Addr)
	}
	if kls.Digits.String() != "000000000222112110000000" {
		t.Errorf("Digits = %q", kls.Digits.String())
	}
}

func TestDecodeLineDimmerLevel(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantAddr  string
		wantLevel float64
		wantOK    bool
	}{
		{
			name:      "three group address",
			line:      "DL, [01:02:03], 75",
			wantAddr:  "[01:02:03]",
			wantLevel: 75,
			wantOK:    true,
		},
		{
			name:      "five group rpm address",
			line:      "DL, [01:01:00:02:04], 50.5",
			wantAddr:  "[01:01:00:02:04]",
			wantLevel: 50.5,
			wantOK:    true,
		},
		{
			name:      "unpadded address normalized",
			line:      "DL, 1:2:3, 0",
			wantAddr:  "[01:02:03]",
			wantLevel: 0,
			wantOK:    true,
		},
		{
			name:   "level above range",
			line:   "DL, [01:02:03], 150",
			wantOK: false,
		},
		{
			name:   "negative level",
			line:   "DL, [01:02:03], -5",
			wantOK: false,
		},
		{
			name:   "missing level",
			line:   "DL, [01:02:03]",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := DecodeLine(tt.line)

			dl, ok := msg.(DimmerLevelMessage)
			if ok != tt.wantOK {
				t.Fatalf("DecodeLine(%q) = %T, wantOK=%v", tt.line, msg, tt.wantOK)
			}
			if !tt.wantOK {
				return
			}
			if dl.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", dl.Addr, tt.wantAddr)
			}
			if dl.Level != tt.wantLevel {
				t.Errorf("Level = %g, want %g", dl.Level, tt.wantLevel)
			}
		})
	}
}

func TestDecodeLineButtonEvents(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantAction ButtonAction
	}{
		{name: "keypad press", line: "KBP, [01:06:01], 4", wantAction: ButtonPressed},
		{name: "keypad release", line: "KBR, [01:06:01], 4", wantAction: ButtonReleased},
		{name: "keypad hold", line: "KBH, [01:06:01], 4", wantAction: ButtonHold},
		{name: "keypad double tap", line: "KBDT, [01:06:01], 4", wantAction: ButtonDoubleTap},
		{name: "dimmer press", line: "DBP, [01:04:02:08], 1", wantAction: ButtonPressed},
		{name: "sivoia release", line: "SVBR, [01:04:02:08], 2", wantAction: ButtonReleased},
		{name: "lowercase keyword", line: "kbp, [01:06:01], 4", wantAction: ButtonPressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := DecodeLine(tt.line)

			ev, ok := msg.(ButtonEventMessage)
			if !ok {
				t.Fatalf("DecodeLine(%q) = %T, want ButtonEventMessage", tt.line, msg)
			}
			if ev.Action != tt.wantAction {
				t.Errorf("Action = %v, want %v", ev.Action, tt.wantAction)
			}
		})
	}
}

func TestDecodeLineLoginAndAcks(t *testing.T) {
	tests := []struct {
		name string
		line string
		want any
	}{
		{name: "login prompt", line: "LOGIN:", want: LoginPromptMessage{}},
		{name: "login successful", line: "login successful", want: LoginResultMessage{OK: true}},
		{name: "login incorrect", line: "login incorrect", want: LoginResultMessage{OK: false}},
		{name: "monitor ack", line: "Keypad button monitoring enabled", want: MonitorAckMessage{}},
		{name: "dimmer monitor ack", line: "Dimmer level monitoring enabled", want: MonitorAckMessage{}},
		{name: "controller error", line: "Error: invalid command", want: ControllerErrorMessage{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := DecodeLine(tt.line)

			switch want := tt.want.(type) {
			case LoginPromptMessage:
				if _, ok := msg.(LoginPromptMessage); !ok {
					t.Errorf("DecodeLine(%q) = %T, want LoginPromptMessage", tt.line, msg)
				}
			case LoginResultMessage:
				got, ok := msg.(LoginResultMessage)
				if !ok {
					t.Fatalf("DecodeLine(%q) = %T, want LoginResultMessage", tt.line, msg)
				}
				if got.OK != want.OK {
					t.Errorf("OK = %v, want %v", got.OK, want.OK)
				}
			case MonitorAckMessage:
				if _, ok := msg.(MonitorAckMessage); !ok {
					t.Errorf("DecodeLine(%q) = %T, want MonitorAckMessage", tt.line, msg)
				}
			case ControllerErrorMessage:
				if _, ok := msg.(ControllerErrorMessage); !ok {
					t.Errorf("DecodeLine(%q) = %T, want ControllerErrorMessage", tt.line, msg)
				}
			}
		})
	}
}

func TestDecodeLineNeverPanics(t *testing.T) {
	lines := []string{
		"",
		",,,,",
		"KLS",
		"KLS, [02:06:03]",
		"KLS, bogus, 000000000222112110000000",
		"DL,,,,,",
		"XYZZY, [01:02:03], 4",
		"KBP, [01:06:01], notanumber",
		"KBP, [01:06:01], -1",
		"\x00\xff binary garbage",
	}

	for _, line := range lines {
		msg := DecodeLine(line)
		if msg == nil {
			t.Errorf("DecodeLine(%q) = nil, want UnparseableMessage", line)
			continue
		}
		if _, ok := msg.(UnparseableMessage); !ok {
			t.Errorf("DecodeLine(%q) = %T, want UnparseableMessage", line, msg)
		}
	}
}

func TestDecodeLineKeypadEnable(t *testing.T) {
	msg := DecodeLine("KES, [01:06:01], enabled")

	kes, ok := msg.(KeypadEnableMessage)
	if !ok {
		t.Fatalf("DecodeLine() = %T, want KeypadEnableMessage", msg)
	}
	if !kes.Enabled {
		t.Errorf("Enabled = false, want true")
	}

	msg = DecodeLine("KES, [01:06:01], disabled")
	kes, ok = msg.(KeypadEnableMessage)
	if !ok {
		t.Fatalf("DecodeLine() = %T, want KeypadEnableMessage", msg)
	}
	if kes.Enabled {
		t.Errorf("Enabled = true, want false")
	}
}

func TestDecodeLinePreservesRaw(t *testing.T) {
	line := "KLS, [02:06:03], 000000000222112110000000"
	msg := DecodeLine(line)
	if msg.Raw() != line {
		t.Errorf("Raw() = %q, want %q", msg.Raw(), line)
	}
}
