package homeworks

import (
	"fmt"
	"strings"
	"time"
)

// Command is one dispatcher queue entry: either a protocol line to transmit
// or a literal delay that pauses dispatch of the entries submitted after it
// in the same batch.
type Command struct {
	// Line is the ASCII command without the CRLF terminator.
	Line string

	// Delay, when non-zero, makes this entry a pause directive; Line must
	// be empty.
	Delay time.Duration
}

// IsDelay reports whether the command is a pause directive.
func (c Command) IsDelay() bool { return c.Delay > 0 }

// Line constructs a protocol command entry.
func Line(line string) Command { return Command{Line: line} }

// Pause constructs a delay directive entry.
func Pause(d time.Duration) Command { return Command{Delay: d} }

// ParseCommand parses a raw string submitted through the passthrough
// surface. The literal form "delay <ms>" (case-insensitive) becomes a pause
// directive; anything else is sent verbatim.
func ParseCommand(s string) (Command, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Command{}, fmt.Errorf("hw: empty command")
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(trimmed), "delay"); ok {
		ms := 0
		if _, err := fmt.Sscanf(strings.TrimSpace(rest), "%d", &ms); err != nil || ms < 0 {
			return Command{}, fmt.Errorf("hw: invalid delay directive %q", s)
		}
		return Pause(time.Duration(ms) * time.Millisecond), nil
	}
	return Line(trimmed), nil
}

// Outbound command builders. One builder per wire command keeps formatting
// in a single place; the controller is whitespace-tolerant after commas but
// the builders match the documented "KEYWORD, arg, arg" shape exactly.

// CmdRequestKLS builds "RKLS, [pp:ll:aa]", requesting the LED/relay state
// string for a keypad or CCO module.
func CmdRequestKLS(addr Address) Command {
	return Line(fmt.Sprintf("RKLS, %s", addr))
}

// CmdRequestDimmerLevel builds "RDL, [addr]".
func CmdRequestDimmerLevel(addr string) Command {
	return Line(fmt.Sprintf("RDL, %s", addr))
}

// CmdCCOClose builds "CCOCLOSE, [addr], <relay>". A closed relay is ON.
func CmdCCOClose(addr Address, relay int) Command {
	return Line(fmt.Sprintf("CCOCLOSE, %s, %d", addr, relay))
}

// CmdCCOOpen builds "CCOOPEN, [addr], <relay>". An open relay is OFF.
func CmdCCOOpen(addr Address, relay int) Command {
	return Line(fmt.Sprintf("CCOOPEN, %s, %d", addr, relay))
}

// CmdFadeDim builds "FADEDIM, <level>, <fade>, <delay>, [addr]".
// Level is percent 0-100; fade and delay are in seconds.
func CmdFadeDim(level, fadeSeconds, delaySeconds float64, addr string) Command {
	return Line(fmt.Sprintf("FADEDIM, %g, %g, %g, %s", level, fadeSeconds, delaySeconds, addr))
}

// CmdKeypadButtonPress builds "KBP, [addr], <button>".
func CmdKeypadButtonPress(addr Address, button int) Command {
	return Line(fmt.Sprintf("KBP, %s, %d", addr, button))
}

// CmdKeypadButtonRelease builds "KBR, [addr], <button>".
func CmdKeypadButtonRelease(addr Address, button int) Command {
	return Line(fmt.Sprintf("KBR, %s, %d", addr, button))
}

// CmdLogin builds the login command from configured credentials. The
// controller accepts "user, password" or a bare password.
func CmdLogin(username, password string) Command {
	if username == "" {
		return Line(fmt.Sprintf("LOGIN, %s", password))
	}
	return Line(fmt.Sprintf("LOGIN, %s, %s", username, password))
}

// CmdProcessorAddress builds the "PROCADDR" diagnostic query.
func CmdProcessorAddress() Command { return Line("PROCADDR") }

// CmdOSRevision builds the "OSREV" diagnostic query.
func CmdOSRevision() Command { return Line("OSREV") }

// monitorEnableCommands is the subscription set issued on every transition
// into Ready: prompt suppression plus the four asynchronous monitors.
func monitorEnableCommands() []Command {
	return []Command{
		Line("PROMPTOFF"),
		Line("KBMON"),
		Line("GSMON"),
		Line("DLMON"),
		Line("KLMON"),
	}
}
