package homeworks

import (
	"errors"
	"testing"
	"time"
)

func TestDimmerTrackerRegister(t *testing.T) {
	tr := NewDimmerTracker()

	dev := DimmerDevice{Name: "kitchen", Addr: "1:4:2:8", Poll: true}
	if err := tr.Register(dev); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}

	// The same zone in a different spelling is still a duplicate.
	dup := DimmerDevice{Name: "kitchen again", Addr: "[01:04:02:08]", Poll: false}
	if err := tr.Register(dup); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Register = %v, want ErrDeviceExists", err)
	}

	if err := tr.Register(DimmerDevice{Name: "bad", Addr: "1:2"}); err == nil {
		t.Errorf("Register with short address expected error, got nil")
	}

	zones := tr.Zones()
	if len(zones) != 1 {
		t.Fatalf("Zones() len = %d, want 1", len(zones))
	}
	if zones[0].Addr != "[01:04:02:08]" {
		t.Errorf("registered addr = %q, want normalized [01:04:02:08]", zones[0].Addr)
	}
}

func TestDimmerTrackerUnregister(t *testing.T) {
	tr := NewDimmerTracker()

	if err := tr.Register(DimmerDevice{Name: "hall", Addr: "1:4:2:8"}); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}
	if _, ok := tr.Observe("1:4:2:8", 40, time.Now()); !ok {
		t.Fatalf("Observe rejected a valid address")
	}

	if err := tr.Unregister("[01:04:02:08]"); err != nil {
		t.Fatalf("Unregister unexpected error: %v", err)
	}
	if err := tr.Unregister("[01:04:02:08]"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Unregister = %v, want ErrDeviceNotFound", err)
	}

	// The cached level survives unregistration.
	if level, ok := tr.Level("1:4:2:8"); !ok || level != 40 {
		t.Errorf("Level after Unregister = %v %v, want 40 true", level, ok)
	}
}

func TestDimmerTrackerObserveUnregistered(t *testing.T) {
	tr := NewDimmerTracker()

	// Level reports are accepted for any address, registered or not.
	ev, ok := tr.Observe("2:5:1:3:2", 62.5, time.Now())
	if !ok {
		t.Fatalf("Observe rejected an unregistered address")
	}
	if ev.Addr != "[02:05:01:03:02]" {
		t.Errorf("event addr = %q, want [02:05:01:03:02]", ev.Addr)
	}
	if ev.Level != 62.5 {
		t.Errorf("event level = %v, want 62.5", ev.Level)
	}

	if _, ok := tr.Observe("garbage", 10, time.Now()); ok {
		t.Errorf("Observe accepted an unparseable address")
	}
}

func TestDimmerTrackerPollCommands(t *testing.T) {
	tr := NewDimmerTracker()

	if err := tr.Register(DimmerDevice{Name: "polled", Addr: "1:4:2:8", Poll: true}); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}
	if err := tr.Register(DimmerDevice{Name: "quiet", Addr: "1:4:2:9", Poll: false}); err != nil {
		t.Fatalf("Register unexpected error: %v", err)
	}

	cmds := tr.PollCommands()
	if len(cmds) != 1 {
		t.Fatalf("PollCommands len = %d, want 1", len(cmds))
	}
	if cmds[0].Line != "RDL, [01:04:02:08]" {
		t.Errorf("poll command = %q, want RDL, [01:04:02:08]", cmds[0].Line)
	}
}
