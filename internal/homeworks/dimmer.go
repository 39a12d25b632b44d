package homeworks

import (
	"sync"
	"time"
)

// levelEntry is one cached dimmer level observation.
type levelEntry struct {
	level      float64
	observedAt time.Time
}

// DimmerTracker caches the last reported level per dimmer address.
//
// Level reports are accepted for any address the controller mentions, not
// just registered zones; registration only controls periodic polling and
// naming. Reports are re-published even when the level is unchanged, since
// a repeated report confirms the zone is still reachable.
//
// Thread Safety: All methods are safe for concurrent use.
type DimmerTracker struct {
	mu     sync.RWMutex
	zones  map[string]DimmerDevice
	levels map[string]levelEntry
}

// NewDimmerTracker creates an empty tracker.
func NewDimmerTracker() *DimmerTracker {
	return &DimmerTracker{
		zones:  make(map[string]DimmerDevice),
		levels: make(map[string]levelEntry),
	}
}

// Register adds a dimmer zone.
//
// Returns:
//   - error: ErrDeviceExists if the address is already registered, or a
//     validation error
func (t *DimmerTracker) Register(dev DimmerDevice) error {
	if err := dev.Validate(); err != nil {
		return err
	}
	norm, err := NormalizeAddress(dev.Addr)
	if err != nil {
		return err
	}
	dev.Addr = norm

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.zones[norm]; exists {
		return ErrDeviceExists
	}
	t.zones[norm] = dev
	return nil
}

// Unregister removes a dimmer zone. The cached level is kept; the zone may
// still be reported by the controller.
func (t *DimmerTracker) Unregister(addr string) error {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.zones[norm]; !exists {
		return ErrDeviceNotFound
	}
	delete(t.zones, norm)
	return nil
}

// Zones returns the registered dimmer zones.
func (t *DimmerTracker) Zones() []DimmerDevice {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DimmerDevice, 0, len(t.zones))
	for _, z := range t.zones {
		out = append(out, z)
	}
	return out
}

// Level returns the last observed level for an address.
//
// Returns:
//   - float64: Level percent 0-100
//   - bool: False if the address has never reported
func (t *DimmerTracker) Level(addr string) (float64, bool) {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.levels[norm]
	if !ok {
		return 0, false
	}
	return e.level, true
}

// Observe records a level report and returns the event to publish.
//
// Parameters:
//   - addr: Dimmer address as reported by the controller
//   - level: Level percent 0-100
//   - at: Report arrival time
//
// Returns:
//   - DimmerLevelEvent: Event carrying the normalized address
//   - bool: False if the address cannot be normalized
func (t *DimmerTracker) Observe(addr string, level float64, at time.Time) (DimmerLevelEvent, bool) {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return DimmerLevelEvent{}, false
	}

	t.mu.Lock()
	t.levels[norm] = levelEntry{level: level, observedAt: at}
	t.mu.Unlock()

	return DimmerLevelEvent{Addr: norm, Level: level, ObservedAt: at}, true
}

// PollCommands returns the level requests for poll-enabled zones.
func (t *DimmerTracker) PollCommands() []Command {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var cmds []Command
	for addr, z := range t.zones {
		if z.Poll {
			cmds = append(cmds, CmdRequestDimmerLevel(addr))
		}
	}
	return cmds
}
