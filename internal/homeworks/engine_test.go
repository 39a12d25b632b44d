package homeworks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockMQTT records published messages and subscriptions.
type mockMQTT struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(topic string, payload []byte)
	connected bool
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		handlers:  make(map[string]func(string, []byte)),
		connected: true,
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, payload, qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) Disconnect(uint) {}

// onTopic returns every published message for one topic.
func (m *mockMQTT) onTopic(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// newTestEngine builds an engine with mock transports, without Start, so
// tests drive the message handlers directly.
func newTestEngine(t *testing.T) (*Engine, *mockMQTT, *recordingSession) {
	t.Helper()

	session := &recordingSession{}
	mqtt := newMockMQTT()

	d, err := NewDispatcher(DispatcherConfig{Session: session})
	if err != nil {
		t.Fatalf("NewDispatcher unexpected error: %v", err)
	}
	t.Cleanup(d.Close)

	cfg := DefaultConfig()
	e, err := NewEngine(EngineOptions{
		Config:     cfg,
		MQTT:       mqtt,
		Session:    session,
		Dispatcher: d,
		Conn:       session,
	})
	if err != nil {
		t.Fatalf("NewEngine unexpected error: %v", err)
	}
	return e, mqtt, session
}

func (s *recordingSession) ConnectedSince() time.Time { return time.Time{} }

func (s *recordingSession) Endpoint() string { return "test:23" }

func testDevice(button int, inverted bool) CCODevice {
	return CCODevice{
		Name:     "relay",
		Addr:     Address{Processor: 2, Link: 6, Address: 3},
		Button:   button,
		Kind:     KindSwitch,
		Inverted: inverted,
	}
}

func klsMessage(t *testing.T, line string) KLSMessage {
	t.Helper()
	msg, ok := DecodeLine(line).(KLSMessage)
	if !ok {
		t.Fatalf("DecodeLine(%q) did not yield a KLS message", line)
	}
	return msg
}

func TestNewEngineValidation(t *testing.T) {
	session := &recordingSession{}
	mqtt := newMockMQTT()
	d, err := NewDispatcher(DispatcherConfig{Session: session})
	if err != nil {
		t.Fatalf("NewDispatcher unexpected error: %v", err)
	}
	defer d.Close()
	cfg := DefaultConfig()

	tests := []struct {
		name string
		opts EngineOptions
	}{
		{"missing config", EngineOptions{MQTT: mqtt, Session: session, Dispatcher: d}},
		{"missing mqtt", EngineOptions{Config: cfg, Session: session, Dispatcher: d}},
		{"missing session", EngineOptions{Config: cfg, MQTT: mqtt, Dispatcher: d}},
		{"missing dispatcher", EngineOptions{Config: cfg, MQTT: mqtt, Session: session}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.opts); err == nil {
				t.Errorf("NewEngine expected error, got nil")
			}
		})
	}
}

func TestEngineRegisterCCO(t *testing.T) {
	e, _, _ := newTestEngine(t)

	dev := testDevice(4, false)
	if err := e.RegisterCCO(dev); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	if err := e.RegisterCCO(dev); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate RegisterCCO = %v, want ErrDeviceExists", err)
	}
	if err := e.RegisterCCO(testDevice(99, false)); !errors.Is(err, ErrButtonOutOfRange) {
		t.Errorf("out of range RegisterCCO = %v, want ErrButtonOutOfRange", err)
	}

	got, state, err := e.Device(dev.Key())
	if err != nil {
		t.Fatalf("Device unexpected error: %v", err)
	}
	if got.Name != dev.Name || state != StateUnknown {
		t.Errorf("Device() = %+v state %v, want %+v StateUnknown", got, state, dev)
	}

	if err := e.UnregisterCCO(dev.Key()); err != nil {
		t.Fatalf("UnregisterCCO unexpected error: %v", err)
	}
	if err := e.UnregisterCCO(dev.Key()); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second UnregisterCCO = %v, want ErrDeviceNotFound", err)
	}
}

func TestEngineDerivesStateFromKLS(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	on := testDevice(4, false)  // digit index 12 = '1'
	off := testDevice(6, false) // digit index 14 = '2'
	if err := e.RegisterCCO(on); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	if err := e.RegisterCCO(off); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}

	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222112110000000"))

	tests := []struct {
		dev       CCODevice
		wantState string
		wantOn    bool
	}{
		{on, "on", true},
		{off, "off", false},
	}
	for _, tt := range tests {
		msgs := mqtt.onTopic(CCOStateTopic(tt.dev))
		if len(msgs) != 1 {
			t.Fatalf("published %d messages for %s, want 1", len(msgs), tt.dev.Key())
		}
		if !msgs[0].retained || msgs[0].qos != 1 {
			t.Errorf("publish qos=%d retained=%v, want qos=1 retained", msgs[0].qos, msgs[0].retained)
		}

		var payload CCOStateMessage
		if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
			t.Fatalf("payload unmarshal error: %v", err)
		}
		if payload.State != tt.wantState {
			t.Errorf("%s state = %q, want %q", tt.dev.Key(), payload.State, tt.wantState)
		}
		if payload.On == nil || *payload.On != tt.wantOn {
			t.Errorf("%s on = %v, want %v", tt.dev.Key(), payload.On, tt.wantOn)
		}
		if payload.Addr != "[02:06:03]" {
			t.Errorf("payload addr = %q, want [02:06:03]", payload.Addr)
		}
	}

	if _, ok := e.Snapshot(Address{Processor: 2, Link: 6, Address: 3}); !ok {
		t.Errorf("Snapshot missing after KLS")
	}
}

func TestEngineRecordsPollSuccess(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if !e.stats.LastSuccessfulPoll().IsZero() {
		t.Fatalf("LastSuccessfulPoll set before any KLS report")
	}

	m := klsMessage(t, "KLS, [02:06:03], 000000000222112110000000")
	e.handleMessage(m)

	if got := e.stats.LastSuccessfulPoll(); !got.Equal(m.ReceivedAt) {
		t.Errorf("LastSuccessfulPoll = %v, want %v", got, m.ReceivedAt)
	}
}

func TestEngineRepublishOnlyOnChange(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	dev := testDevice(4, false)
	if err := e.RegisterCCO(dev); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	topic := CCOStateTopic(dev)

	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222112110000000"))
	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222112110000000"))
	if got := len(mqtt.onTopic(topic)); got != 1 {
		t.Fatalf("published %d messages after identical polls, want 1", got)
	}

	// Digit at index 12 flips to open.
	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222212110000000"))
	msgs := mqtt.onTopic(topic)
	if len(msgs) != 2 {
		t.Fatalf("published %d messages after change, want 2", len(msgs))
	}
	var payload CCOStateMessage
	if err := json.Unmarshal(msgs[1].payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error: %v", err)
	}
	if payload.State != "off" {
		t.Errorf("state after flip = %q, want off", payload.State)
	}
}

func TestEngineUnknownDigitRetainsState(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	dev := testDevice(4, false)
	if err := e.RegisterCCO(dev); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	topic := CCOStateTopic(dev)

	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222112110000000"))
	// The module answers with keypad LED codes that say nothing about the
	// relay; the derived state must not flap to unknown.
	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000000000000000000"))

	if got := len(mqtt.onTopic(topic)); got != 1 {
		t.Fatalf("published %d messages, want 1", got)
	}
	_, state, err := e.Device(dev.Key())
	if err != nil {
		t.Fatalf("Device unexpected error: %v", err)
	}
	if state != StateOn {
		t.Errorf("state after unknown digits = %v, want StateOn", state)
	}
}

func TestEngineInvertedDevice(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	dev := testDevice(4, true)
	if err := e.RegisterCCO(dev); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}

	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000222112110000000"))

	msgs := mqtt.onTopic(CCOStateTopic(dev))
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var payload CCOStateMessage
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error: %v", err)
	}
	if payload.State != "off" {
		t.Errorf("inverted state = %q, want off", payload.State)
	}
}

func TestEngineSwitchCCO(t *testing.T) {
	e, _, session := newTestEngine(t)

	plain := testDevice(4, false)
	inverted := testDevice(6, true)
	if err := e.RegisterCCO(plain); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	if err := e.RegisterCCO(inverted); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}

	if err := e.SwitchCCO(plain.Key(), true); err != nil {
		t.Fatalf("SwitchCCO unexpected error: %v", err)
	}
	if err := e.SwitchCCO(inverted.Key(), true); err != nil {
		t.Fatalf("SwitchCCO unexpected error: %v", err)
	}
	if err := e.SwitchCCO("[09:09:09]-1", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SwitchCCO unknown key = %v, want ErrDeviceNotFound", err)
	}

	waitForSent(t, session, 4)
	want := []string{
		"CCOCLOSE, [02:06:03], 4",
		"RKLS, [02:06:03]",
		"CCOOPEN, [02:06:03], 6",
		"RKLS, [02:06:03]",
	}
	got := session.lines()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngineSetDimmerLevel(t *testing.T) {
	e, _, session := newTestEngine(t)

	if err := e.SetDimmerLevel("1:4:2:8", 75, 2); err != nil {
		t.Fatalf("SetDimmerLevel unexpected error: %v", err)
	}
	if err := e.SetDimmerLevel("1:4:2:8", 150, 0); err == nil {
		t.Errorf("SetDimmerLevel out of range expected error, got nil")
	}
	if err := e.SetDimmerLevel("not-an-address", 50, 0); err == nil {
		t.Errorf("SetDimmerLevel bad address expected error, got nil")
	}

	waitForSent(t, session, 2)
	got := session.lines()
	if got[0] != "FADEDIM, 75, 2, 0, [01:04:02:08]" {
		t.Errorf("sent[0] = %q, want FADEDIM, 75, 2, 0, [01:04:02:08]", got[0])
	}
	if got[1] != "RDL, [01:04:02:08]" {
		t.Errorf("sent[1] = %q, want RDL, [01:04:02:08]", got[1])
	}
}

func TestEnginePollCommandsDistinctAddresses(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.RegisterCCO(testDevice(1, false)); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	if err := e.RegisterCCO(testDevice(2, false)); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}
	other := CCODevice{Name: "pump", Addr: Address{1, 5, 7}, Button: 1, Kind: KindSwitch}
	if err := e.RegisterCCO(other); err != nil {
		t.Fatalf("RegisterCCO unexpected error: %v", err)
	}

	cmds := e.klsPollCommands()
	if len(cmds) != 2 {
		t.Fatalf("klsPollCommands returned %d commands, want 2 distinct modules", len(cmds))
	}

	// No answers arrived; polling again counts both modules as failures.
	before := e.stats.PollFailures.Load()
	e.klsPollCommands()
	if got := e.stats.PollFailures.Load() - before; got != 2 {
		t.Errorf("PollFailures delta = %d, want 2", got)
	}

	// An answer clears the outstanding flag for that module only.
	e.handleMessage(klsMessage(t, "KLS, [02:06:03], 000000000111111110000000"))
	before = e.stats.PollFailures.Load()
	e.klsPollCommands()
	if got := e.stats.PollFailures.Load() - before; got != 1 {
		t.Errorf("PollFailures delta after answer = %d, want 1", got)
	}
}

func TestEngineCommandPassthrough(t *testing.T) {
	e, _, session := newTestEngine(t)

	payload := "RKLS, [02:06:03]\ndelay 10\n\nCCOOPEN, [02:06:03], 1\n"
	e.handleCommandPayload("homeworks/command/homeworks-01", []byte(payload))

	waitForSent(t, session, 2)
	got := session.lines()
	if got[0] != "RKLS, [02:06:03]" || got[1] != "CCOOPEN, [02:06:03], 1" {
		t.Errorf("passthrough sent %v", got)
	}

	// Blank payloads submit nothing.
	e.handleCommandPayload("homeworks/command/homeworks-01", []byte("  \n\n"))
	time.Sleep(20 * time.Millisecond)
	if got := len(session.lines()); got != 2 {
		t.Errorf("blank payload transmitted %d extra commands", got-2)
	}
}

func TestEngineDimmerLevelPublish(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	e.handleMessage(DecodeLine("DL, [01:04:02:08], 75"))

	msgs := mqtt.onTopic(DimmerStateTopic("[01:04:02:08]"))
	if len(msgs) != 1 {
		t.Fatalf("published %d dimmer messages, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Errorf("dimmer state not retained")
	}
	var payload DimmerStateMessage
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error: %v", err)
	}
	if payload.Level != 75 || payload.Addr != "[01:04:02:08]" {
		t.Errorf("payload = %+v", payload)
	}

	level, ok := e.Dimmers().Level("[01:04:02:08]")
	if !ok || level != 75 {
		t.Errorf("cached level = %v %v, want 75 true", level, ok)
	}
}

func TestEngineButtonEventPublish(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	e.handleMessage(DecodeLine("KBP, [01:06:01], 3"))

	msgs := mqtt.onTopic(ButtonEventTopic("[01:06:01]"))
	if len(msgs) != 1 {
		t.Fatalf("published %d button messages, want 1", len(msgs))
	}
	if msgs[0].retained {
		t.Errorf("button event must not be retained")
	}
	var payload KeypadEventMessage
	if err := json.Unmarshal(msgs[0].payload, &payload); err != nil {
		t.Fatalf("payload unmarshal error: %v", err)
	}
	if payload.Button != 3 || payload.Action != "pressed" {
		t.Errorf("payload = %+v, want button 3 pressed", payload)
	}
}

func TestEngineStartSubscribesToCommands(t *testing.T) {
	e, mqtt, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start unexpected error: %v", err)
	}
	defer e.Stop()

	mqtt.mu.Lock()
	_, ok := mqtt.handlers[CommandTopic("homeworks-01")]
	mqtt.mu.Unlock()
	if !ok {
		t.Errorf("Start did not subscribe to the command topic")
	}

	// Registered via the handler path, a passthrough payload reaches the
	// dispatcher.
	if !strings.HasPrefix(CommandTopic("homeworks-01"), TopicPrefix+"/command/") {
		t.Errorf("CommandTopic = %q", CommandTopic("homeworks-01"))
	}
}
