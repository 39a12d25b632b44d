package homeworks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// mockConnector fakes the controller session state for health tests.
type mockConnector struct {
	connected bool
	since     time.Time
	stats     *Stats
}

func (c *mockConnector) IsConnected() bool         { return c.connected }
func (c *mockConnector) ConnectedSince() time.Time { return c.since }
func (c *mockConnector) Endpoint() string          { return "192.168.1.50:23" }
func (c *mockConnector) Stats() StatsSnapshot      { return c.stats.Snapshot() }

func lastHealth(t *testing.T, mqtt *mockMQTT, controllerID string) HealthMessage {
	t.Helper()
	msgs := mqtt.onTopic(HealthTopic(controllerID))
	if len(msgs) == 0 {
		t.Fatalf("no health messages published")
	}
	last := msgs[len(msgs)-1]
	if last.qos != 1 || !last.retained {
		t.Errorf("health publish qos=%d retained=%v, want qos=1 retained", last.qos, last.retained)
	}
	var msg HealthMessage
	if err := json.Unmarshal(last.payload, &msg); err != nil {
		t.Fatalf("health payload unmarshal error: %v", err)
	}
	return msg
}

func TestHealthTopic(t *testing.T) {
	if got := HealthTopic("homeworks-01"); got != "homeworks/health/homeworks-01" {
		t.Errorf("HealthTopic = %q", got)
	}
}

func TestHealthReporterPublishNow(t *testing.T) {
	mqtt := newMockMQTT()
	stats := &Stats{}
	stats.MarkReceived(time.Now())
	stats.CommandsSent.Add(3)
	conn := &mockConnector{connected: true, since: time.Now().Add(-time.Minute), stats: stats}

	h := NewHealthReporter(HealthReporterConfig{
		ControllerID: "hw-test",
		Version:      "1.2.3",
		Publisher:    mqtt,
		Client:       conn,
	})
	h.SetDeviceCount(5)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow unexpected error: %v", err)
	}

	msg := lastHealth(t, mqtt, "hw-test")
	if msg.Status != HealthHealthy {
		t.Errorf("status = %q, want healthy", msg.Status)
	}
	if msg.Controller != "hw-test" || msg.Version != "1.2.3" {
		t.Errorf("identity fields = %q %q", msg.Controller, msg.Version)
	}
	if msg.DevicesManaged != 5 {
		t.Errorf("devices_managed = %d, want 5", msg.DevicesManaged)
	}
	if msg.Connection == nil || msg.Connection.Status != "connected" {
		t.Errorf("connection = %+v, want connected", msg.Connection)
	}
	if msg.Connection.ConnectedSince == nil {
		t.Errorf("connected_since missing")
	}
	if msg.Statistics == nil || msg.Statistics.CommandsSent != 3 {
		t.Errorf("statistics = %+v, want commands_sent 3", msg.Statistics)
	}
}

func TestHealthReporterDegraded(t *testing.T) {
	tests := []struct {
		name          string
		mqttConnected bool
		ctlrConnected bool
		wantStatus    HealthStatus
		wantReason    string
	}{
		{"all connected", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected"},
		{"controller down", true, false, HealthDegraded, "controller disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := newMockMQTT()
			mqtt.connected = tt.mqttConnected
			conn := &mockConnector{connected: tt.ctlrConnected, stats: &Stats{}}

			h := NewHealthReporter(HealthReporterConfig{
				ControllerID: "hw-test",
				Publisher:    mqtt,
				Client:       conn,
			})
			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow unexpected error: %v", err)
			}

			msg := lastHealth(t, mqtt, "hw-test")
			if msg.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", msg.Status, tt.wantStatus)
			}
			if msg.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", msg.Reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterLWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{ControllerID: "hw-test"})

	if got := h.GetLWTTopic(); got != "homeworks/health/hw-test" {
		t.Errorf("GetLWTTopic = %q", got)
	}

	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload unexpected error: %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("LWT payload unmarshal error: %v", err)
	}
	if msg.Status != HealthOffline {
		t.Errorf("LWT status = %q, want offline", msg.Status)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("LWT reason = %q, want unexpected_disconnect", msg.Reason)
	}
}

func TestHealthReporterStop(t *testing.T) {
	mqtt := newMockMQTT()
	conn := &mockConnector{connected: true, stats: &Stats{}}

	h := NewHealthReporter(HealthReporterConfig{
		ControllerID: "hw-test",
		Interval:     time.Hour,
		Publisher:    mqtt,
		Client:       conn,
	})
	h.Start(context.Background())
	h.Stop()
	h.Stop() // second stop is a no-op

	msg := lastHealth(t, mqtt, "hw-test")
	if msg.Status != HealthStopping {
		t.Errorf("final status = %q, want stopping", msg.Status)
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := &Stats{}
	if !s.LastReceived().IsZero() {
		t.Errorf("LastReceived on fresh stats not zero")
	}
	if !s.LastSuccessfulPoll().IsZero() {
		t.Errorf("LastSuccessfulPoll on fresh stats not zero")
	}
	if s.LastError() != "" {
		t.Errorf("LastError on fresh stats = %q, want empty", s.LastError())
	}

	at := time.Now()
	s.MarkReceived(at)
	s.MarkReceived(at.Add(time.Second))
	s.DecodeFailures.Add(1)
	s.MarkPollSuccess(at.Add(2 * time.Second))
	s.RecordError(nil) // no-op
	s.RecordError(errors.New("read tcp: connection reset"))

	snap := s.Snapshot()
	if snap.LinesReceived != 2 {
		t.Errorf("LinesReceived = %d, want 2", snap.LinesReceived)
	}
	if snap.DecodeFailures != 1 {
		t.Errorf("DecodeFailures = %d, want 1", snap.DecodeFailures)
	}
	if !snap.LastReceived.Equal(at.Add(time.Second)) {
		t.Errorf("LastReceived = %v, want %v", snap.LastReceived, at.Add(time.Second))
	}
	if !snap.LastSuccessfulPoll.Equal(at.Add(2 * time.Second)) {
		t.Errorf("LastSuccessfulPoll = %v, want %v", snap.LastSuccessfulPoll, at.Add(2*time.Second))
	}
	if snap.LastError != "read tcp: connection reset" {
		t.Errorf("LastError = %q, want the recorded error", snap.LastError)
	}
}
