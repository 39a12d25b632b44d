package homeworks

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// HealthStatus represents the operational status of the controller client.
type HealthStatus string

const (
	// HealthHealthy indicates the client is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the client is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the client is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the client is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the client is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// Stats holds monotonically increasing operational counters for one
// controller session. All fields are safe for concurrent update.
type Stats struct {
	LinesReceived  atomic.Uint64
	CommandsSent   atomic.Uint64
	DecodeFailures atomic.Uint64
	PollFailures   atomic.Uint64
	Reconnects     atomic.Uint64
	DroppedEvents  atomic.Uint64
	StaleCommands  atomic.Uint64

	// lastRxNano is the unix-nano timestamp of the most recent line from
	// the controller. Zero until the first line arrives.
	lastRxNano atomic.Int64

	// lastPollNano is the unix-nano timestamp of the most recent poll
	// response. Zero until the first KLS report arrives.
	lastPollNano atomic.Int64

	// lastErr is the text of the most recent transport error.
	lastErr atomic.Pointer[string]
}

// MarkReceived records line arrival time and bumps the receive counter.
func (s *Stats) MarkReceived(at time.Time) {
	s.LinesReceived.Add(1)
	s.lastRxNano.Store(at.UnixNano())
}

// LastReceived returns the arrival time of the most recent controller line,
// or the zero time if nothing has been received.
func (s *Stats) LastReceived() time.Time {
	n := s.lastRxNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// MarkPollSuccess records the arrival time of a poll response.
func (s *Stats) MarkPollSuccess(at time.Time) {
	s.lastPollNano.Store(at.UnixNano())
}

// LastSuccessfulPoll returns the arrival time of the most recent poll
// response, or the zero time if none has arrived.
func (s *Stats) LastSuccessfulPoll() time.Time {
	n := s.lastPollNano.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// RecordError stores the text of the most recent transport error.
func (s *Stats) RecordError(err error) {
	if err == nil {
		return
	}
	text := err.Error()
	s.lastErr.Store(&text)
}

// LastError returns the most recent transport error text, or "" if no
// error has occurred.
func (s *Stats) LastError() string {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	LinesReceived  uint64    `json:"lines_received"`
	CommandsSent   uint64    `json:"commands_sent"`
	DecodeFailures uint64    `json:"decode_failures"`
	PollFailures   uint64    `json:"poll_failures"`
	Reconnects     uint64    `json:"reconnects"`
	DroppedEvents  uint64    `json:"dropped_events"`
	StaleCommands  uint64    `json:"stale_commands"`
	LastReceived   time.Time `json:"last_received,omitempty"`

	// LastError is the most recent transport error, if any.
	LastError string `json:"last_error,omitempty"`

	// LastSuccessfulPoll is when the controller last answered a poll.
	LastSuccessfulPoll time.Time `json:"last_successful_poll,omitempty"`
}

// Snapshot returns a consistent-enough copy of the counters. Counters are
// read individually, so a snapshot taken mid-update may be off by one.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		LinesReceived:  s.LinesReceived.Load(),
		CommandsSent:   s.CommandsSent.Load(),
		DecodeFailures: s.DecodeFailures.Load(),
		PollFailures:   s.PollFailures.Load(),
		Reconnects:     s.Reconnects.Load(),
		DroppedEvents:  s.DroppedEvents.Load(),
		StaleCommands:  s.StaleCommands.Load(),
		LastReceived:   s.LastReceived(),

		LastError:          s.LastError(),
		LastSuccessfulPoll: s.LastSuccessfulPoll(),
	}
}

// HealthMessage reports operational status for one controller.
// Topic: homeworks/health/{controller_id}
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Controller is the controller identifier.
	Controller string `json:"controller"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the client software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the client has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the controller TCP session.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational counters.
	Statistics *StatsSnapshot `json:"statistics,omitempty"`

	// DevicesManaged is the number of registered devices.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the controller TCP session state.
type ConnectionStatus struct {
	// Status is the session status ("connected", "disconnected", "connecting").
	Status string `json:"status"`

	// Address is the controller host:port.
	Address string `json:"address"`

	// ConnectedSince is when the session was established.
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// Connector exposes the session state the health reporter needs from the
// controller client.
type Connector interface {
	IsConnected() bool
	ConnectedSince() time.Time
	Endpoint() string
	Stats() StatsSnapshot
}

// HealthTopic returns the MQTT topic for a controller's health status.
func HealthTopic(controllerID string) string {
	return "homeworks/health/" + controllerID
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// ControllerID is the controller identifier for health messages.
	ControllerID string

	// Version is the client software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Client provides session state and counters.
	Client Connector
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	controllerID string
	version      string
	startTime    time.Time
	interval     time.Duration
	publisher    HealthPublisher
	client       Connector

	deviceCount   int
	deviceCountMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		controllerID: cfg.ControllerID,
		version:      cfg.Version,
		startTime:    time.Now(),
		interval:     interval,
		publisher:    cfg.Publisher,
		client:       cfg.Client,
		done:         make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCount updates the registered device count.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.deviceCountMu.Lock()
	h.deviceCount = count
	h.deviceCountMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during client initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "client starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament message payload.
// This should be set as the MQTT will message during connection.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	msg := HealthMessage{
		Controller: h.controllerID,
		Timestamp:  time.Now().UTC(),
		Status:     HealthOffline,
		Reason:     "unexpected_disconnect",
	}
	return json.Marshal(msg)
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic(h.controllerID)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current client status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.client == nil || !h.client.IsConnected() {
		return HealthDegraded, "controller disconnected"
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	h.deviceCountMu.RLock()
	deviceCount := h.deviceCount
	h.deviceCountMu.RUnlock()

	msg := HealthMessage{
		Controller:     h.controllerID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		DevicesManaged: deviceCount,
		Reason:         reason,
	}

	if h.client != nil {
		stats := h.client.Stats()
		msg.Statistics = &stats

		conn := &ConnectionStatus{
			Status:  "disconnected",
			Address: h.client.Endpoint(),
		}
		if h.client.IsConnected() {
			conn.Status = "connected"
			since := h.client.ConnectedSince()
			if !since.IsZero() {
				conn.ConnectedSince = &since
			}
		}
		msg.Connection = conn
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(HealthTopic(h.controllerID), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
