package homeworks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// storeTimeout bounds device store writes so a slow database cannot stall
// the message pipeline.
const storeTimeout = 5 * time.Second

// DeviceStore provides device registry and state persistence.
// It is optional; if nil, the engine operates from configuration alone.
type DeviceStore interface {
	// LoadCCODevices returns all persisted relay devices.
	LoadCCODevices(ctx context.Context) ([]CCODevice, error)

	// LoadDimmers returns all persisted dimmer zones.
	LoadDimmers(ctx context.Context) ([]DimmerDevice, error)

	// SaveCCOState records the last derived state for a device.
	SaveCCOState(ctx context.Context, key string, state RelayState, at time.Time) error

	// SaveDimmerLevel records the last observed level for a zone.
	SaveDimmerLevel(ctx context.Context, addr string, level float64, at time.Time) error
}

// EngineOptions holds configuration for creating an engine.
type EngineOptions struct {
	// Config is the loaded configuration.
	Config *Config

	// MQTT is the MQTT client implementation.
	MQTT MQTTClient

	// Session is the controller session.
	Session Session

	// Dispatcher serialises outbound commands.
	Dispatcher *Dispatcher

	// Conn provides session state for health reporting. Usually the same
	// object as Session.
	Conn Connector

	// Logger is optional structured logging.
	Logger Logger

	// Store is optional device registry persistence.
	Store DeviceStore

	// Recorder is optional state change recording (metrics).
	Recorder StateRecorder

	// Version is the client software version for health reports.
	Version string
}

// Engine derives and publishes device state from the controller's message
// stream. It handles:
//   - Polling CCO modules and deriving relay on/off from KLS strings
//   - Tracking dimmer levels from monitor reports and polls
//   - Publishing state changes and keypad events to MQTT
//   - Raw command passthrough from MQTT
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Engine struct {
	cfg        *Config
	mqtt       MQTTClient
	session    Session
	dispatcher *Dispatcher
	health     *HealthReporter
	store      DeviceStore
	recorder   StateRecorder
	stats      *Stats

	// CCO registry and derived state cache
	devices  map[string]CCODevice  // keyed by device Key()
	states   map[string]RelayState // last published state per device
	pending  map[string]bool       // devices awaiting their first publish
	deviceMu sync.RWMutex

	// KLS poll bookkeeping
	snapshots map[Address]KLSSnapshot // last digit string per module
	awaiting  map[Address]bool        // polls sent but not yet answered
	pollMu    sync.Mutex

	dimmers *DimmerTracker

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewEngine creates a new engine instance.
// Call Start() to begin operation.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("hw: config is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("hw: MQTT client is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("hw: controller session is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("hw: dispatcher is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	stats := &Stats{}
	if c, ok := opts.Session.(*Client); ok {
		stats = c.Counters()
	}

	e := &Engine{
		cfg:        opts.Config,
		mqtt:       opts.MQTT,
		session:    opts.Session,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,    // May be nil (optional)
		recorder:   opts.Recorder, // May be nil (optional)
		stats:      stats,
		devices:    make(map[string]CCODevice),
		states:     make(map[string]RelayState),
		pending:    make(map[string]bool),
		snapshots:  make(map[Address]KLSSnapshot),
		awaiting:   make(map[Address]bool),
		dimmers:    NewDimmerTracker(),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	e.health = NewHealthReporter(HealthReporterConfig{
		ControllerID: opts.Config.Controller.ID,
		Version:      version,
		Interval:     opts.Config.GetHealthInterval(),
		Publisher:    opts.MQTT,
		Client:       opts.Conn,
	})
	if opts.Logger != nil {
		e.health.SetLogger(opts.Logger)
	}

	return e, nil
}

// Start begins engine operation.
// This loads devices, wires the controller message handler, subscribes to
// the command passthrough topic, and starts the poll loops and health
// reporting.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.loadDevices(ctx); err != nil {
		return err
	}

	if err := e.health.PublishStarting(); err != nil {
		e.logError("failed to publish starting status", err)
	}

	e.session.SetOnMessage(e.handleMessage)

	commandTopic := CommandTopic(e.cfg.Controller.ID)
	if err := e.mqtt.Subscribe(commandTopic, 1, e.handleCommandPayload); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	e.logInfo("subscribed to commands", "topic", commandTopic)

	e.health.Start(ctx)

	e.wg.Add(1)
	go e.klsPollLoop()

	if interval := e.cfg.GetDimmerInterval(); interval > 0 {
		e.wg.Add(1)
		go e.dimmerPollLoop(interval)
	}

	e.deviceMu.RLock()
	deviceCount := len(e.devices)
	e.deviceMu.RUnlock()

	e.logInfo("engine started",
		"controller_id", e.cfg.Controller.ID,
		"cco_devices", deviceCount,
		"dimmers", len(e.dimmers.Zones()))

	return nil
}

// Stop gracefully shuts down the engine.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.ctxCancel()
		e.health.Stop()
		e.wg.Wait()
		e.logInfo("engine stopped")
	})
}

// loadDevices seeds the registry from configuration and, if a store is
// present, from persisted devices. Store entries win on key collisions so
// live edits survive restarts.
func (e *Engine) loadDevices(ctx context.Context) error {
	for i, dc := range e.cfg.CCODevices {
		dev, err := dc.ToDevice()
		if err != nil {
			return fmt.Errorf("cco_devices[%d]: %w", i, err)
		}
		if err := e.RegisterCCO(dev); err != nil {
			return fmt.Errorf("cco_devices[%d]: %w", i, err)
		}
	}
	for i, dc := range e.cfg.Dimmers {
		dev := DimmerDevice{Name: dc.Name, Addr: dc.Addr, Poll: dc.Poll}
		if err := e.dimmers.Register(dev); err != nil {
			return fmt.Errorf("dimmers[%d]: %w", i, err)
		}
	}

	if e.store != nil {
		e.loadFromStore(ctx)
	}

	e.refreshDeviceCount()
	return nil
}

// loadFromStore merges persisted devices over the configured set.
func (e *Engine) loadFromStore(ctx context.Context) {
	ccos, err := e.store.LoadCCODevices(ctx)
	if err != nil {
		e.logError("failed to load devices from store", err)
		return
	}
	for _, dev := range ccos {
		e.deviceMu.Lock()
		key := dev.Key()
		_, exists := e.devices[key]
		if exists {
			// Persisted definition replaces the configured one.
			e.devices[key] = dev
			e.deviceMu.Unlock()
			continue
		}
		e.deviceMu.Unlock()

		if err := e.RegisterCCO(dev); err != nil {
			e.logError("failed to register stored device", fmt.Errorf("%s: %w", key, err))
		}
	}

	dims, err := e.store.LoadDimmers(ctx)
	if err != nil {
		e.logError("failed to load dimmers from store", err)
		return
	}
	for _, dev := range dims {
		if err := e.dimmers.Register(dev); err != nil && !errors.Is(err, ErrDeviceExists) {
			e.logError("failed to register stored dimmer", fmt.Errorf("%s: %w", dev.Addr, err))
		}
	}

	if len(ccos) > 0 || len(dims) > 0 {
		e.logInfo("loaded devices from store", "cco", len(ccos), "dimmers", len(dims))
	}
}

// RegisterCCO adds a relay device to the engine.
//
// The device's current state publishes on the next poll of its module even
// if nothing changed, so late subscribers converge immediately.
//
// Returns:
//   - error: ErrDeviceExists, ErrButtonOutOfRange, or a validation error
func (e *Engine) RegisterCCO(dev CCODevice) error {
	if err := dev.Validate(e.cfg.Window.Offset, e.cfg.Window.Size); err != nil {
		return err
	}

	key := dev.Key()

	e.deviceMu.Lock()
	if _, exists := e.devices[key]; exists {
		e.deviceMu.Unlock()
		return ErrDeviceExists
	}
	e.devices[key] = dev
	e.pending[key] = true
	e.deviceMu.Unlock()

	e.refreshDeviceCount()
	return nil
}

// UnregisterCCO removes a relay device.
func (e *Engine) UnregisterCCO(key string) error {
	e.deviceMu.Lock()
	if _, exists := e.devices[key]; !exists {
		e.deviceMu.Unlock()
		return ErrDeviceNotFound
	}
	delete(e.devices, key)
	delete(e.states, key)
	delete(e.pending, key)
	e.deviceMu.Unlock()

	e.refreshDeviceCount()
	return nil
}

// Devices returns the registered relay devices.
func (e *Engine) Devices() []CCODevice {
	e.deviceMu.RLock()
	defer e.deviceMu.RUnlock()

	out := make([]CCODevice, 0, len(e.devices))
	for _, d := range e.devices {
		out = append(out, d)
	}
	return out
}

// Device returns one registered relay device and its derived state.
func (e *Engine) Device(key string) (CCODevice, RelayState, error) {
	e.deviceMu.RLock()
	defer e.deviceMu.RUnlock()

	dev, ok := e.devices[key]
	if !ok {
		return CCODevice{}, StateUnknown, ErrDeviceNotFound
	}
	return dev, e.states[key], nil
}

// Dimmers returns the dimmer tracker.
func (e *Engine) Dimmers() *DimmerTracker {
	return e.dimmers
}

// SwitchCCO commands a relay on or off. The resulting state change arrives
// through the next KLS poll rather than being assumed.
//
// Parameters:
//   - key: Device key ("[pp:ll:aa]-button")
//   - on: Desired published state; inversion maps it onto the wire command
//
// Returns:
//   - error: ErrDeviceNotFound or a queue error
func (e *Engine) SwitchCCO(key string, on bool) error {
	e.deviceMu.RLock()
	dev, ok := e.devices[key]
	e.deviceMu.RUnlock()

	if !ok {
		return ErrDeviceNotFound
	}

	closeRelay := on
	if dev.Inverted {
		closeRelay = !closeRelay
	}

	var cmd Command
	if closeRelay {
		cmd = CmdCCOClose(dev.Addr, dev.Button)
	} else {
		cmd = CmdCCOOpen(dev.Addr, dev.Button)
	}

	// Poll immediately after switching so the derived state converges
	// without waiting for the next tick.
	return e.dispatcher.Submit(cmd, CmdRequestKLS(dev.Addr))
}

// SetDimmerLevel fades a dimmer zone to a level.
//
// Parameters:
//   - addr: Dimmer address
//   - level: Target level percent 0-100
//   - fade: Fade time in seconds
//
// Returns:
//   - error: If the address is invalid, the level is out of range, or the
//     queue rejects
func (e *Engine) SetDimmerLevel(addr string, level, fade float64) error {
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return err
	}
	if level < 0 || level > 100 {
		return fmt.Errorf("hw: level must be 0-100, got %g", level)
	}
	return e.dispatcher.Submit(
		CmdFadeDim(level, fade, 0, norm),
		CmdRequestDimmerLevel(norm),
	)
}

// PollNow requests fresh KLS strings for all registered modules without
// waiting for the next tick.
func (e *Engine) PollNow() error {
	return e.dispatcher.Submit(e.klsPollCommands()...)
}

// klsPollLoop drives the periodic CCO state poll.
func (e *Engine) klsPollLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.GetKLSInterval())
	defer ticker.Stop()

	// First poll immediately so state converges at startup.
	e.pollKLS()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.pollKLS()
		}
	}
}

// pollKLS sends one RKLS per distinct registered module address. A module
// still awaiting its previous answer counts as a poll failure.
func (e *Engine) pollKLS() {
	cmds := e.klsPollCommands()
	if len(cmds) == 0 {
		return
	}

	if err := e.dispatcher.Submit(cmds...); err != nil {
		e.stats.PollFailures.Add(uint64(len(cmds)))
		e.logError("kls poll submit failed", err)
	}
}

// klsPollCommands builds the distinct-address poll set and updates the
// outstanding-poll bookkeeping.
func (e *Engine) klsPollCommands() []Command {
	e.deviceMu.RLock()
	addrs := make(map[Address]struct{})
	for _, dev := range e.devices {
		addrs[dev.Addr] = struct{}{}
	}
	e.deviceMu.RUnlock()

	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	cmds := make([]Command, 0, len(addrs))
	for addr := range addrs {
		if e.awaiting[addr] {
			e.stats.PollFailures.Add(1)
			e.logWarn("module did not answer previous poll", "addr", addr.String())
		}
		e.awaiting[addr] = true
		cmds = append(cmds, CmdRequestKLS(addr))
	}

	// Forget modules that no longer have devices.
	for addr := range e.awaiting {
		if _, ok := addrs[addr]; !ok {
			delete(e.awaiting, addr)
		}
	}

	return cmds
}

// dimmerPollLoop drives the periodic dimmer level poll.
func (e *Engine) dimmerPollLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			cmds := e.dimmers.PollCommands()
			if len(cmds) == 0 {
				continue
			}
			if err := e.dispatcher.Submit(cmds...); err != nil {
				e.logError("dimmer poll submit failed", err)
			}
		}
	}
}

// handleMessage routes one decoded controller message.
func (e *Engine) handleMessage(msg Message) {
	switch m := msg.(type) {
	case KLSMessage:
		e.handleKLS(m)
	case DimmerLevelMessage:
		e.handleDimmerLevel(m)
	case ButtonEventMessage:
		e.handleButtonEvent(m)
	case KeypadEnableMessage:
		e.logDebug("keypad enable state", "line", m.Raw())
	case ControllerErrorMessage:
		e.logWarn("controller reported error", "text", m.Text)
	}
}

// handleKLS processes one KLS digit string: clears the outstanding poll,
// stores the snapshot, and re-derives every device on the module.
func (e *Engine) handleKLS(m KLSMessage) {
	e.stats.MarkPollSuccess(m.ReceivedAt)

	e.pollMu.Lock()
	delete(e.awaiting, m.Addr)
	e.snapshots[m.Addr] = KLSSnapshot{Digits: m.Digits, ReceivedAt: m.ReceivedAt}
	e.pollMu.Unlock()

	e.deviceMu.Lock()
	var events []CCOStateEvent
	for key, dev := range e.devices {
		if dev.Addr != m.Addr {
			continue
		}

		derived := RelayStateFrom(m.Digits, dev, e.cfg.Window.Offset)
		prev := e.states[key]

		// An unknown digit keeps the previous known state rather than
		// flapping the device to unknown.
		if !derived.Known() && prev.Known() {
			derived = prev
		}

		force := e.pending[key]
		if derived == prev && !force {
			continue
		}

		e.states[key] = derived
		delete(e.pending, key)
		events = append(events, CCOStateEvent{
			Device:     dev,
			State:      derived,
			ObservedAt: m.ReceivedAt,
		})
	}
	e.deviceMu.Unlock()

	for _, ev := range events {
		e.publishCCOState(ev)
	}
}

// publishCCOState publishes one relay state change and records it.
func (e *Engine) publishCCOState(ev CCOStateEvent) {
	payload, err := json.Marshal(NewCCOStateMessage(ev))
	if err != nil {
		e.logError("failed to marshal cco state", err)
		return
	}

	topic := CCOStateTopic(ev.Device)
	if err := e.mqtt.Publish(topic, payload, 1, true); err != nil {
		e.logError("failed to publish cco state", err)
	}

	if e.recorder != nil {
		e.recorder.RecordCCOState(ev)
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
		if err := e.store.SaveCCOState(ctx, ev.Device.Key(), ev.State, ev.ObservedAt); err != nil {
			e.logDebug("store state update skipped",
				"device", ev.Device.Key(),
				"reason", err.Error())
		}
		cancel()
	}
}

// handleDimmerLevel processes one dimmer level report.
func (e *Engine) handleDimmerLevel(m DimmerLevelMessage) {
	ev, ok := e.dimmers.Observe(m.Addr, m.Level, m.ReceivedAt)
	if !ok {
		e.logDebug("unusable dimmer address", "addr", m.Addr)
		return
	}

	payload, err := json.Marshal(DimmerStateMessage{
		Addr:      ev.Addr,
		Level:     ev.Level,
		Timestamp: ev.ObservedAt.UTC(),
	})
	if err != nil {
		e.logError("failed to marshal dimmer state", err)
		return
	}

	if err := e.mqtt.Publish(DimmerStateTopic(ev.Addr), payload, 1, true); err != nil {
		e.logError("failed to publish dimmer state", err)
	}

	if e.recorder != nil {
		e.recorder.RecordDimmerLevel(ev)
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(e.ctx, storeTimeout)
		if err := e.store.SaveDimmerLevel(ctx, ev.Addr, ev.Level, ev.ObservedAt); err != nil {
			e.logDebug("store level update skipped",
				"addr", ev.Addr,
				"reason", err.Error())
		}
		cancel()
	}
}

// handleButtonEvent publishes a keypad button event. Events are not
// retained; they describe moments, not states.
func (e *Engine) handleButtonEvent(m ButtonEventMessage) {
	ev := ButtonEvent{
		Addr:       m.Addr,
		Button:     m.Button,
		Action:     m.Action,
		ObservedAt: m.ReceivedAt,
	}

	payload, err := json.Marshal(KeypadEventMessage{
		Addr:      ev.Addr,
		Button:    ev.Button,
		Action:    ev.Action.String(),
		Timestamp: ev.ObservedAt.UTC(),
	})
	if err != nil {
		e.logError("failed to marshal button event", err)
		return
	}

	if err := e.mqtt.Publish(ButtonEventTopic(ev.Addr), payload, 1, false); err != nil {
		e.logError("failed to publish button event", err)
	}

	if e.recorder != nil {
		e.recorder.RecordButtonEvent(ev)
	}
}

// handleCommandPayload handles the raw command passthrough topic. The
// payload is plain text, one command per line; the literal "delay <ms>"
// pauses between the surrounding commands.
func (e *Engine) handleCommandPayload(_ string, payload []byte) {
	lines := strings.Split(string(payload), "\n")
	raw := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			raw = append(raw, trimmed)
		}
	}
	if len(raw) == 0 {
		return
	}

	if err := e.dispatcher.SubmitRaw(raw...); err != nil {
		e.logError("command passthrough rejected", err)
	}
}

// Snapshot returns the last KLS digit string observed for a module.
func (e *Engine) Snapshot(addr Address) (KLSSnapshot, bool) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	s, ok := e.snapshots[addr]
	return s, ok
}

// refreshDeviceCount pushes the registry size to the health reporter.
func (e *Engine) refreshDeviceCount() {
	e.deviceMu.RLock()
	count := len(e.devices)
	e.deviceMu.RUnlock()
	e.health.SetDeviceCount(count + len(e.dimmers.Zones()))
}

// Health returns the engine's health reporter.
func (e *Engine) Health() *HealthReporter {
	return e.health
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()

	if e.health != nil {
		e.health.SetLogger(logger)
	}
}

// logDebug logs a debug message if logger is set.
func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (e *Engine) logError(msg string, err error) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
