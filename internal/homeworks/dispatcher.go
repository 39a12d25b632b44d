package homeworks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Dispatcher defaults.
const (
	// defaultRateLimit is the maximum commands transmitted per rolling
	// second. Series 4/8 processors drop input when flooded.
	defaultRateLimit = 20

	// rateWindow is the rolling window the rate limit applies over.
	rateWindow = time.Second

	// defaultQueueSize is the bounded command queue capacity.
	defaultQueueSize = 256

	// defaultMaxQueueAge is how long a queued command may wait before
	// being rejected as stale.
	defaultMaxQueueAge = 30 * time.Second

	// sessionRetryInterval is how often the writer re-tries the head
	// command while the session is down.
	sessionRetryInterval = 50 * time.Millisecond
)

// DispatcherConfig holds configuration for the command dispatcher.
type DispatcherConfig struct {
	// Session transmits commands to the controller.
	Session Session

	// RateLimit is the maximum commands per rolling second. Default: 20.
	RateLimit int

	// QueueSize is the bounded queue capacity. Default: 256.
	QueueSize int

	// MaxQueueAge rejects commands that waited longer than this.
	// Default: 30 seconds.
	MaxQueueAge time.Duration

	// Stats is the shared counter block. Optional.
	Stats *Stats

	// Logger is optional structured logging.
	Logger Logger
}

// queuedCommand pairs a command with its submission time for staleness
// checks at transmit time.
type queuedCommand struct {
	cmd      Command
	queuedAt time.Time
}

// Dispatcher serialises all outbound controller traffic through a single
// writer goroutine, enforcing transmit ordering, the rolling rate limit,
// and literal delay directives. Commands submitted during a session outage
// stay queued and transmit on recovery, until MaxQueueAge expires them.
//
// Thread Safety: Submit and SubmitRaw are safe for concurrent use from any
// goroutine; commands from one caller keep their relative order.
type Dispatcher struct {
	session Session
	rate    int
	maxAge  time.Duration
	queue   chan queuedCommand

	done *closeOnce
	wg   sync.WaitGroup

	stats *Stats

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates and starts a dispatcher.
//
// Parameters:
//   - cfg: Dispatcher configuration; Session is required
//
// Returns:
//   - *Dispatcher: Running dispatcher (call Close to shut down)
//   - error: If the configuration is invalid
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("hw: dispatcher session is required")
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxQueueAge == 0 {
		cfg.MaxQueueAge = defaultMaxQueueAge
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &Stats{}
	}

	d := &Dispatcher{
		session: cfg.Session,
		rate:    cfg.RateLimit,
		maxAge:  cfg.MaxQueueAge,
		queue:   make(chan queuedCommand, cfg.QueueSize),
		done:    newCloseOnce(),
		stats:   stats,
		logger:  cfg.Logger,
	}

	d.wg.Add(1)
	go d.run()

	return d, nil
}

// Submit enqueues commands for transmission in order.
//
// The call never blocks: a full queue rejects the remaining commands with
// ErrQueueFull. Commands accepted before the rejection stay queued.
//
// Parameters:
//   - cmds: Protocol lines and delay directives, transmitted in order
//
// Returns:
//   - error: ErrQueueFull, ErrDispatcherClosed, or nil
func (d *Dispatcher) Submit(cmds ...Command) error {
	now := time.Now()
	for i, cmd := range cmds {
		select {
		case <-d.done.Done():
			return ErrDispatcherClosed
		case d.queue <- queuedCommand{cmd: cmd, queuedAt: now}:
		default:
			return fmt.Errorf("%w: %d of %d commands rejected", ErrQueueFull, len(cmds)-i, len(cmds))
		}
	}
	return nil
}

// SubmitRaw parses and enqueues raw command strings. The literal form
// "delay <ms>" becomes a pause between the surrounding commands.
//
// Parameters:
//   - raw: Raw command strings as accepted by the passthrough surface
//
// Returns:
//   - error: If any string fails to parse, or the queue rejects
func (d *Dispatcher) SubmitRaw(raw ...string) error {
	cmds := make([]Command, 0, len(raw))
	for _, s := range raw {
		cmd, err := ParseCommand(s)
		if err != nil {
			return err
		}
		cmds = append(cmds, cmd)
	}
	return d.Submit(cmds...)
}

// QueueDepth returns the number of commands currently waiting.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Close stops the dispatcher. Queued commands are discarded.
// Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.done.Close()
	d.wg.Wait()
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// run is the single writer goroutine. All controller writes flow through
// here, so transmit order matches queue order.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	// Transmit timestamps inside the current rate window.
	var recent []time.Time

	for {
		select {
		case <-d.done.Done():
			return
		case q := <-d.queue:
			if q.cmd.IsDelay() {
				if !d.sleep(q.cmd.Delay) {
					return
				}
				continue
			}

			if !d.transmit(q, &recent) {
				return
			}
		}
	}
}

// transmit sends one queued command. A disconnected session does not drop
// the command; the writer holds it and retries once the session is back,
// re-checking its age each cycle. Returns false if shutdown was signalled.
func (d *Dispatcher) transmit(q queuedCommand, recent *[]time.Time) bool {
	for {
		if age := time.Since(q.queuedAt); age > d.maxAge {
			d.stats.StaleCommands.Add(1)
			d.logWarn("dropping stale command", "line", q.cmd.Line, "age", age.String())
			return true
		}

		if !d.throttle(recent) {
			return false
		}

		err := d.session.Send(context.Background(), q.cmd)
		if err == nil {
			*recent = append(*recent, time.Now())
			return true
		}

		if !errors.Is(err, ErrNotConnected) {
			d.logError("command send failed", err)
			return true
		}

		// Session down. Hold the command until reconnection or staleness.
		if !d.sleep(sessionRetryInterval) {
			return false
		}
	}
}

// throttle blocks until transmitting another command stays within the
// rolling rate limit. Returns false if shutdown was signalled.
func (d *Dispatcher) throttle(recent *[]time.Time) bool {
	for {
		now := time.Now()

		// Drop timestamps that left the window.
		cutoff := now.Add(-rateWindow)
		times := *recent
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		times = times[i:]
		*recent = times

		if len(times) < d.rate {
			return true
		}

		// Wait for the oldest timestamp to age out of the window.
		if !d.sleep(times[0].Add(rateWindow).Sub(now)) {
			return false
		}
	}
}

// sleep waits for d or shutdown, whichever comes first. Returns false on
// shutdown.
func (d *Dispatcher) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	select {
	case <-d.done.Done():
		return false
	case <-time.After(dur):
		return true
	}
}

// logWarn logs a warning message if logger is set.
func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (d *Dispatcher) logError(msg string, err error) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
