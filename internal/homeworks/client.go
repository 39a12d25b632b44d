package homeworks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for controller communication.
const (
	// defaultConnectTimeout is the maximum time to wait for the TCP dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultLoginTimeout is the maximum time to wait for a login result
	// after credentials have been sent.
	defaultLoginTimeout = 5 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	// Timeouts are recoverable; the controller is silent between events.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectMin is the initial delay between reconnection attempts.
	defaultReconnectMin = 1 * time.Second

	// defaultReconnectMax is the maximum delay between reconnection attempts.
	defaultReconnectMax = 60 * time.Second

	// reconnectJitter is the fraction of the backoff randomised each wait.
	reconnectJitter = 0.2

	// loginPromptWait is how long to watch for a login prompt after the
	// TCP session opens. Processors without login enabled send nothing.
	loginPromptWait = 500 * time.Millisecond

	// maxLineLength bounds a single controller line. Anything longer
	// indicates stream corruption.
	maxLineLength = 1024

	// callbackQueueSize is the buffer size for the message callback queue.
	callbackQueueSize = 100
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ClientConfig holds controller connection configuration.
type ClientConfig struct {
	// Endpoint is the controller host:port.
	Endpoint string

	// Username for controller login (optional).
	Username string

	// Password for controller login (optional). A processor that presents
	// a login prompt when no password is configured fails the session.
	Password string

	// ConnectTimeout is the maximum time to wait for the TCP dial.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// LoginTimeout is the maximum time to wait for the login result.
	// Default: 5 seconds.
	LoginTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectMin is the initial delay between reconnection attempts.
	// Default: 1 second.
	ReconnectMin time.Duration

	// ReconnectMax is the maximum delay between reconnection attempts.
	// Default: 60 seconds.
	ReconnectMax time.Duration
}

// Session is the client interface used by the dispatcher and state engine.
// This allows mocking the controller client in tests.
type Session interface {
	Send(ctx context.Context, cmd Command) error
	SetOnMessage(callback func(Message))
	IsConnected() bool
	Stats() StatsSnapshot
	Close() error
}

// Ensure Client implements Session and the health reporter's Connector.
var (
	_ Session   = (*Client)(nil)
	_ Connector = (*Client)(nil)
)

// Client maintains the TCP session to a Homeworks processor.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Message callbacks are invoked one at a time, in arrival order.
//
// Auto-Reconnection:
//   - When the session is lost, the client automatically reconnects.
//   - Uses exponential backoff starting at ReconnectMin (default 1s) up
//     to ReconnectMax (default 60s), with jitter to avoid synchronised
//     reconnect storms.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg    ClientConfig
	conn   net.Conn
	reader *bufio.Reader

	// Connection state
	connMu         sync.RWMutex
	connected      bool
	connectedSince time.Time

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Message handler callback
	onMessage  func(Message)
	callbackMu sync.RWMutex

	// Bounded queue feeding the callback worker
	callbackQueue chan Message

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	stats Stats
}

// Dial establishes the session to the controller.
//
// After the TCP connect it watches briefly for a login prompt, answers it
// with the configured credentials if one arrives, enables the asynchronous
// monitors, and starts the receive loop.
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or login fails
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.LoginTimeout == 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint required", ErrConnectionFailed)
	}

	client := &Client{
		cfg:           cfg,
		done:          newCloseOnce(),
		callbackQueue: make(chan Message, callbackQueueSize),
	}

	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}
	client.conn = conn

	if err := client.establishSession(); err != nil {
		conn.Close()
		return nil, err
	}

	client.connMu.Lock()
	client.connected = true
	client.connectedSince = time.Now()
	client.connMu.Unlock()

	// A single callback worker keeps delivery in arrival order. State
	// derivation depends on reports for one address staying sequenced.
	client.wg.Add(1)
	go client.callbackWorker()

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// establishSession performs the login exchange and enables the monitors on
// the current connection. The caller owns c.conn.
func (c *Client) establishSession() error {
	prompted, err := c.awaitLoginPrompt()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if prompted {
		if err := c.login(); err != nil {
			return err
		}
	}

	for _, cmd := range monitorEnableCommands() {
		if err := c.writeLine(cmd.Line); err != nil {
			return fmt.Errorf("%w: enable monitors: %w", ErrConnectionFailed, err)
		}
	}

	c.reader = bufio.NewReader(c.conn)
	return nil
}

// awaitLoginPrompt watches the raw stream for the login prompt. A read
// timeout with no prompt means login is not enabled on this processor.
// The prompt arrives without a line terminator, so this reads bytes rather
// than lines.
func (c *Client) awaitLoginPrompt() (bool, error) {
	deadline := time.Now().Add(loginPromptWait)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return false, fmt.Errorf("set read deadline: %w", err)
	}

	var buf []byte
	tmp := make([]byte, 128)
	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if strings.Contains(string(buf), loginPrompt) {
				return true, nil
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, nil
			}
			return false, fmt.Errorf("read: %w", err)
		}
	}
}

// login answers the login prompt and waits for the controller's verdict.
func (c *Client) login() error {
	if c.cfg.Password == "" {
		return ErrNoCredentials
	}

	if err := c.writeLine(CmdLogin(c.cfg.Username, c.cfg.Password).Line); err != nil {
		return fmt.Errorf("%w: send credentials: %w", ErrLoginFailed, err)
	}

	deadline := time.Now().Add(c.cfg.LoginTimeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set read deadline: %w", ErrLoginFailed, err)
	}

	var buf []byte
	tmp := make([]byte, 128)
	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if strings.Contains(string(buf), loginSuccessful) {
				return nil
			}
			if strings.Contains(string(buf), loginIncorrect) {
				return ErrLoginFailed
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w: no login result: %w", ErrLoginFailed, ErrTimeout)
			}
			return fmt.Errorf("%w: read: %w", ErrLoginFailed, err)
		}
	}
}

// receiveLoop continuously reads lines from the controller.
// On connection loss, it automatically reconnects with exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		line, err := c.readLine()
		if err != nil {
			if c.handleReadError(err) {
				if c.isClosed() {
					return
				}
				if !c.reconnect() {
					return
				}
			}
			continue
		}

		if line == "" {
			continue
		}
		c.handleLine(line)
	}
}

// readLine reads one CRLF-terminated line from the controller, trimmed of
// its terminator and surrounding whitespace.
func (c *Client) readLine() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		// A partial line before EOF is discarded; it cannot be framed.
		return "", err
	}
	if len(line) > maxLineLength {
		c.stats.DecodeFailures.Add(1)
		return "", fmt.Errorf("oversized line: %d bytes", len(line))
	}

	return strings.TrimSpace(line), nil
}

// handleReadError processes a read error and returns true if the session
// must be re-established.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if c.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // The controller is quiet, keep reading
	}

	c.logError("read failed", err)
	c.stats.RecordError(err)
	c.handleDisconnect()
	return true
}

// handleLine decodes one controller line and routes the message.
func (c *Client) handleLine(line string) {
	now := time.Now()
	c.stats.MarkReceived(now)

	msg := DecodeLine(line)
	switch m := msg.(type) {
	case LoginPromptMessage:
		// Mid-session re-prompt. Answer inline; the next read picks up
		// the verdict as an ordinary line.
		if c.cfg.Password == "" {
			c.logError("controller requested login", ErrNoCredentials)
			return
		}
		if err := c.writeLine(CmdLogin(c.cfg.Username, c.cfg.Password).Line); err != nil {
			c.logError("send credentials", err)
		}
		return
	case MonitorAckMessage:
		c.logDebug("monitor acknowledged", "line", m.Raw())
		return
	case UnparseableMessage:
		c.stats.DecodeFailures.Add(1)
		c.logDebug("unparseable line", "line", m.Raw(), "reason", m.Reason)
	}

	c.enqueue(msg)
}

// enqueue hands a message to the callback worker, dropping on overflow.
func (c *Client) enqueue(msg Message) {
	c.callbackMu.RLock()
	hasCallback := c.onMessage != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.callbackQueue <- msg:
	default:
		// Queue full, drop message to prevent memory exhaustion
		c.logError("callback queue full, dropping message", nil)
		c.stats.DroppedEvents.Add(1)
	}
}

// callbackWorker delivers queued messages to the registered callback, one
// at a time so arrival order is preserved.
func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainCallbackQueue()
			return
		case msg := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onMessage
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("message callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(msg)
				}()
			}
		}
	}
}

// handleDisconnect marks the session lost.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("session lost, will attempt reconnection")
	}
}

// reconnect re-establishes the controller session with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	// Counted on entry so health reports show the outage while attempts
	// are still failing.
	c.stats.Reconnects.Add(1)

	backoff := c.cfg.ReconnectMin

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dialWithTimeout()
		if err != nil {
			backoff = c.handleReconnectFailure("dial failed", err, backoff)
			if backoff == 0 {
				return false
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		if err := c.establishSession(); err != nil {
			conn.Close()
			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()

			// Login rejections retry like any other failure. Credentials
			// can be fixed on the processor while we keep backing off.
			backoff = c.handleReconnectFailure("session setup failed", err, backoff)
			if backoff == 0 {
				return false
			}
			continue
		}

		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout dials the controller with the configured timeout.
func (c *Client) dialWithTimeout() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
	}
	return conn, nil
}

// handleReconnectFailure waits out the backoff after a failed attempt.
// Returns the next backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: "+reason, err)
	c.stats.RecordError(err)

	select {
	case <-c.done.Done():
		return 0
	case <-time.After(jitter(backoff)):
	}

	return nextBackoff(backoff, c.cfg.ReconnectMax)
}

// nextBackoff doubles the reconnect delay, capped at max.
func nextBackoff(backoff, max time.Duration) time.Duration {
	backoff *= 2
	if backoff > max {
		backoff = max
	}
	return backoff
}

// jitter randomises a backoff interval by ±reconnectJitter.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * reconnectJitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// finalizeReconnection marks the session as established and updates stats.
func (c *Client) finalizeReconnection() {
	c.connMu.Lock()
	c.connected = true
	c.connectedSince = time.Now()
	c.connMu.Unlock()

	c.reconnectCount.Store(0)

	c.logInfo("reconnection successful", "total_reconnects", c.stats.Reconnects.Load())
}

// drainCallbackQueue removes and discards any remaining queued messages.
// Called during shutdown to prevent goroutines from blocking on send.
func (c *Client) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
		default:
			return
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the session.
//
// It signals the receive loop to stop and closes the underlying network
// connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()

	c.logInfo("session closed")
	return nil
}

// Send transmits one command line to the controller.
//
// Delay directives are the dispatcher's concern; passing one here is a
// programming error.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cmd: Command to transmit
//
// Returns:
//   - error: If sending fails or the client is not connected
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if cmd.IsDelay() {
		return fmt.Errorf("hw: delay directive passed to Send")
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("hw: send: %w", ctx.Err())
	default:
	}

	if err := c.writeLine(cmd.Line); err != nil {
		return err
	}

	c.stats.CommandsSent.Add(1)
	return nil
}

// writeLine writes one command line with the CRLF terminator.
func (c *Client) writeLine(line string) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("hw: set write deadline: %w", err)
	}

	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("hw: write: %w", err)
	}

	return nil
}

// SetOnMessage sets the callback for decoded controller messages.
//
// The callback is invoked from a dedicated worker goroutine, one message at
// a time in arrival order. Panics in the callback are recovered and logged.
//
// Parameters:
//   - callback: Function to call when a message is received
func (c *Client) SetOnMessage(callback func(Message)) {
	c.callbackMu.Lock()
	c.onMessage = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the controller session is established.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// ConnectedSince returns when the current session was established, or the
// zero time if disconnected.
func (c *Client) ConnectedSince() time.Time {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected {
		return time.Time{}
	}
	return c.connectedSince
}

// Endpoint returns the controller host:port.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// Stats returns current operational statistics.
func (c *Client) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Counters returns the client's counter block. The dispatcher and state
// engine record their failures into the same block so health reports cover
// the whole pipeline.
func (c *Client) Counters() *Stats {
	return &c.stats
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
