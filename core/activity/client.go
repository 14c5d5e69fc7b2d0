package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atriumhq/atrium-voice/internal/timing"
)

const (
	defaultMaxReconnectAttempts = 10
	reconnectBaseDelay          = 100 * time.Millisecond
	reconnectDelayCap           = 5 * time.Second

	// defaultLivenessWindow is three times the server heartbeat cadence, so a
	// single dropped heartbeat does not tear the connection down.
	serverHeartbeatInterval = 15 * time.Second
	defaultLivenessWindow   = 3 * serverHeartbeatInterval
)

// ConnectionState is a point-in-time view of the feed connection.
type ConnectionState struct {
	Connected         bool
	LastError         error
	ReconnectAttempts int
}

// Conn is one established feed connection. ReadMessage blocks until the next
// raw message arrives or the connection fails.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a feed connection. The default dialer speaks SSE over HTTP;
// tests and alternative transports inject their own.
type Dialer func(ctx context.Context, url string) (Conn, error)

type clientOptions struct {
	enabled              bool
	dial                 Dialer
	clock                timing.Clock
	maxReconnectAttempts int
	livenessWindow       time.Duration

	onEvent            func(StreamEvent)
	onError            func(error)
	onConnectionChange func(ConnectionState)
}

type ClientOption func(*clientOptions)

// WithEnabled injects the embedding application's capability decision. When
// false the client is a no-op handle.
func WithEnabled(enabled bool) ClientOption {
	return func(o *clientOptions) { o.enabled = enabled }
}

func WithDialer(dial Dialer) ClientOption {
	return func(o *clientOptions) { o.dial = dial }
}

func WithClock(clock timing.Clock) ClientOption {
	return func(o *clientOptions) { o.clock = clock }
}

func WithMaxReconnectAttempts(max int) ClientOption {
	return func(o *clientOptions) { o.maxReconnectAttempts = max }
}

func WithLivenessWindow(window time.Duration) ClientOption {
	return func(o *clientOptions) { o.livenessWindow = window }
}

func WithEventCallback(callback func(StreamEvent)) ClientOption {
	return func(o *clientOptions) { o.onEvent = callback }
}

func WithErrorCallback(callback func(error)) ClientOption {
	return func(o *clientOptions) { o.onError = callback }
}

func WithConnectionChangeCallback(callback func(ConnectionState)) ClientOption {
	return func(o *clientOptions) { o.onConnectionChange = callback }
}

// Client is a reconnecting one-way event feed. Heartbeats reset the liveness
// window and are consumed; every other event is forwarded unchanged. Failed
// connections are retried with exponential backoff until the attempt budget
// is exhausted or the client is disconnected.
type Client struct {
	url     string
	options clientOptions
	ctx     context.Context

	mu             sync.Mutex
	conn           Conn
	attempts       int
	connected      bool
	lastError      error
	closed         bool
	generation     int
	reconnectTimer timing.Timer
	livenessTimer  timing.Timer
}

// Start opens the feed and returns its handle. The first connection attempt
// happens before Start returns; reconnects run on the client's clock.
func Start(ctx context.Context, url string, opts ...ClientOption) *Client {
	options := clientOptions{
		enabled:              true,
		dial:                 nil,
		clock:                timing.RealClock(),
		maxReconnectAttempts: defaultMaxReconnectAttempts,
		livenessWindow:       defaultLivenessWindow,
		onEvent:              func(StreamEvent) {},
		onError:              func(error) {},
		onConnectionChange:   func(ConnectionState) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.dial == nil {
		options.dial = NewSSEDialer(nil, nil)
	}

	client := &Client{url: url, options: options, ctx: ctx}
	if !options.enabled {
		client.closed = true
		return client
	}

	client.connect()
	return client
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		Connected:         c.connected,
		LastError:         c.lastError,
		ReconnectAttempts: c.attempts,
	}
}

// Reconnecting reports whether a reconnect attempt is currently scheduled.
// A feed that is neither connected nor reconnecting has given up.
func (c *Client) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.reconnectTimer != nil
}

// Disconnect closes the feed permanently: the socket is closed, pending
// timers are cancelled, and the attempt counter is forced to the budget so
// no scheduled reconnect can fire afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.attempts = c.options.maxReconnectAttempts
	c.generation++
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.stopTimersLocked()
	state := ConnectionState{Connected: false, LastError: c.lastError, ReconnectAttempts: c.attempts}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.options.onConnectionChange(state)
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	conn, err := c.options.dial(c.ctx, c.url)
	if err != nil {
		c.handleFailure(fmt.Errorf("failed to open activity stream: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.connected = true
	c.attempts = 0
	c.lastError = nil
	c.generation++
	generation := c.generation
	c.armLivenessLocked(generation)
	c.mu.Unlock()

	c.options.onConnectionChange(ConnectionState{Connected: true, ReconnectAttempts: 0})
	go c.readLoop(conn, generation)
}

func (c *Client) readLoop(conn Conn, generation int) {
	for {
		msg, err := conn.ReadMessage()

		c.mu.Lock()
		stale := c.generation != generation || c.closed
		c.mu.Unlock()
		if stale {
			return
		}

		if err != nil {
			c.handleFailure(fmt.Errorf("activity stream read failed: %w", err))
			return
		}

		c.dispatch(msg, generation)
	}
}

// dispatch resets liveness and forwards the event in one synchronous step so
// a heartbeat can never be reordered behind a content event.
func (c *Client) dispatch(msg []byte, generation int) {
	c.mu.Lock()
	if c.generation != generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.armLivenessLocked(generation)
	c.mu.Unlock()

	var event StreamEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		// Malformed payloads are dropped without disturbing the stream.
		return
	}

	if event.Type == EventHeartbeat {
		return
	}

	c.options.onEvent(event)
}

// handleFailure runs the shared error path for dial failures, read failures
// and liveness timeouts: report the error, count the attempt immediately,
// and schedule the next connection after min(base*2^attempts, cap).
func (c *Client) handleFailure(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.generation++
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.lastError = err
	c.stopTimersLocked()

	exhausted := c.attempts >= c.options.maxReconnectAttempts
	var delay time.Duration
	if !exhausted {
		delay = backoffDelay(c.attempts)
		c.attempts++
		c.reconnectTimer = c.options.clock.AfterFunc(delay, c.connect)
	}
	state := ConnectionState{Connected: false, LastError: err, ReconnectAttempts: c.attempts}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	c.options.onError(err)
	c.options.onConnectionChange(state)
	if exhausted {
		logger.Warn("activity stream reconnect budget exhausted", "url", c.url)
	}
}

func (c *Client) armLivenessLocked(generation int) {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
	}
	c.livenessTimer = c.options.clock.AfterFunc(c.options.livenessWindow, func() {
		c.mu.Lock()
		stale := c.generation != generation || c.closed
		c.mu.Unlock()
		if stale {
			return
		}
		c.handleFailure(fmt.Errorf("activity stream stale: no message within %s", c.options.livenessWindow))
	})
}

func (c *Client) stopTimersLocked() {
	if c.livenessTimer != nil {
		c.livenessTimer.Stop()
		c.livenessTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func backoffDelay(attempts int) time.Duration {
	delay := reconnectBaseDelay
	for range attempts {
		delay *= 2
		if delay >= reconnectDelayCap {
			return reconnectDelayCap
		}
	}
	return delay
}
