package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atriumhq/atrium-voice/core/texttospeech"
	"github.com/atriumhq/atrium-voice/internal/utils"
)

const (
	// connectTimeout bounds the dial plus the server handshake message.
	connectTimeout = 10 * time.Second

	// DefaultContextID is attributed to server audio that arrives without a
	// context identifier.
	DefaultContextID = "default"
)

// Conn is the subset of a websocket connection the channel needs. Satisfied
// by *websocket.Conn, replaced by a fake in tests.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens the relay socket for the given URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

func defaultDialer(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, http.Header{})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Channel multiplexes speech synthesis for multiple contexts over a single
// relay websocket. All writes are serialized; incoming audio is demultiplexed
// by context id and delivered through the synthesis callbacks.
type Channel struct {
	endpoint string
	dialer   Dialer
	options  texttospeech.SynthesisOptions

	conn      Conn
	connMu    sync.Mutex
	connected atomic.Bool
	closing   atomic.Bool

	contextSeq atomic.Int64
}

type ChannelOption func(*Channel)

// WithDialer overrides how the relay socket is opened, primarily for tests.
func WithDialer(dialer Dialer) ChannelOption {
	return func(c *Channel) {
		c.dialer = dialer
	}
}

// NewChannel builds a channel for the given relay endpoint. The endpoint must
// be a websocket URL without voice parameters; those are appended by Connect.
func NewChannel(endpoint string, opts ...ChannelOption) *Channel {
	c := &Channel{
		endpoint: endpoint,
		dialer:   defaultDialer,
		options: texttospeech.SynthesisOptions{
			AudioCallback:       func(string, []byte) {},
			ContextDoneCallback: func(string) {},
			ErrorCallback:       func(error) {},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type handshakeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Connect dials the relay, waits for the server handshake, and starts the
// receive loop. The voice configuration is carried in the socket URL. Connect
// fails if the handshake does not complete within the connection timeout.
func (c *Channel) Connect(ctx context.Context, voice texttospeech.VoiceConfig, opts ...texttospeech.SynthesisOption) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected.Load() {
		return errors.New("relay channel is already connected")
	}

	for _, opt := range opts {
		opt(&c.options)
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("invalid relay endpoint: %w", err)
	}
	query := endpoint.Query()
	if voice.VoiceID != "" {
		query.Set("voice_id", voice.VoiceID)
	}
	if voice.Model != "" {
		query.Set("model", voice.Model)
	}
	endpoint.RawQuery = query.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := c.dialer(dialCtx, endpoint.String())
	if err != nil {
		return fmt.Errorf("failed to open relay socket: %w", err)
	}

	if err := awaitHandshake(dialCtx, conn); err != nil {
		_ = conn.Close() // Ignored on purpose
		return err
	}

	c.conn = conn
	c.closing.Store(false)
	c.connected.Store(true)
	go c.processIncomingMessages(conn)
	return nil
}

// awaitHandshake reads the first server message and requires it to be the
// "connected" acknowledgement. An explicit error message or a timeout both
// fail the connection attempt.
func awaitHandshake(ctx context.Context, conn Conn) error {
	type readResult struct {
		payload []byte
		err     error
	}
	result := make(chan readResult, 1)
	go func() {
		_, payload, err := conn.ReadMessage()
		result <- readResult{payload: payload, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("relay handshake timed out: %w", ctx.Err())
	case r := <-result:
		if r.err != nil {
			return fmt.Errorf("relay handshake failed: %w", r.err)
		}
		var msg handshakeMessage
		if err := json.Unmarshal(r.payload, &msg); err != nil {
			return fmt.Errorf("unexpected relay handshake payload: %w", err)
		}
		switch msg.Type {
		case "connected":
			return nil
		case "error":
			return fmt.Errorf("relay refused connection: %s", msg.Message)
		default:
			return fmt.Errorf("unexpected relay handshake message: %q", msg.Type)
		}
	}
}

// IsConnected reports whether the channel currently holds a live socket.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// NextContextID returns a fresh synthesis context identifier. The counter
// keeps ids collision-free within the channel even when generated within the
// same millisecond.
func (c *Channel) NextContextID() string {
	return fmt.Sprintf("ctx-%d-%d", c.contextSeq.Add(1), time.Now().UnixMilli())
}

type outboundMessage struct {
	Text         *string `json:"text,omitempty"`
	ContextID    string  `json:"context_id,omitempty"`
	Flush        bool    `json:"flush,omitempty"`
	CloseContext bool    `json:"close_context,omitempty"`
	CloseSocket  bool    `json:"close_socket,omitempty"`
}

// Speak queues text for synthesis on the given context. Trailing spaces are
// normalized so that exactly one remains: the relay concatenates successive
// fragments verbatim, and the space keeps word boundaries intact. Speaking on
// a disconnected channel is a no-op.
func (c *Channel) Speak(text string, contextID string) error {
	if !c.connected.Load() {
		return nil
	}
	normalized := strings.TrimRight(text, " ") + " "
	return c.writeJSON(outboundMessage{Text: utils.Ptr(normalized), ContextID: contextID})
}

// Flush asks the relay to synthesize any text buffered on the context without
// waiting for more input.
func (c *Channel) Flush(contextID string) error {
	if !c.connected.Load() {
		return nil
	}
	return c.writeJSON(outboundMessage{ContextID: contextID, Flush: true})
}

// CloseContext tells the relay that no further text will arrive for the
// context. The server answers with a final marker once the remaining audio
// has been delivered.
func (c *Channel) CloseContext(contextID string) error {
	if !c.connected.Load() {
		return nil
	}
	return c.writeJSON(outboundMessage{ContextID: contextID, CloseContext: true})
}

// KeepAlive sends an empty text fragment on the context to hold the relay
// session open during long pauses. Callers invoke this only while a context
// is active.
func (c *Channel) KeepAlive(contextID string) error {
	if !c.connected.Load() {
		return nil
	}
	return c.writeJSON(outboundMessage{Text: utils.Ptr(""), ContextID: contextID})
}

// Close tears the channel down. The close_socket message is best-effort; the
// socket is closed regardless of whether it could be delivered.
func (c *Channel) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected.Load() {
		return nil
	}
	c.closing.Store(true)
	c.connected.Store(false)

	_ = c.conn.WriteJSON(outboundMessage{CloseSocket: true}) // Ignored on purpose
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close relay socket: %w", err)
	}
	return nil
}

func (c *Channel) writeJSON(msg outboundMessage) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to relay socket: %w", err)
	}
	return nil
}

type inboundMessage struct {
	ContextIDCamel string `json:"contextId"`
	ContextIDSnake string `json:"context_id"`
	Audio          string `json:"audio"`
	IsFinalCamel   *bool  `json:"isFinal"`
	IsFinalSnake   *bool  `json:"is_final"`
	Type           string `json:"type"`
	Message        string `json:"message"`
}

func (m inboundMessage) contextID() string {
	if m.ContextIDCamel != "" {
		return m.ContextIDCamel
	}
	if m.ContextIDSnake != "" {
		return m.ContextIDSnake
	}
	return DefaultContextID
}

func (m inboundMessage) isFinal() bool {
	if m.IsFinalCamel != nil {
		return *m.IsFinalCamel
	}
	if m.IsFinalSnake != nil {
		return *m.IsFinalSnake
	}
	return false
}

func (c *Channel) processIncomingMessages(conn Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !c.closing.Load() && c.connected.CompareAndSwap(true, false) {
				c.options.ErrorCallback(fmt.Errorf("relay socket read failed: %w", err))
			}
			return
		}
		c.dispatch(payload)
	}
}

// dispatch demultiplexes one server message. Messages that cannot be parsed
// are dropped; undecodable audio is dropped without ending the context.
func (c *Channel) dispatch(payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Warn("Dropping malformed relay message", "error", err)
		return
	}

	if msg.Type == "error" {
		c.options.ErrorCallback(fmt.Errorf("relay reported error: %s", msg.Message))
		return
	}

	if msg.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			logger.Warn("Dropping undecodable relay audio", "error", err)
		} else {
			c.options.AudioCallback(msg.contextID(), audio)
		}
	}

	if msg.isFinal() {
		c.options.ContextDoneCallback(msg.contextID())
	}
}
