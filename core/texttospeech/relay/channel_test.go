package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atriumhq/atrium-voice/core/texttospeech"
)

type fakeConn struct {
	mu     sync.Mutex
	writes []map[string]any
	closed bool

	reads chan []byte
}

func newFakeConn(handshake string) *fakeConn {
	conn := &fakeConn{reads: make(chan []byte, 16)}
	if handshake != "" {
		conn.reads <- []byte(handshake)
	}
	return conn
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, payload, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	c.writes = append(c.writes, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.reads)
	return nil
}

func (c *fakeConn) sentMessages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any{}, c.writes...)
}

func connectedChannel(t *testing.T, conn *fakeConn, opts ...texttospeech.SynthesisOption) *Channel {
	t.Helper()
	channel := NewChannel("wss://relay.example.com/speech",
		WithDialer(func(context.Context, string) (Conn, error) {
			return conn, nil
		}),
	)
	if err := channel.Connect(t.Context(), texttospeech.VoiceConfig{VoiceID: "aria"}, opts...); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	return channel
}

func TestConnectHandshake(t *testing.T) {
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn)
	defer channel.Close() //nolint:errcheck

	if !channel.IsConnected() {
		t.Fatalf("expected channel to report connected after handshake")
	}
}

func TestConnectCarriesVoiceParams(t *testing.T) {
	var dialedURL string
	channel := NewChannel("wss://relay.example.com/speech",
		WithDialer(func(_ context.Context, rawURL string) (Conn, error) {
			dialedURL = rawURL
			return newFakeConn(`{"type":"connected"}`), nil
		}),
	)
	if err := channel.Connect(t.Context(), texttospeech.VoiceConfig{VoiceID: "aria", Model: "sonic-2"}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer channel.Close() //nolint:errcheck

	if !strings.Contains(dialedURL, "voice_id=aria") {
		t.Fatalf("expected voice_id in dial url, got %q", dialedURL)
	}
	if !strings.Contains(dialedURL, "model=sonic-2") {
		t.Fatalf("expected model in dial url, got %q", dialedURL)
	}
}

func TestConnectRejectedByServer(t *testing.T) {
	conn := newFakeConn(`{"type":"error","message":"no capacity"}`)
	channel := NewChannel("wss://relay.example.com/speech",
		WithDialer(func(context.Context, string) (Conn, error) {
			return conn, nil
		}),
	)

	err := channel.Connect(t.Context(), texttospeech.VoiceConfig{})
	if err == nil {
		t.Fatalf("expected connect to fail on server error handshake")
	}
	if !strings.Contains(err.Error(), "no capacity") {
		t.Fatalf("expected server message in error, got %v", err)
	}
	if channel.IsConnected() {
		t.Fatalf("expected channel to stay disconnected after refusal")
	}
}

func TestConnectFailsOnDialError(t *testing.T) {
	channel := NewChannel("wss://relay.example.com/speech",
		WithDialer(func(context.Context, string) (Conn, error) {
			return nil, errors.New("dial refused")
		}),
	)
	if err := channel.Connect(t.Context(), texttospeech.VoiceConfig{}); err == nil {
		t.Fatalf("expected connect to fail when dial fails")
	}
}

func TestSpeakNormalizesTrailingSpace(t *testing.T) {
	for _, tc := range []struct {
		text string
		want string
	}{
		{text: "hello", want: "hello "},
		{text: "hello ", want: "hello "},
		{text: "hello   ", want: "hello "},
	} {
		conn := newFakeConn(`{"type":"connected"}`)
		channel := connectedChannel(t, conn)

		if err := channel.Speak(tc.text, "ctx-1"); err != nil {
			t.Fatalf("expected speak to succeed, got %v", err)
		}
		messages := conn.sentMessages()
		if len(messages) != 1 {
			t.Fatalf("expected 1 message for %q, got %d", tc.text, len(messages))
		}
		if got := messages[0]["text"]; got != tc.want {
			t.Fatalf("expected text %q for input %q, got %q", tc.want, tc.text, got)
		}
		if got := messages[0]["context_id"]; got != "ctx-1" {
			t.Fatalf("expected context id ctx-1, got %v", got)
		}
		channel.Close() //nolint:errcheck
	}
}

func TestSpeakWhileDisconnectedIsNoop(t *testing.T) {
	channel := NewChannel("wss://relay.example.com/speech")
	if err := channel.Speak("hello", "ctx-1"); err != nil {
		t.Fatalf("expected speak on disconnected channel to be a no-op, got %v", err)
	}
}

func TestFlushAndCloseContextMessages(t *testing.T) {
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn)
	defer channel.Close() //nolint:errcheck

	if err := channel.Flush("ctx-1"); err != nil {
		t.Fatalf("expected flush to succeed, got %v", err)
	}
	if err := channel.CloseContext("ctx-1"); err != nil {
		t.Fatalf("expected close context to succeed, got %v", err)
	}

	messages := conn.sentMessages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if got := messages[0]["flush"]; got != true {
		t.Fatalf("expected flush flag, got %v", messages[0])
	}
	if got := messages[1]["close_context"]; got != true {
		t.Fatalf("expected close_context flag, got %v", messages[1])
	}
}

func TestKeepAliveSendsEmptyText(t *testing.T) {
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn)
	defer channel.Close() //nolint:errcheck

	if err := channel.KeepAlive("ctx-1"); err != nil {
		t.Fatalf("expected keep-alive to succeed, got %v", err)
	}
	messages := conn.sentMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if got, ok := messages[0]["text"]; !ok || got != "" {
		t.Fatalf("expected empty text fragment, got %v", messages[0])
	}
	if got := messages[0]["context_id"]; got != "ctx-1" {
		t.Fatalf("expected context id ctx-1, got %v", got)
	}
}

func TestCloseSendsCloseSocket(t *testing.T) {
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn)

	if err := channel.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if channel.IsConnected() {
		t.Fatalf("expected channel to report disconnected after close")
	}

	messages := conn.sentMessages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if got := messages[0]["close_socket"]; got != true {
		t.Fatalf("expected close_socket flag, got %v", messages[0])
	}

	if err := channel.Close(); err != nil {
		t.Fatalf("expected repeated close to be a no-op, got %v", err)
	}
}

func TestIncomingAudioRoutedByContext(t *testing.T) {
	type chunk struct {
		contextID string
		audio     []byte
	}
	chunks := make(chan chunk, 4)
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn,
		texttospeech.WithAudioCallback(func(contextID string, audio []byte) {
			chunks <- chunk{contextID: contextID, audio: audio}
		}),
	)
	defer channel.Close() //nolint:errcheck

	encoded := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	conn.reads <- []byte(`{"contextId":"ctx-7","audio":"` + encoded + `"}`)

	select {
	case got := <-chunks:
		if got.contextID != "ctx-7" {
			t.Fatalf("expected context ctx-7, got %q", got.contextID)
		}
		if len(got.audio) != 3 || got.audio[0] != 0x01 {
			t.Fatalf("expected decoded audio bytes, got %v", got.audio)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected audio chunk to be delivered")
	}
}

func TestIncomingAudioWithoutContextUsesDefault(t *testing.T) {
	contexts := make(chan string, 4)
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn,
		texttospeech.WithAudioCallback(func(contextID string, _ []byte) {
			contexts <- contextID
		}),
	)
	defer channel.Close() //nolint:errcheck

	encoded := base64.StdEncoding.EncodeToString([]byte{0xFF})
	conn.reads <- []byte(`{"audio":"` + encoded + `"}`)

	select {
	case got := <-contexts:
		if got != DefaultContextID {
			t.Fatalf("expected default context id, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected audio chunk to be delivered")
	}
}

func TestFinalMarkerBothSpellings(t *testing.T) {
	done := make(chan string, 4)
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn,
		texttospeech.WithContextDoneCallback(func(contextID string) {
			done <- contextID
		}),
	)
	defer channel.Close() //nolint:errcheck

	conn.reads <- []byte(`{"contextId":"ctx-1","isFinal":true}`)
	conn.reads <- []byte(`{"context_id":"ctx-2","is_final":true}`)

	for _, want := range []string{"ctx-1", "ctx-2"} {
		select {
		case got := <-done:
			if got != want {
				t.Fatalf("expected context %q done, got %q", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("expected final marker for %q", want)
		}
	}
}

func TestServerErrorReported(t *testing.T) {
	errs := make(chan error, 4)
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn,
		texttospeech.WithErrorCallback(func(err error) {
			errs <- err
		}),
	)
	defer channel.Close() //nolint:errcheck

	conn.reads <- []byte(`{"type":"error","message":"voice unavailable"}`)

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "voice unavailable") {
			t.Fatalf("expected server message in error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error to be reported")
	}
}

func TestMalformedMessageDropped(t *testing.T) {
	chunks := make(chan []byte, 4)
	conn := newFakeConn(`{"type":"connected"}`)
	channel := connectedChannel(t, conn,
		texttospeech.WithAudioCallback(func(_ string, audio []byte) {
			chunks <- audio
		}),
	)
	defer channel.Close() //nolint:errcheck

	conn.reads <- []byte(`{not json`)
	encoded := base64.StdEncoding.EncodeToString([]byte{0x42})
	conn.reads <- []byte(`{"audio":"` + encoded + `"}`)

	select {
	case audio := <-chunks:
		if len(audio) != 1 || audio[0] != 0x42 {
			t.Fatalf("expected audio after malformed message, got %v", audio)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel to survive malformed message")
	}
}

func TestNextContextIDsAreUnique(t *testing.T) {
	channel := NewChannel("wss://relay.example.com/speech")
	seen := map[string]bool{}
	for range 100 {
		id := channel.NextContextID()
		if seen[id] {
			t.Fatalf("expected unique context ids, got duplicate %q", id)
		}
		seen[id] = true
	}
}
