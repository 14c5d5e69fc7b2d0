package decision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atriumhq/atrium-voice/core/activity"
)

type scriptedConn struct {
	mu     sync.Mutex
	closed bool
	reads  chan []byte
}

func newScriptedConn(messages ...string) *scriptedConn {
	conn := &scriptedConn{reads: make(chan []byte, 16)}
	for _, msg := range messages {
		conn.reads <- []byte(msg)
	}
	return conn
}

func (c *scriptedConn) ReadMessage() ([]byte, error) {
	payload, ok := <-c.reads
	if !ok {
		return nil, errors.New("connection closed")
	}
	return payload, nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func TestDecideStreamForwardsNarrationAndResolves(t *testing.T) {
	conn := newScriptedConn(
		`{"type":"thinking","message":"Looking at payroll"}`,
		`{"type":"step","message":"Opening approvals"}`,
		`{"type":"response","message":"Payroll approved.","receipt_id":"rcpt-7"}`,
	)
	var dialedURL string
	dialer := func(_ context.Context, url string) (activity.Conn, error) {
		dialedURL = url
		return conn, nil
	}

	var narrationMu sync.Mutex
	var narration []string
	client := NewClient("https://api.example.com/decide")
	res, err := client.DecideStream(t.Context(),
		Request{Agent: "runway", Text: "approve payroll", VoiceID: "aria", Channel: "voice"},
		Metadata{TraceID: "trace-1", CorrelationID: "corr-1"},
		func(event activity.StreamEvent) {
			narrationMu.Lock()
			narration = append(narration, event.Message)
			narrationMu.Unlock()
		},
		activity.WithDialer(dialer),
	)
	if err != nil {
		t.Fatalf("expected streamed decide to succeed, got %v", err)
	}
	if res.Text != "Payroll approved." || res.ReceiptID != "rcpt-7" {
		t.Fatalf("expected terminal response event to resolve the call, got %+v", res)
	}

	for _, want := range []string{"stream=true", "agent=runway", "trace_id=trace-1", "correlation_id=corr-1"} {
		if !strings.Contains(dialedURL, want) {
			t.Fatalf("expected %q in stream url, got %q", want, dialedURL)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		narrationMu.Lock()
		count := len(narration)
		narrationMu.Unlock()
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 narration events, got %d", count)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDecideStreamFailsOnErrorEvent(t *testing.T) {
	conn := newScriptedConn(`{"type":"error","message":"agent crashed"}`)
	client := NewClient("https://api.example.com/decide")
	_, err := client.DecideStream(t.Context(), Request{Text: "hi"}, Metadata{}, nil,
		activity.WithDialer(func(context.Context, string) (activity.Conn, error) {
			return conn, nil
		}),
	)
	if err == nil {
		t.Fatalf("expected error event to fail the call")
	}
	if !strings.Contains(err.Error(), "agent crashed") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestDecideStreamGivesUpWhenFeedExhausted(t *testing.T) {
	client := NewClient("https://api.example.com/decide")
	_, err := client.DecideStream(t.Context(), Request{Text: "hi"}, Metadata{}, nil,
		activity.WithDialer(func(context.Context, string) (activity.Conn, error) {
			return nil, errors.New("dial refused")
		}),
		activity.WithMaxReconnectAttempts(0),
	)
	if err == nil {
		t.Fatalf("expected exhausted feed to fail the call")
	}
	if !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("expected dial error in failure, got %v", err)
	}
}

func TestDecideStreamHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	conn := newScriptedConn() // never delivers a response
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	client := NewClient("https://api.example.com/decide")
	_, err := client.DecideStream(ctx, Request{Text: "hi"}, Metadata{}, nil,
		activity.WithDialer(func(context.Context, string) (activity.Conn, error) {
			return conn, nil
		}),
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
