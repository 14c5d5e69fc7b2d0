package deepgram

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/atriumhq/atrium-voice/core/speechtotext"
)

// RecognitionClient streams microphone audio to Deepgram's listen endpoint
// and assembles interim and finalized utterances.
type RecognitionClient struct {
	capture     speechtotext.CaptureDevice
	tokenSource speechtotext.TokenSource

	conn   *websocket.Conn
	connMu sync.Mutex
	pump   speechtotext.FramePump

	options speechtotext.TranscriptionOptions

	mu        sync.Mutex
	interim   string
	segments  []string
	finalized []string
	lastErr   error

	listening atomic.Bool
}

type Option func(*RecognitionClient)

// WithTokenSource overrides how the connection credential is acquired. The
// default reads DEEPGRAM_API_KEY from the environment.
func WithTokenSource(source speechtotext.TokenSource) Option {
	return func(c *RecognitionClient) { c.tokenSource = source }
}

func NewRecognitionClient(capture speechtotext.CaptureDevice, opts ...Option) *RecognitionClient {
	client := &RecognitionClient{
		capture:     capture,
		tokenSource: envTokenSource,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func envTokenSource(context.Context) (string, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return "", fmt.Errorf("deepgram api key not found")
	}
	return apiKey, nil
}

func (c *RecognitionClient) IsListening() bool { return c.listening.Load() }

func (c *RecognitionClient) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

func (c *RecognitionClient) FinalTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return joinSegments(c.finalized)
}

func (c *RecognitionClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *RecognitionClient) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if c.options.ErrorCallback != nil {
		c.options.ErrorCallback(err)
	}
}
