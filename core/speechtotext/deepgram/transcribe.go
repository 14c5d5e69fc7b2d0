package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/atriumhq/atrium-voice/core/speechtotext"
)

// keepAliveInterval keeps the upstream from dropping an idle connection
// while the microphone is silent.
const keepAliveInterval = 5 * time.Second

// Start acquires the credential, then the microphone, then the streaming
// connection. Whatever was already acquired is released if a later step
// fails.
func (c *RecognitionClient) Start(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	if c.listening.Load() {
		return nil
	}

	options := speechtotext.TranscriptionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.EncodingInfo.IsZero() && c.capture != nil {
		options.EncodingInfo = c.capture.EncodingInfo()
	}
	c.options = options

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	token, err := c.tokenSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire recognition credential: %w", err)
	}

	if c.capture != nil {
		if err := c.capture.StartCapture(ctx, c.pump.Push); err != nil {
			return fmt.Errorf("failed to acquire microphone: %w", err)
		}
	}

	conn, err := dialListenSocket(token, *encoding)
	if err != nil {
		if c.capture != nil {
			_ = c.capture.StopCapture()
		}
		return fmt.Errorf("failed to open recognition stream: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.listening.Store(true)

	c.pump.Start(ctx, c.sendAudio, c.setErr)
	go c.readAndProcessMessages(ctx, conn)
	go c.keepAliveLoop(ctx)

	return nil
}

func dialListenSocket(token string, encoding encodingInfo) (*websocket.Conn, error) {
	listenURL, _ := url.Parse("wss://api.deepgram.com/v1/listen")
	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", "nova-3")
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(listenURL.String(),
		http.Header{"Authorization": {"Token " + token}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (c *RecognitionClient) sendAudio(chunk []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("recognition stream closed")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		return fmt.Errorf("failed to write audio to deepgram: %w", err)
	}
	return nil
}

func (c *RecognitionClient) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.listening.Load() {
				return
			}
			c.connMu.Lock()
			conn := c.conn
			if conn != nil {
				_ = conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"})
			}
			c.connMu.Unlock()
		}
	}
}

// Stop closes the streaming connection, halts the audio pump and releases
// the microphone. Safe to call repeatedly or before Start.
func (c *RecognitionClient) Stop() error {
	c.listening.Store(false)
	c.pump.Stop()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)})
		_ = conn.Close()
	}

	if c.capture != nil {
		if err := c.capture.StopCapture(); err != nil {
			return fmt.Errorf("failed to release microphone: %w", err)
		}
	}
	return nil
}

func (c *RecognitionClient) readAndProcessMessages(_ context.Context, conn *websocket.Conn) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if c.listening.Load() {
				c.setErr(fmt.Errorf("recognition stream read failed: %w", err))
				_ = c.Stop()
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}

func (c *RecognitionClient) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			return
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)

		if msgResp.IsFinal {
			c.appendSegment(transcript)
			if msgResp.SpeechFinal {
				c.finalizeUtterance()
			}
			return
		}
		c.updateInterim(transcript)

	case api.TypeUtteranceEndResponse:
		c.finalizeUtterance()
	}
}

func (c *RecognitionClient) updateInterim(transcript string) {
	if transcript == "" {
		return
	}

	c.mu.Lock()
	c.interim = joinSegments(append(append([]string(nil), c.segments...), transcript))
	interim := c.interim
	c.mu.Unlock()

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback(interim)
	}
}

func (c *RecognitionClient) appendSegment(transcript string) {
	if transcript == "" {
		return
	}

	c.mu.Lock()
	c.segments = append(c.segments, transcript)
	c.interim = joinSegments(c.segments)
	interim := c.interim
	c.mu.Unlock()

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback(interim)
	}
}

// finalizeUtterance flushes the accumulated segments: the joined text moves
// into the finalized transcript, the interim transcript clears, and the
// utterance callback fires once. Empty utterances are never forwarded.
func (c *RecognitionClient) finalizeUtterance() {
	c.mu.Lock()
	utterance := strings.TrimSpace(joinSegments(c.segments))
	c.segments = nil
	c.interim = ""
	if utterance != "" {
		c.finalized = append(c.finalized, utterance)
	}
	c.mu.Unlock()

	if utterance == "" {
		return
	}

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback("")
	}
	if c.options.UtteranceCallback != nil {
		c.options.UtteranceCallback(utterance)
	}
}

func joinSegments(segments []string) string {
	return strings.TrimSpace(strings.Join(segments, " "))
}
