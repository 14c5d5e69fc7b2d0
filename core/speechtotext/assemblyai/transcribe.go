package assemblyai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/atriumhq/atrium-voice/core/speechtotext"
)

const (
	messagePartialTranscript = "PartialTranscript"
	messageFinalTranscript   = "FinalTranscript"
	messageSessionTerminated = "SessionTerminated"
)

// Start acquires the credential, then the microphone, then the streaming
// connection, releasing already-acquired resources if a later step fails.
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

	token, err := c.tokenSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire recognition credential: %w", err)
	}

	if c.capture != nil {
		if err := c.capture.StartCapture(ctx, c.pump.Push); err != nil {
			return fmt.Errorf("failed to acquire microphone: %w", err)
		}
	}

	conn, err := dialRealtimeSocket(token, options.EncodingInfo.SampleRate)
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
	go c.readAndProcessMessages(conn)

	return nil
}

func dialRealtimeSocket(token string, sampleRate int) (*websocket.Conn, error) {
	realtimeURL, _ := url.Parse("wss://api.assemblyai.com/v2/realtime/ws")
	queryParams := realtimeURL.Query()
	queryParams.Set("sample_rate", strconv.Itoa(sampleRate))
	realtimeURL.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(realtimeURL.String(),
		http.Header{"Authorization": {token}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to assemblyai: %w", err)
	}

	return conn, nil
}

func (c *RecognitionClient) sendAudio(chunk []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("recognition stream closed")
	}
	if err := c.conn.WriteJSON(struct {
		AudioData string `json:"audio_data"`
	}{AudioData: base64.StdEncoding.EncodeToString(chunk)}); err != nil {
		return fmt.Errorf("failed to write audio to assemblyai: %w", err)
	}
	return nil
}

// Stop terminates the realtime session, halts the audio pump and releases
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
			TerminateSession bool `json:"terminate_session"`
		}{TerminateSession: true})
		_ = conn.Close()
	}

	if c.capture != nil {
		if err := c.capture.StopCapture(); err != nil {
			return fmt.Errorf("failed to release microphone: %w", err)
		}
	}
	return nil
}

func (c *RecognitionClient) readAndProcessMessages(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.listening.Load() {
				c.setErr(fmt.Errorf("recognition stream read failed: %w", err))
				_ = c.Stop()
			}
			return
		}
		c.processMessage(msg)
	}
}

func (c *RecognitionClient) processMessage(msg []byte) {
	var parsedMsg struct {
		MessageType string `json:"message_type"`
		Text        string `json:"text"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return
	}

	if parsedMsg.Error != "" {
		c.setErr(fmt.Errorf("assemblyai session error: %s", parsedMsg.Error))
		return
	}

	switch parsedMsg.MessageType {
	case messagePartialTranscript:
		c.updateInterim(parsedMsg.Text)
	case messageFinalTranscript:
		c.finalizeUtterance(parsedMsg.Text)
	case messageSessionTerminated:
		c.listening.Store(false)
	}
}

func (c *RecognitionClient) updateInterim(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	c.interim = text
	c.mu.Unlock()

	if c.options.InterimTranscriptionCallback != nil {
		c.options.InterimTranscriptionCallback(text)
	}
}

// finalizeUtterance appends the finalized text, clears the interim
// transcript, and forwards the utterance once. Empty text is dropped.
func (c *RecognitionClient) finalizeUtterance(text string) {
	utterance := strings.TrimSpace(text)

	c.mu.Lock()
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

func joinUtterances(utterances []string) string {
	return strings.TrimSpace(strings.Join(utterances, " "))
}
