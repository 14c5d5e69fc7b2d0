package texttospeech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoAudio is returned by Synthesize when the stream completed without
// producing any audio bytes. Callers treat this as "synthesis unavailable"
// rather than as an empty utterance.
var ErrNoAudio = errors.New("synthesis stream produced no audio")

// HTTPSynthesizer performs one-shot speech synthesis over a plain HTTP
// streaming endpoint. It is the fallback path used when the multiplexed
// relay channel is unavailable: the whole response body is drained into
// memory before any audio is returned.
type HTTPSynthesizer struct {
	endpoint string
	client   *http.Client
	header   http.Header
}

type HTTPSynthesizerOption func(*HTTPSynthesizer)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) HTTPSynthesizerOption {
	return func(s *HTTPSynthesizer) {
		s.client = client
	}
}

// WithHeader attaches a header to every synthesis request.
func WithHeader(key, value string) HTTPSynthesizerOption {
	return func(s *HTTPSynthesizer) {
		s.header.Set(key, value)
	}
}

func NewHTTPSynthesizer(endpoint string, opts ...HTTPSynthesizerOption) *HTTPSynthesizer {
	s := &HTTPSynthesizer{
		endpoint: endpoint,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		header:   http.Header{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type synthesisRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Synthesize requests audio for the given text and drains the response
// stream to completion. A stream that ends with zero bytes yields ErrNoAudio.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, voice VoiceConfig) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		VoiceID: voice.VoiceID,
		Model:   voice.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	for key, values := range s.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, res.Body) //nolint:errcheck
		return nil, fmt.Errorf("synthesis service returned %d", res.StatusCode)
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to drain synthesis stream: %w", err)
	}
	if len(audio) == 0 {
		logger.WarnContext(ctx, "Synthesis stream completed without audio")
		return nil, ErrNoAudio
	}
	return audio, nil
}
