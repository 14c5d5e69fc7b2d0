package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
)

// Request is one turn handed to the decision endpoint: the finalized user
// utterance plus the routing identity it should be answered as.
type Request struct {
	Agent   string
	Text    string
	VoiceID string
	Channel string
}

// Response is the decision endpoint's answer: the text to speak and an
// optional receipt id identifying any action the endpoint recorded.
type Response struct {
	Text      string
	ReceiptID string
}

// Metadata carries the identifiers attached to every decision request so its
// diagnostics can be joined with server-side logs.
type Metadata struct {
	TraceID       string
	CorrelationID string
}

// TokenSource supplies the bearer credential for a request. An empty return
// means no credential is attached.
type TokenSource func() string

// Client issues non-streamed decision requests. For server-streamed turns see
// StreamDecider in stream.go.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tenantID   string
	token      TokenSource
}

type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTenantID scopes every request to the given tenant.
func WithTenantID(tenantID string) ClientOption {
	return func(c *Client) {
		c.tenantID = tenantID
	}
}

// WithTokenSource attaches bearer credentials from the given source. The
// source is consulted per request so rotated tokens are picked up.
func WithTokenSource(token TokenSource) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		token:      func() string { return "" },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decisionRequestBody struct {
	Agent   string `json:"agent"`
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	Channel string `json:"channel"`
}

type decisionResponseBody struct {
	Response  string `json:"response"`
	Text      string `json:"text"`
	ReceiptID string `json:"receipt_id"`
}

// Decide sends one request/response decision call and returns the answer
// text plus any receipt id. Non-2xx responses are turned into errors carrying
// the most human-readable message the body offers.
func (c *Client) Decide(ctx context.Context, req Request, meta Metadata) (Response, error) {
	ctx, span := tracer.Start(ctx, "decision.decide")
	defer span.End()

	body, err := json.Marshal(decisionRequestBody{
		Agent:   req.Agent,
		Text:    req.Text,
		VoiceID: req.VoiceID,
		Channel: req.Channel,
	})
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode decision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build decision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.attachMetadata(httpReq.Header, meta)

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("decision request failed: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read decision response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		failure := fmt.Errorf("%s", failureMessage(res.StatusCode, payload))
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
		return Response{}, failure
	}

	var parsed decisionResponseBody
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Response{}, fmt.Errorf("failed to parse decision response: %w", err)
	}
	text := parsed.Response
	if text == "" {
		text = parsed.Text
	}
	return Response{Text: text, ReceiptID: parsed.ReceiptID}, nil
}

func (c *Client) attachMetadata(header http.Header, meta Metadata) {
	if meta.TraceID != "" {
		header.Set("X-Trace-Id", meta.TraceID)
	}
	if meta.CorrelationID != "" {
		header.Set("X-Correlation-Id", meta.CorrelationID)
	}
	if c.tenantID != "" {
		header.Set("X-Tenant-Id", c.tenantID)
	}
	if token := c.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
}

// failureMessage extracts the most human-readable explanation from an error
// response body: a response/message/error JSON field, then the raw body, then
// a generic message built from the status code.
func failureMessage(statusCode int, payload []byte) string {
	var parsed struct {
		Response string `json:"response"`
		Message  string `json:"message"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(payload, &parsed); err == nil {
		for _, candidate := range []string{parsed.Response, parsed.Message, parsed.Error} {
			if candidate != "" {
				return candidate
			}
		}
	}
	if raw := strings.TrimSpace(string(payload)); raw != "" {
		return raw
	}
	return fmt.Sprintf("Service returned %d", statusCode)
}
