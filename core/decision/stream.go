package decision

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/atriumhq/atrium-voice/core/activity"
)

// DecideStream issues a server-streamed decision call over the activity feed.
// Intermediate narration events are forwarded to onActivity as they arrive;
// the call resolves when a terminal response event supplies the final text
// and receipt id. An error-typed event or an exhausted reconnect budget fails
// the call instead.
func (c *Client) DecideStream(ctx context.Context, req Request, meta Metadata, onActivity func(activity.StreamEvent), opts ...activity.ClientOption) (Response, error) {
	streamURL, err := c.streamURL(req, meta)
	if err != nil {
		return Response{}, err
	}
	if onActivity == nil {
		onActivity = func(activity.StreamEvent) {}
	}

	header := http.Header{}
	if c.tenantID != "" {
		header.Set("X-Tenant-Id", c.tenantID)
	}
	if token := c.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	responses := make(chan Response, 1)
	terminal := make(chan error, 1)
	transport := make(chan error, 1)
	push := func(errs chan error, err error) {
		select {
		case errs <- err:
		default:
		}
	}

	options := append([]activity.ClientOption{
		activity.WithDialer(activity.NewSSEDialer(c.httpClient, header)),
		activity.WithEventCallback(func(event activity.StreamEvent) {
			switch event.Type {
			case activity.EventResponse:
				select {
				case responses <- Response{Text: event.Message, ReceiptID: event.ReceiptID}:
				default:
				}
			case activity.EventError:
				message := event.Message
				if message == "" {
					message = event.Code
				}
				push(terminal, fmt.Errorf("decision stream reported error: %s", message))
			default:
				onActivity(event)
			}
		}),
		activity.WithErrorCallback(func(err error) {
			push(transport, fmt.Errorf("decision stream disconnected: %w", err))
		}),
	}, opts...)

	feed := activity.Start(ctx, streamURL, options...)
	defer feed.Disconnect()

	for {
		select {
		case res := <-responses:
			return res, nil
		case err := <-terminal:
			return Response{}, err
		case err := <-transport:
			// The feed retries on its own; only give up once neither a live
			// connection nor a scheduled reconnect remains.
			if state := feed.State(); !state.Connected && !feed.Reconnecting() {
				return Response{}, err
			}
		case <-ctx.Done():
			return Response{}, fmt.Errorf("decision stream canceled: %w", ctx.Err())
		}
	}
}

// streamURL builds the feed URL for one streamed turn: the request payload
// and metadata ride as query parameters alongside the streamed-feed flag.
func (c *Client) streamURL(req Request, meta Metadata) (string, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid decision endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("stream", "true")
	query.Set("agent", req.Agent)
	query.Set("text", req.Text)
	if req.VoiceID != "" {
		query.Set("voiceId", req.VoiceID)
	}
	if req.Channel != "" {
		query.Set("channel", req.Channel)
	}
	if meta.TraceID != "" {
		query.Set("trace_id", meta.TraceID)
	}
	if meta.CorrelationID != "" {
		query.Set("correlation_id", meta.CorrelationID)
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}
