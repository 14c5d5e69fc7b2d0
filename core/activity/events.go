package activity

import (
	"encoding/json"
	"time"
)

// EventType tags the narration events delivered over the activity feed.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventThinking          EventType = "thinking"
	EventToolCall          EventType = "tool_call"
	EventStep              EventType = "step"
	EventDone              EventType = "done"
	EventError             EventType = "error"
	EventHeartbeat         EventType = "heartbeat"
	EventResponse          EventType = "response"
	EventBrowserScreenshot EventType = "browser_screenshot"
)

// StreamEvent is a single server-to-client message on the activity feed.
// Heartbeats only reset the liveness window and are never forwarded.
type StreamEvent struct {
	Type          EventType       `json:"type"`
	Message       string          `json:"message,omitempty"`
	Icon          string          `json:"icon,omitempty"`
	Agent         string          `json:"agent,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReceiptID     string          `json:"receipt_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Code          string          `json:"code,omitempty"`
}

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// BrowserScreenshotEvent is the screenshot payload nested inside a
// browser_screenshot stream event's data field.
type BrowserScreenshotEvent struct {
	ScreenshotURL  string    `json:"screenshot_url"`
	ScreenshotID   string    `json:"screenshot_id"`
	PageURL        string    `json:"page_url"`
	PageTitle      string    `json:"page_title"`
	Timestamp      time.Time `json:"timestamp"`
	ViewportWidth  int       `json:"viewport_width"`
	ViewportHeight int       `json:"viewport_height"`
}

// parseBrowserScreenshot derives a screenshot event from a stream event.
// Missing dimensions default to 1280x800 and a missing timestamp falls back
// to the event timestamp, then to now.
func parseBrowserScreenshot(event StreamEvent, now time.Time) (BrowserScreenshotEvent, bool) {
	if event.Type != EventBrowserScreenshot || len(event.Data) == 0 {
		return BrowserScreenshotEvent{}, false
	}

	var screenshot BrowserScreenshotEvent
	if err := json.Unmarshal(event.Data, &screenshot); err != nil {
		return BrowserScreenshotEvent{}, false
	}

	if screenshot.ViewportWidth == 0 {
		screenshot.ViewportWidth = defaultViewportWidth
	}
	if screenshot.ViewportHeight == 0 {
		screenshot.ViewportHeight = defaultViewportHeight
	}
	if screenshot.Timestamp.IsZero() {
		if !event.Timestamp.IsZero() {
			screenshot.Timestamp = event.Timestamp
		} else {
			screenshot.Timestamp = now
		}
	}

	return screenshot, true
}
