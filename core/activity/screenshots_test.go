package activity

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func screenshotEvent(id, url string) StreamEvent {
	data, _ := json.Marshal(map[string]any{
		"screenshot_id":  id,
		"screenshot_url": url,
		"page_url":       "https://app.example.test/payroll",
		"page_title":     "Payroll",
	})
	return StreamEvent{Type: EventBrowserScreenshot, Data: data}
}

func TestScreenshotViewRoundTripsPayloadFields(t *testing.T) {
	view := NewScreenshotView()

	view.HandleEvent(screenshotEvent("shot-1", "https://cdn.example.test/shot-1.png"))

	latest := view.Latest()
	if latest == nil {
		t.Fatalf("expected a buffered screenshot")
	}
	if latest.ScreenshotID != "shot-1" {
		t.Fatalf("expected screenshot id %q, got %q", "shot-1", latest.ScreenshotID)
	}
	if latest.ScreenshotURL != "https://cdn.example.test/shot-1.png" {
		t.Fatalf("expected screenshot url to round-trip, got %q", latest.ScreenshotURL)
	}
}

func TestScreenshotViewAppliesViewportAndTimestampDefaults(t *testing.T) {
	eventTime := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	view := NewScreenshotView()

	event := screenshotEvent("shot-1", "https://cdn.example.test/shot-1.png")
	event.Timestamp = eventTime
	view.HandleEvent(event)

	latest := view.Latest()
	if latest.ViewportWidth != 1280 || latest.ViewportHeight != 800 {
		t.Fatalf("expected default viewport 1280x800, got %dx%d", latest.ViewportWidth, latest.ViewportHeight)
	}
	if !latest.Timestamp.Equal(eventTime) {
		t.Fatalf("expected timestamp to fall back to the event timestamp, got %v", latest.Timestamp)
	}
}

func TestScreenshotViewKeepsExplicitViewport(t *testing.T) {
	data, _ := json.Marshal(map[string]any{
		"screenshot_id":   "shot-1",
		"screenshot_url":  "https://cdn.example.test/shot-1.png",
		"viewport_width":  1920,
		"viewport_height": 1080,
	})
	view := NewScreenshotView()

	view.HandleEvent(StreamEvent{Type: EventBrowserScreenshot, Data: data})

	latest := view.Latest()
	if latest.ViewportWidth != 1920 || latest.ViewportHeight != 1080 {
		t.Fatalf("expected explicit viewport preserved, got %dx%d", latest.ViewportWidth, latest.ViewportHeight)
	}
}

func TestScreenshotViewBufferNeverExceedsMax(t *testing.T) {
	view := NewScreenshotView(WithMaxBuffer(3))

	for i := range 10 {
		view.HandleEvent(screenshotEvent(fmt.Sprintf("shot-%d", i), "https://cdn.example.test/shot.png"))
		if got := len(view.Events()); got > 3 {
			t.Fatalf("expected buffer to stay within 3 entries, got %d", got)
		}
	}

	events := view.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 buffered screenshots, got %d", len(events))
	}
	if events[0].ScreenshotID != "shot-7" {
		t.Fatalf("expected oldest entries evicted first, got %q", events[0].ScreenshotID)
	}
	if events[2].ScreenshotID != "shot-9" {
		t.Fatalf("expected newest entry last, got %q", events[2].ScreenshotID)
	}
}

func TestScreenshotViewForwardsOtherEventsUnchanged(t *testing.T) {
	forwarded := []StreamEvent{}
	screenshots := 0
	view := NewScreenshotView(
		WithActivityCallback(func(event StreamEvent) { forwarded = append(forwarded, event) }),
		WithScreenshotCallback(func(BrowserScreenshotEvent) { screenshots++ }),
	)

	view.HandleEvent(StreamEvent{Type: EventThinking, Message: "thinking"})
	view.HandleEvent(screenshotEvent("shot-1", "https://cdn.example.test/shot-1.png"))
	view.HandleEvent(StreamEvent{Type: EventDone})

	if len(forwarded) != 2 {
		t.Fatalf("expected 2 passthrough events, got %d", len(forwarded))
	}
	if forwarded[0].Type != EventThinking || forwarded[1].Type != EventDone {
		t.Fatalf("expected passthrough order preserved, got %q then %q", forwarded[0].Type, forwarded[1].Type)
	}
	if screenshots != 1 {
		t.Fatalf("expected 1 screenshot callback, got %d", screenshots)
	}
	if len(view.Events()) != 1 {
		t.Fatalf("expected only the screenshot buffered, got %d", len(view.Events()))
	}
}

func TestScreenshotViewClearEmptiesBuffer(t *testing.T) {
	view := NewScreenshotView()
	view.HandleEvent(screenshotEvent("shot-1", "https://cdn.example.test/shot-1.png"))

	view.Clear()

	if len(view.Events()) != 0 {
		t.Fatalf("expected empty buffer after clear, got %d", len(view.Events()))
	}
	if view.Latest() != nil {
		t.Fatalf("expected no latest screenshot after clear")
	}
}
