package activity

import (
	"context"
	"sync"

	"github.com/atriumhq/atrium-voice/internal/timing"
)

const defaultScreenshotBuffer = 50

type screenshotViewOptions struct {
	maxBuffer    int
	clock        timing.Clock
	onScreenshot func(BrowserScreenshotEvent)
	onActivity   func(StreamEvent)
}

type ScreenshotViewOption func(*screenshotViewOptions)

func WithMaxBuffer(max int) ScreenshotViewOption {
	return func(o *screenshotViewOptions) { o.maxBuffer = max }
}

func WithScreenshotCallback(callback func(BrowserScreenshotEvent)) ScreenshotViewOption {
	return func(o *screenshotViewOptions) { o.onScreenshot = callback }
}

// WithActivityCallback registers the passthrough for every non-screenshot
// event on the feed.
func WithActivityCallback(callback func(StreamEvent)) ScreenshotViewOption {
	return func(o *screenshotViewOptions) { o.onActivity = callback }
}

func WithViewClock(clock timing.Clock) ScreenshotViewOption {
	return func(o *screenshotViewOptions) { o.clock = clock }
}

// ScreenshotView buckets browser_screenshot events from an activity feed
// into a bounded, oldest-evicted buffer and passes everything else through
// unchanged.
type ScreenshotView struct {
	options screenshotViewOptions

	mu     sync.Mutex
	events []BrowserScreenshotEvent
}

func NewScreenshotView(opts ...ScreenshotViewOption) *ScreenshotView {
	options := screenshotViewOptions{
		maxBuffer:    defaultScreenshotBuffer,
		clock:        timing.RealClock(),
		onScreenshot: func(BrowserScreenshotEvent) {},
		onActivity:   func(StreamEvent) {},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &ScreenshotView{options: options}
}

// Start opens the underlying feed with this view installed as its event
// sink. Remaining client options (dialer, clock, reconnect budget) pass
// through untouched.
func (v *ScreenshotView) Start(ctx context.Context, url string, opts ...ClientOption) *Client {
	opts = append(opts, WithEventCallback(v.HandleEvent))
	return Start(ctx, url, opts...)
}

// HandleEvent inspects one feed event, buffering screenshots and forwarding
// everything else.
func (v *ScreenshotView) HandleEvent(event StreamEvent) {
	screenshot, ok := parseBrowserScreenshot(event, v.options.clock.Now())
	if !ok {
		v.options.onActivity(event)
		return
	}

	v.mu.Lock()
	v.events = append(v.events, screenshot)
	if len(v.events) > v.options.maxBuffer {
		v.events = v.events[len(v.events)-v.options.maxBuffer:]
	}
	v.mu.Unlock()

	v.options.onScreenshot(screenshot)
}

// Events returns the buffered screenshots, oldest first.
func (v *ScreenshotView) Events() []BrowserScreenshotEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]BrowserScreenshotEvent(nil), v.events...)
}

// Latest returns the most recent screenshot or nil.
func (v *ScreenshotView) Latest() *BrowserScreenshotEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.events) == 0 {
		return nil
	}
	latest := v.events[len(v.events)-1]
	return &latest
}

func (v *ScreenshotView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = nil
}
