//go:build cgo

package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/atriumhq/atrium-voice/core/audio"
)

// Client exposes the default microphone and speaker through miniaudio.
// It satisfies both the capture contract used by the speech recognition
// adapters and the playback contract used by the voice session.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	capture  captureDevice
	playback playbackDevice
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.capture.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := client.playback.init(audioCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(frame []byte)) error {
	return c.capture.start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.capture.stop()
}

// Play blocks until the buffer has been fully rendered, the context is
// cancelled, or Stop is called.
func (c *Client) Play(ctx context.Context, pcm []byte) error {
	return c.playback.play(ctx, pcm)
}

// Stop aborts any in-progress playback and discards unrendered audio.
func (c *Client) Stop() {
	c.playback.interrupt()
}

func (c *Client) Close() {
	_ = c.capture.uninit()
	_ = c.playback.uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.DefaultEncodingInfo()
}