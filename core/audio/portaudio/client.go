//go:build cgo

package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/atriumhq/atrium-voice/core/audio"
)

// Client is the portaudio-backed counterpart of the miniaudio client.
// It exposes the same capture and playback contracts on platforms where
// miniaudio is unavailable.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	mu        sync.Mutex
	capturing bool
	onAudio   func(frame []byte)
	stopCh    chan struct{}
	// playGeneration invalidates an in-flight Play when Stop is called.
	playGeneration int
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(
		audio.DefaultChannels, audio.DefaultChannels,
		float64(audio.DefaultSampleRate), bufferSize, in, out,
	)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Client{bufferSize: bufferSize, stream: stream, in: in, out: out}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(frame []byte)) error {
	c.mu.Lock()
	if c.capturing {
		c.onAudio = onAudio
		c.mu.Unlock()
		return nil
	}
	if err := c.stream.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}
	c.capturing = true
	c.onAudio = onAudio
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	c.mu.Unlock()

	go c.pumpCapture(ctx, stopCh)
	return nil
}

func (c *Client) pumpCapture(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			continue
		}

		frame := bytes.Buffer{}
		_ = binary.Write(&frame, binary.LittleEndian, c.in)

		c.mu.Lock()
		onAudio := c.onAudio
		c.mu.Unlock()
		if onAudio != nil {
			onAudio(frame.Bytes())
		}
	}
}

func (c *Client) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return nil
	}
	c.capturing = false
	c.onAudio = nil
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	return nil
}

// Play renders the buffer synchronously in device-sized chunks. Stop or
// context cancellation aborts between chunks.
func (c *Client) Play(ctx context.Context, pcm []byte) error {
	chunkSize := c.bufferSize * audio.FormatLinear16.ByteSize()

	c.mu.Lock()
	c.playGeneration++
	generation := c.playGeneration
	c.mu.Unlock()

	for offset := 0; offset < len(pcm); offset += chunkSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.mu.Lock()
		cancelled := c.playGeneration != generation
		c.mu.Unlock()
		if cancelled {
			return nil
		}

		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}

		chunk := make([]byte, chunkSize)
		copy(chunk, pcm[offset:end])
		if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, c.out); err != nil {
			return fmt.Errorf("failed to frame playback audio: %w", err)
		}
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}

	return nil
}

func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playGeneration++
}

func (c *Client) Close() {
	_ = c.StopCapture()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.DefaultEncodingInfo()
}