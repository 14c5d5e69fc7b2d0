//go:build cgo

package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/atriumhq/atrium-voice/core/audio"
)

type playbackDevice struct {
	device *malgo.Device
	config malgo.DeviceConfig

	mu      sync.Mutex
	pending []byte
	drained chan struct{}
	// generation invalidates an in-flight Play when interrupt is called.
	generation int
}

func (p *playbackDevice) init(audioContext *malgo.AllocatedContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	format := malgo.FormatS16
	sampleRate := uint32(audio.DefaultSampleRate)

	p.config = malgo.DefaultDeviceConfig(malgo.Playback)
	p.config.SampleRate = sampleRate
	p.config.Playback.Format = format
	p.config.Playback.Channels = uint32(audio.DefaultChannels)
	p.config.Alsa.NoMMap = 1
	p.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	p.config.Periods = 4

	bytesPerFrame := malgo.SampleSizeInBytes(format) * audio.DefaultChannels

	var err error
	p.device, err = malgo.InitDevice(audioContext.Context, p.config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			p.fill(pOutput, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (p *playbackDevice) fill(out []byte, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n > len(out) {
		n = len(out)
	}

	copied := copy(out[:n], p.pending)
	p.pending = p.pending[copied:]
	for i := copied; i < n; i++ {
		out[i] = 0
	}

	if len(p.pending) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

func (p *playbackDevice) play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	p.mu.Lock()
	if p.device == nil {
		p.mu.Unlock()
		return fmt.Errorf("device not initialized")
	}

	p.generation++
	generation := p.generation
	p.pending = append([]byte(nil), pcm...)
	drained := make(chan struct{})
	p.drained = drained
	device := p.device
	p.mu.Unlock()

	if !device.IsStarted() {
		if err := device.Start(); err != nil {
			p.clear(generation)
			return fmt.Errorf("failed to start playback device: %w", err)
		}
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		p.clear(generation)
		return ctx.Err()
	}
}

func (p *playbackDevice) interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.pending = nil
	if p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

func (p *playbackDevice) clear(generation int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != generation {
		return
	}
	p.pending = nil
	if p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

func (p *playbackDevice) uninit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	p.pending = nil
	if p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
	return nil
}