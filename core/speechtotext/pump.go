package speechtotext

import (
	"context"
	"sync"
	"time"
)

// frameCadence is the fixed interval at which buffered microphone audio is
// shipped to the provider.
const frameCadence = 250 * time.Millisecond

// FramePump batches captured audio and forwards it on a fixed cadence.
// Both provider adapters share it so their wire behavior stays identical.
type FramePump struct {
	mu      sync.Mutex
	pending []byte
	cancel  context.CancelFunc
	done    chan struct{}
}

// Push buffers one captured frame. Safe to call from the device callback.
func (p *FramePump) Push(frame []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, frame...)
	p.mu.Unlock()
}

// Start ships buffered audio every cadence tick until Stop or context
// cancellation. Send errors are reported and stop the pump.
func (p *FramePump) Start(ctx context.Context, send func(chunk []byte) error, onError func(error)) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(frameCadence)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chunk := p.take()
				if len(chunk) == 0 {
					continue
				}
				if err := send(chunk); err != nil {
					if onError != nil {
						onError(err)
					}
					return
				}
			}
		}
	}()
}

func (p *FramePump) take() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	chunk := p.pending
	p.pending = nil
	return chunk
}

// Stop halts the pump and discards unsent audio. Idempotent.
func (p *FramePump) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.pending = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
