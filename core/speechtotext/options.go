package speechtotext

import (
	"context"

	"github.com/atriumhq/atrium-voice/core/audio"
)

// Recognizer is the capability contract shared by all speech recognition
// providers. Implementations stream microphone audio to their provider and
// report interim and finalized utterances through the transcription options
// passed to Start.
type Recognizer interface {
	// Start acquires a provider credential, the microphone, and the streaming
	// connection, in that order. Failure at any step releases everything
	// already acquired.
	Start(ctx context.Context, opts ...TranscriptionOption) error
	// Stop is idempotent and safe to call when never started.
	Stop() error
	// Transcript returns the current interim (not yet finalized) transcript.
	Transcript() string
	// FinalTranscript returns all finalized utterances, space-joined.
	FinalTranscript() string
	IsListening() bool
	Err() error
}

// CaptureDevice is the microphone surface the recognizers consume.
type CaptureDevice interface {
	StartCapture(ctx context.Context, onAudio func(frame []byte)) error
	StopCapture() error
	EncodingInfo() audio.EncodingInfo
}

// TokenSource produces the short-lived credential attached to a provider
// connection.
type TokenSource func(ctx context.Context) (string, error)

type TranscriptionOptions struct {
	// InterimTranscriptionCallback receives in-progress transcripts.
	InterimTranscriptionCallback func(transcript string)
	// UtteranceCallback fires once per finalized utterance. The text is
	// trimmed and never empty.
	UtteranceCallback func(text string)
	ErrorCallback     func(err error)

	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.InterimTranscriptionCallback = callback
	}
}

func WithUtteranceCallback(callback func(text string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.UtteranceCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
