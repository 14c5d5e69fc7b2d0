package audio

import "errors"

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// ErrPlaybackBlocked reports that the runtime refused to start playback
// without a preceding user interaction. Callers may retry the same audio
// from a user-initiated action.
var ErrPlaybackBlocked = errors.New("audio playback blocked pending user interaction")

// EncodingInfo describes the raw audio format flowing through the pipeline.
// Payloads are otherwise treated as opaque byte chunks.
type EncodingInfo struct {
	SampleRate int
	Format     Format
}

func DefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: FormatLinear16}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format == ""
}

// SilenceValue returns the byte that encodes silence for the format.
func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case FormatALaw:
		return 0x55
	case FormatMulaw:
		return 0xFF
	}
	return 0
}

// BytesPerSecond returns the stream rate for a single channel.
func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

type Format string

const (
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
	FormatLinear16 Format = "linear16"
)

func (f Format) Name() string { return string(f) }

func (f Format) ByteSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatLinear16:
		return 2
	}
	return -1
}
