package deepgram

import (
	"fmt"

	"github.com/atriumhq/atrium-voice/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// convertEncoding maps the pipeline encoding onto what the listen endpoint
// accepts. Companded formats are only valid at 8kHz.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	converted := encodingInfo{}

	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.FormatLinear16:
		converted.Format = encodingLinear16
	case audio.FormatALaw:
		converted.Format = encodingALaw
	case audio.FormatMulaw:
		converted.Format = encodingMulaw
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format)
	}

	if converted.Format != encodingLinear16 && converted.SampleRate != 8000 {
		return nil, fmt.Errorf("unsupported sample rate %d for %s encoding", converted.SampleRate, converted.Format.Name())
	}

	return &converted, nil
}
