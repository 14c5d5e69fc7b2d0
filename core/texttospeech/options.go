package texttospeech

// VoiceConfig selects the voice and model used for synthesis. Both fields are
// passed through to the synthesis backend verbatim.
type VoiceConfig struct {
	VoiceID string
	Model   string
}

// SynthesisOptions carry the callbacks a synthesis backend invokes as audio
// is produced.
type SynthesisOptions struct {
	// AudioCallback receives decoded audio chunks together with the
	// synthesis context they belong to.
	AudioCallback func(contextID string, audio []byte)
	// ContextDoneCallback fires once per context when the backend signals
	// that no further audio will arrive for it.
	ContextDoneCallback func(contextID string)
	// ErrorCallback receives backend-reported and transport errors.
	ErrorCallback func(err error)
}

type SynthesisOption func(*SynthesisOptions)

func WithAudioCallback(callback func(contextID string, audio []byte)) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.AudioCallback = callback
	}
}

func WithContextDoneCallback(callback func(contextID string)) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.ContextDoneCallback = callback
	}
}

func WithErrorCallback(callback func(err error)) SynthesisOption {
	return func(o *SynthesisOptions) {
		o.ErrorCallback = callback
	}
}
