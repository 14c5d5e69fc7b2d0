package voice

import (
	"context"

	"github.com/atriumhq/atrium-voice/core/activity"
	"github.com/atriumhq/atrium-voice/core/decision"
	"github.com/atriumhq/atrium-voice/core/speechtotext"
	"github.com/atriumhq/atrium-voice/core/texttospeech"
	"github.com/atriumhq/atrium-voice/internal/timing"
)

// SynthesisChannel is the multiplexed synthesis surface the orchestrator
// speaks through. Satisfied by *relay.Channel.
type SynthesisChannel interface {
	Connect(ctx context.Context, voice texttospeech.VoiceConfig, opts ...texttospeech.SynthesisOption) error
	NextContextID() string
	Speak(text string, contextID string) error
	Flush(contextID string) error
	CloseContext(contextID string) error
	KeepAlive(contextID string) error
	Close() error
	IsConnected() bool
}

// FallbackSynthesizer is the one-shot HTTP synthesis path used when the
// multiplexed channel is unavailable. Satisfied by
// *texttospeech.HTTPSynthesizer.
type FallbackSynthesizer interface {
	Synthesize(ctx context.Context, text string, voice texttospeech.VoiceConfig) ([]byte, error)
}

// Decider issues one request/response decision call. Satisfied by
// *decision.Client.
type Decider interface {
	Decide(ctx context.Context, req decision.Request, meta decision.Metadata) (decision.Response, error)
}

// StreamDecider issues a server-streamed decision call, forwarding narration
// events as they arrive. Satisfied by *decision.Client.
type StreamDecider interface {
	DecideStream(ctx context.Context, req decision.Request, meta decision.Metadata, onActivity func(activity.StreamEvent), opts ...activity.ClientOption) (decision.Response, error)
}

// Player renders one assembled audio buffer. Play blocks until playback
// finishes or is stopped; Stop aborts any in-progress playback.
type Player interface {
	Play(ctx context.Context, audio []byte) error
	Stop()
}

// AccessTokenSource reports the current access credential; empty means the
// credential is absent.
type AccessTokenSource func() string

type OrchestratorOption func(*Orchestrator)

// WithAgent sets the logical speaker identity decisions are requested as.
func WithAgent(agent string) OrchestratorOption {
	return func(o *Orchestrator) { o.agent = agent }
}

// WithChannelName tags decision requests with the surface they came from.
func WithChannelName(channel string) OrchestratorOption {
	return func(o *Orchestrator) { o.channelName = channel }
}

func WithVoice(voice texttospeech.VoiceConfig) OrchestratorOption {
	return func(o *Orchestrator) { o.voice = voice }
}

func WithRecognizer(recognizer speechtotext.Recognizer) OrchestratorOption {
	return func(o *Orchestrator) { o.recognizer = recognizer }
}

func WithSynthesisChannel(channel SynthesisChannel) OrchestratorOption {
	return func(o *Orchestrator) { o.channel = channel }
}

func WithFallbackSynthesizer(fallback FallbackSynthesizer) OrchestratorOption {
	return func(o *Orchestrator) { o.fallback = fallback }
}

func WithDecider(decider Decider) OrchestratorOption {
	return func(o *Orchestrator) { o.decider = decider }
}

// WithStreamDecider switches decision calls to the server-streamed transport.
// Narration events are forwarded to the activity callback.
func WithStreamDecider(decider StreamDecider) OrchestratorOption {
	return func(o *Orchestrator) { o.streamDecider = decider }
}

func WithPlayer(player Player) OrchestratorOption {
	return func(o *Orchestrator) { o.player = player }
}

func WithClock(clock timing.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithAccessTokenSource enables the auth-loss guard: when the credential
// disappears mid-session the orchestrator waits a grace window, then ends
// the session unless the credential reappeared.
func WithAccessTokenSource(token AccessTokenSource) OrchestratorOption {
	return func(o *Orchestrator) { o.token = token }
}

func WithDiagnosticCallback(callback func(VoiceDiagnosticEvent)) OrchestratorOption {
	return func(o *Orchestrator) { o.onDiagnostic = callback }
}

func WithStatusCallback(callback func(VoiceStatus)) OrchestratorOption {
	return func(o *Orchestrator) { o.onStatusChange = callback }
}

// WithResponseCallback surfaces the decision's text answer. It fires before
// synthesis, so a failed voice leg never withholds a text answer that was
// already obtained.
func WithResponseCallback(callback func(text string, receiptID string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onResponse = callback }
}

func WithInterimTranscriptCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onInterim = callback }
}

// WithActivityCallback receives narration events from streamed decision
// turns.
func WithActivityCallback(callback func(activity.StreamEvent)) OrchestratorOption {
	return func(o *Orchestrator) { o.onActivity = callback }
}
