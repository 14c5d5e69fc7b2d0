package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atriumhq/atrium-voice/core/activity"
	"github.com/atriumhq/atrium-voice/core/audio"
	"github.com/atriumhq/atrium-voice/core/decision"
	"github.com/atriumhq/atrium-voice/core/speechtotext"
	"github.com/atriumhq/atrium-voice/core/texttospeech"
	"github.com/atriumhq/atrium-voice/internal/timing"
)

const (
	errorRecoveryDelay = 2 * time.Second
	keepAliveInterval  = 30 * time.Second
	authLossGrace      = 10 * time.Second
	authCheckInterval  = time.Second
)

// Orchestrator owns a voice session and sequences the full loop: listen,
// finalize utterance, decide, speak, listen. At most one turn is in flight;
// a new utterance barges in on the previous one.
type Orchestrator struct {
	agent       string
	channelName string
	voice       texttospeech.VoiceConfig

	recognizer    speechtotext.Recognizer
	channel       SynthesisChannel
	fallback      FallbackSynthesizer
	decider       Decider
	streamDecider StreamDecider
	player        Player
	clock         timing.Clock
	token         AccessTokenSource

	onDiagnostic   func(VoiceDiagnosticEvent)
	onStatusChange func(VoiceStatus)
	onResponse     func(text string, receiptID string)
	onInterim      func(transcript string)
	onActivity     func(event activity.StreamEvent)

	mu               sync.Mutex
	session          sessionState
	isActive         bool
	turn             int
	contexts         *contextSet
	lastBlockedAudio []byte
	baseCtx          context.Context

	keepAliveTimer timing.Timer
	recoveryTimer  timing.Timer
	authCheckTimer timing.Timer
	authGraceTimer timing.Timer
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		agent:          "assistant",
		channelName:    "voice",
		clock:          timing.RealClock(),
		onDiagnostic:   func(VoiceDiagnosticEvent) {},
		onStatusChange: func(VoiceStatus) {},
		onResponse:     func(string, string) {},
		onInterim:      func(string) {},
		onActivity:     func(activity.StreamEvent) {},
		session:        sessionState{Status: StatusIdle},
		contexts:       newContextSet(),
		baseCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartSession acquires the microphone and both synthesis paths and moves
// the session to listening. A synthesis channel that fails to connect is not
// fatal; the fallback path covers it. A recognizer failure is.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	if o.isActive {
		o.mu.Unlock()
		return errors.New("voice session already active")
	}
	o.isActive = true
	o.turn++
	o.session = sessionState{Status: StatusIdle}
	o.contexts = newContextSet()
	o.lastBlockedAudio = nil
	o.baseCtx = ctx
	changed := o.setStatusLocked(StatusListening)
	o.mu.Unlock()
	o.notifyStatus(changed, StatusListening)

	if o.channel != nil {
		if err := o.channel.Connect(ctx, o.voice,
			texttospeech.WithAudioCallback(o.handleSynthesisAudio),
			texttospeech.WithContextDoneCallback(o.handleSynthesisDone),
			texttospeech.WithErrorCallback(o.handleSynthesisError),
		); err != nil {
			recordedErr := fmt.Errorf("failed to connect synthesis channel: %w", err)
			span := trace.SpanFromContext(ctx)
			span.RecordError(recordedErr)
			logger.WarnContext(ctx, "Synthesis channel unavailable, relying on fallback", "error", err)
		}
	}

	if o.recognizer != nil {
		err := o.recognizer.Start(ctx,
			speechtotext.WithInterimTranscriptionCallback(o.handleInterim),
			speechtotext.WithUtteranceCallback(func(text string) { go o.SendText(text) }),
			speechtotext.WithErrorCallback(func(err error) { o.reportFailure(-1, uuid.NewString(), "", err) }),
		)
		if err != nil {
			wrapped := fmt.Errorf("failed to start speech recognition: %w", err)
			o.emitDiagnostic(uuid.NewString(), "", wrapped)
			o.EndSession()
			return wrapped
		}
	}

	o.mu.Lock()
	o.scheduleKeepAliveLocked()
	o.scheduleAuthCheckLocked()
	o.mu.Unlock()
	return nil
}

// SendText runs one turn for the given utterance. If a previous turn is
// still processing it is barged in on: its playback stops and its synthesis
// context is closed before the new turn starts, so its audio is never heard.
func (o *Orchestrator) SendText(text string) {
	traceID := uuid.NewString()

	o.mu.Lock()
	if !o.isActive {
		o.mu.Unlock()
		return
	}

	bargedIn := o.session.Processing
	var superseded string
	if bargedIn {
		superseded = o.session.ActiveContextID
		o.session.ActiveContextID = ""
		if superseded != "" {
			o.contexts.discard(superseded)
		}
	}
	o.session.Processing = true
	o.session.Transcript = text
	o.turn++
	turn := o.turn
	ctx := o.baseCtx
	changed := o.setStatusLocked(StatusThinking)
	o.mu.Unlock()

	// Stop old before starting new: the superseded context's audio must
	// never reach playback.
	if bargedIn && o.player != nil {
		o.player.Stop()
	}
	if superseded != "" && o.channel != nil {
		_ = o.channel.CloseContext(superseded) // Ignored on purpose
	}
	o.notifyStatus(changed, StatusThinking)

	go o.runTurn(ctx, turn, traceID, text)
}

func (o *Orchestrator) runTurn(ctx context.Context, turn int, traceID string, text string) {
	ctx, span := tracer.Start(ctx, "voice.turn")
	defer span.End()

	req := decision.Request{
		Agent:   o.agent,
		Text:    text,
		VoiceID: o.voice.VoiceID,
		Channel: o.channelName,
	}
	meta := decision.Metadata{TraceID: traceID, CorrelationID: uuid.NewString()}

	var res decision.Response
	var err error
	switch {
	case o.streamDecider != nil:
		res, err = o.streamDecider.DecideStream(ctx, req, meta, o.forwardActivity)
	case o.decider != nil:
		res, err = o.decider.Decide(ctx, req, meta)
	default:
		err = errors.New("no decision transport configured")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.reportFailure(turn, traceID, meta.CorrelationID, err)
		return
	}

	o.mu.Lock()
	if !o.isActive || turn != o.turn {
		o.mu.Unlock()
		return
	}
	o.session.LastResponseText = res.Text
	o.session.LastReceiptID = res.ReceiptID
	changed := o.setStatusLocked(StatusSpeaking)
	o.mu.Unlock()
	o.notifyStatus(changed, StatusSpeaking)

	// The text answer surfaces regardless of what the voice leg does next.
	o.onResponse(res.Text, res.ReceiptID)

	switch {
	case o.channel != nil && o.channel.IsConnected():
		o.speakOverChannel(turn, traceID, res.Text)
	case o.fallback != nil:
		o.speakOverFallback(ctx, turn, traceID, res.Text)
	default:
		o.finishTurn(turn)
	}
}

// speakOverChannel streams the response through the multiplexed channel.
// Playback happens later, when the channel reports the context done.
func (o *Orchestrator) speakOverChannel(turn int, traceID string, text string) {
	contextID := o.channel.NextContextID()

	o.mu.Lock()
	if !o.isActive || turn != o.turn {
		o.mu.Unlock()
		return
	}
	o.session.ActiveContextID = contextID
	o.contexts.open(contextID, turn, traceID)
	o.mu.Unlock()

	err := o.channel.Speak(text, contextID)
	if err == nil {
		err = o.channel.Flush(contextID)
	}
	if err == nil {
		err = o.channel.CloseContext(contextID)
	}
	if err != nil {
		o.mu.Lock()
		o.contexts.discard(contextID)
		if o.session.ActiveContextID == contextID {
			o.session.ActiveContextID = ""
		}
		o.mu.Unlock()
		o.reportFailure(turn, traceID, "", fmt.Errorf("speech synthesis failed: %w", err))
	}
}

// speakOverFallback drains the one-shot HTTP synthesis stream into a single
// buffer. An empty stream means synthesis is unavailable: the turn finishes
// quietly with the text answer already delivered.
func (o *Orchestrator) speakOverFallback(ctx context.Context, turn int, traceID string, text string) {
	audioData, err := o.fallback.Synthesize(ctx, text, o.voice)
	if errors.Is(err, texttospeech.ErrNoAudio) {
		logger.WarnContext(ctx, "Fallback synthesis returned no audio, skipping playback")
		o.finishTurn(turn)
		return
	}
	if err != nil {
		o.reportFailure(turn, traceID, "", fmt.Errorf("speech synthesis failed: %w", err))
		return
	}
	o.playAudio(turn, traceID, audioData)
}

// playAudio renders one assembled buffer. An autoplay block retains the
// audio for ReplayLastAudio instead of failing the turn.
func (o *Orchestrator) playAudio(turn int, traceID string, audioData []byte) {
	if o.player == nil || len(audioData) == 0 {
		o.finishTurn(turn)
		return
	}

	err := o.player.Play(o.baseCtx, audioData)
	if errors.Is(err, audio.ErrPlaybackBlocked) {
		o.mu.Lock()
		o.lastBlockedAudio = audioData
		o.mu.Unlock()
		o.onDiagnostic(VoiceDiagnosticEvent{
			TraceID:     traceID,
			Agent:       o.agent,
			Stage:       StageAutoplay,
			Code:        codeAutoplayBlocked,
			Message:     err.Error(),
			Raw:         err,
			Timestamp:   o.clock.Now(),
			Recoverable: true,
		})
		o.finishTurn(turn)
		return
	}
	if err != nil {
		o.reportFailure(turn, traceID, "", fmt.Errorf("audio playback failed: %w", err))
		return
	}
	o.finishTurn(turn)
}

// ReplayLastAudio retries playback of audio retained after an autoplay
// block. It is meant to be called from a user-initiated action.
func (o *Orchestrator) ReplayLastAudio() error {
	o.mu.Lock()
	audioData := o.lastBlockedAudio
	o.mu.Unlock()

	if audioData == nil {
		return errors.New("no retained audio to replay")
	}
	if o.player == nil {
		return errors.New("no player configured")
	}

	if err := o.player.Play(o.baseCtx, audioData); err != nil {
		o.onDiagnostic(VoiceDiagnosticEvent{
			TraceID:     uuid.NewString(),
			Agent:       o.agent,
			Stage:       StageAutoplay,
			Code:        codeAutoplayReplayError,
			Message:     err.Error(),
			Raw:         err,
			Timestamp:   o.clock.Now(),
			Recoverable: true,
		})
		return fmt.Errorf("replay failed: %w", err)
	}

	o.mu.Lock()
	o.lastBlockedAudio = nil
	o.mu.Unlock()
	return nil
}

// handleSynthesisAudio buffers a channel audio chunk onto its context.
// Chunks for superseded contexts are dropped here.
func (o *Orchestrator) handleSynthesisAudio(contextID string, chunk []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isActive {
		return
	}
	o.contexts.appendAudio(contextID, chunk)
}

// handleSynthesisDone assembles a finished context and plays it, unless the
// context has been superseded in the meantime.
func (o *Orchestrator) handleSynthesisDone(contextID string) {
	o.mu.Lock()
	entry, ok := o.contexts.take(contextID)
	if !ok || !o.isActive || o.session.ActiveContextID != contextID {
		o.mu.Unlock()
		return
	}
	o.session.ActiveContextID = ""
	turn := entry.turn
	traceID := entry.traceID
	o.mu.Unlock()

	o.playAudio(turn, traceID, entry.assemble())
}

// forwardActivity relays narration from streamed decision turns while the
// session is alive.
func (o *Orchestrator) forwardActivity(event activity.StreamEvent) {
	if o.IsActive() {
		o.onActivity(event)
	}
}

func (o *Orchestrator) handleSynthesisError(err error) {
	o.reportFailure(-1, uuid.NewString(), "", fmt.Errorf("speech synthesis failed: %w", err))
}

func (o *Orchestrator) handleInterim(transcript string) {
	o.mu.Lock()
	if !o.isActive {
		o.mu.Unlock()
		return
	}
	o.session.Transcript = transcript
	o.mu.Unlock()
	o.onInterim(transcript)
}

// finishTurn releases the processing flag and, if the session is still
// active and current, returns to listening.
func (o *Orchestrator) finishTurn(turn int) {
	o.mu.Lock()
	if !o.isActive || turn != o.turn {
		o.mu.Unlock()
		return
	}
	o.session.Processing = false
	changed := o.setStatusLocked(StatusListening)
	o.mu.Unlock()
	o.notifyStatus(changed, StatusListening)
}

// reportFailure classifies a failure, emits one diagnostic event, and
// degrades the session to error with a timed recovery back to listening.
// turn < 0 marks failures not scoped to a turn (adapter callbacks).
func (o *Orchestrator) reportFailure(turn int, traceID string, correlationID string, err error) {
	o.mu.Lock()
	if !o.isActive || (turn >= 0 && turn != o.turn) {
		o.mu.Unlock()
		return
	}
	o.session.Processing = false
	o.session.ActiveContextID = ""
	changed := o.setStatusLocked(StatusError)
	if o.recoveryTimer != nil {
		o.recoveryTimer.Stop()
	}
	o.recoveryTimer = o.clock.AfterFunc(errorRecoveryDelay, o.recoverFromError)
	o.mu.Unlock()
	o.notifyStatus(changed, StatusError)

	o.emitDiagnostic(traceID, correlationID, err)
}

func (o *Orchestrator) recoverFromError() {
	o.mu.Lock()
	if !o.isActive || o.session.Status != StatusError {
		o.mu.Unlock()
		return
	}
	changed := o.setStatusLocked(StatusListening)
	o.mu.Unlock()
	o.notifyStatus(changed, StatusListening)
}

func (o *Orchestrator) emitDiagnostic(traceID string, correlationID string, err error) {
	stage, code, recoverable := classifyError(err)
	o.onDiagnostic(VoiceDiagnosticEvent{
		TraceID:       traceID,
		Agent:         o.agent,
		Stage:         stage,
		Code:          code,
		Message:       err.Error(),
		Raw:           err,
		Timestamp:     o.clock.Now(),
		CorrelationID: correlationID,
		Recoverable:   recoverable,
	})
}

// EndSession tears everything down: timers, the synthesis channel, the
// recognizer, in-progress playback, and any retained blocked audio. Safe to
// call repeatedly.
func (o *Orchestrator) EndSession() {
	o.mu.Lock()
	if !o.isActive {
		o.mu.Unlock()
		return
	}
	o.isActive = false
	o.turn++
	o.stopTimersLocked()
	o.contexts = newContextSet()
	o.lastBlockedAudio = nil
	o.session = sessionState{Status: StatusIdle}
	o.mu.Unlock()

	if o.player != nil {
		o.player.Stop()
	}
	if o.channel != nil {
		if err := o.channel.Close(); err != nil {
			logger.Warn("Failed to close synthesis channel", "error", err)
		}
	}
	if o.recognizer != nil {
		if err := o.recognizer.Stop(); err != nil {
			logger.Warn("Failed to stop speech recognition", "error", err)
		}
	}

	o.onStatusChange(StatusIdle)
}

// Keep-alive pings ride the clock so long pauses do not idle out the
// upstream synthesis link. Pings only go to an actually-active context.
func (o *Orchestrator) scheduleKeepAliveLocked() {
	if !o.isActive {
		return
	}
	o.keepAliveTimer = o.clock.AfterFunc(keepAliveInterval, o.keepAliveTick)
}

func (o *Orchestrator) keepAliveTick() {
	o.mu.Lock()
	if !o.isActive {
		o.mu.Unlock()
		return
	}
	contextID := o.session.ActiveContextID
	o.scheduleKeepAliveLocked()
	o.mu.Unlock()

	if contextID != "" && o.channel != nil && o.channel.IsConnected() {
		_ = o.channel.KeepAlive(contextID) // Ignored on purpose
	}
}

// The auth-loss guard polls the credential and force-ends the session after
// a grace window without one, tolerating transient token refreshes.
func (o *Orchestrator) scheduleAuthCheckLocked() {
	if o.token == nil || !o.isActive {
		return
	}
	o.authCheckTimer = o.clock.AfterFunc(authCheckInterval, o.authCheckTick)
}

func (o *Orchestrator) authCheckTick() {
	o.mu.Lock()
	if !o.isActive {
		o.mu.Unlock()
		return
	}

	if o.token() == "" {
		if o.authGraceTimer == nil {
			o.authGraceTimer = o.clock.AfterFunc(authLossGrace, o.authGraceExpired)
		}
	} else if o.authGraceTimer != nil {
		o.authGraceTimer.Stop()
		o.authGraceTimer = nil
	}

	o.scheduleAuthCheckLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) authGraceExpired() {
	o.mu.Lock()
	if !o.isActive || o.token() != "" {
		o.authGraceTimer = nil
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	logger.Warn("Access credential lost, ending voice session")
	o.EndSession()
}

func (o *Orchestrator) stopTimersLocked() {
	for _, timer := range []timing.Timer{o.keepAliveTimer, o.recoveryTimer, o.authCheckTimer, o.authGraceTimer} {
		if timer != nil {
			timer.Stop()
		}
	}
	o.keepAliveTimer = nil
	o.recoveryTimer = nil
	o.authCheckTimer = nil
	o.authGraceTimer = nil
}

// setStatusLocked mutates the status and reports whether it changed; the
// caller fires the status callback after releasing the lock.
func (o *Orchestrator) setStatusLocked(status VoiceStatus) bool {
	if o.session.Status == status {
		return false
	}
	o.session.Status = status
	return true
}

func (o *Orchestrator) notifyStatus(changed bool, status VoiceStatus) {
	if changed {
		o.onStatusChange(status)
	}
}
