package voice

import (
	"strings"
	"time"
)

// DiagnosticStage names the pipeline stage a failure is attributed to.
type DiagnosticStage string

const (
	StageMic          DiagnosticStage = "mic"
	StageSTT          DiagnosticStage = "stt"
	StageOrchestrator DiagnosticStage = "orchestrator"
	StageTTS          DiagnosticStage = "tts"
	StageAutoplay     DiagnosticStage = "autoplay"
)

const (
	codeMicError            = "MIC_ERROR"
	codeSTTError            = "STT_ERROR"
	codeTTSError            = "TTS_ERROR"
	codeAutoplayBlocked     = "AUTOPLAY_BLOCKED"
	codeAutoplayReplayError = "AUTOPLAY_REPLAY_FAILED"
	codeTimeout             = "TIMEOUT"
	codeOrchestratorError   = "ORCHESTRATOR_ERROR"
)

// VoiceDiagnosticEvent is emitted once per failure and never persisted here;
// retention is the receiver's concern.
type VoiceDiagnosticEvent struct {
	TraceID       string
	Agent         string
	Stage         DiagnosticStage
	Code          string
	Message       string
	Raw           error
	Timestamp     time.Time
	CorrelationID string
	Recoverable   bool
}

// classifyError attributes a failure to a pipeline stage by keyword-matching
// the error text. Adapters do not expose structured codes, so the message is
// the only signal available; mic failures are the one non-recoverable class.
func classifyError(err error) (stage DiagnosticStage, code string, recoverable bool) {
	message := strings.ToLower(err.Error())

	switch {
	case containsAny(message, "microphone", "mic ", "permission", "capture device"):
		return StageMic, codeMicError, false
	case containsAny(message, "notallowed", "autoplay", "playback blocked"):
		return StageAutoplay, codeAutoplayBlocked, true
	case containsAny(message, "transcri", "speech-to-text", "recognition", "deepgram", "assemblyai"):
		return StageSTT, codeSTTError, true
	case containsAny(message, "synthes", "text-to-speech", "relay", "voice unavailable"):
		return StageTTS, codeTTSError, true
	case containsAny(message, "timeout", "timed out", "deadline exceeded"):
		return StageOrchestrator, codeTimeout, true
	default:
		return StageOrchestrator, codeOrchestratorError, true
	}
}

func containsAny(message string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}
