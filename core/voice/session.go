package voice

import "github.com/jinzhu/copier"

// VoiceStatus is the session's position in the listen/decide/speak loop.
type VoiceStatus string

const (
	StatusIdle      VoiceStatus = "idle"
	StatusListening VoiceStatus = "listening"
	StatusThinking  VoiceStatus = "thinking"
	StatusSpeaking  VoiceStatus = "speaking"
	StatusError     VoiceStatus = "error"
)

// sessionState is the orchestrator-owned mutable session record. All access
// goes through the orchestrator's mutex.
type sessionState struct {
	Status           VoiceStatus
	ActiveContextID  string
	Processing       bool
	Transcript       string
	LastResponseText string
	LastReceiptID    string
}

// VoiceSession is a point-in-time snapshot of the session, safe to hold
// across further orchestrator activity.
type VoiceSession struct {
	Status           VoiceStatus
	ActiveContextID  string
	Processing       bool
	Transcript       string
	LastResponseText string
	LastReceiptID    string
	HasBlockedAudio  bool
}

// Session returns a snapshot of the current session state.
func (o *Orchestrator) Session() VoiceSession {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := VoiceSession{Status: StatusIdle}
	_ = copier.Copy(&snapshot, &o.session)
	snapshot.HasBlockedAudio = o.lastBlockedAudio != nil
	return snapshot
}

// IsActive reports whether a session is running. It is independent of
// status: late asynchronous callbacks become no-ops once this is false.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isActive
}
