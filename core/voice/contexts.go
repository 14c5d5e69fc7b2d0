package voice

// synthesisContext accumulates the audio for one utterance-in-progress on
// the multiplexed channel. Chunks are appended in arrival order; playback
// only ever sees the assembled buffer after the context is done.
type synthesisContext struct {
	id      string
	turn    int
	traceID string
	chunks  [][]byte
	done    bool
}

func (c *synthesisContext) assemble() []byte {
	size := 0
	for _, chunk := range c.chunks {
		size += len(chunk)
	}
	assembled := make([]byte, 0, size)
	for _, chunk := range c.chunks {
		assembled = append(assembled, chunk...)
	}
	return assembled
}

// contextSet tracks open synthesis contexts. It carries no lock of its own;
// the orchestrator's mutex guards it.
type contextSet struct {
	entries map[string]*synthesisContext
}

func newContextSet() *contextSet {
	return &contextSet{entries: map[string]*synthesisContext{}}
}

func (s *contextSet) open(id string, turn int, traceID string) {
	s.entries[id] = &synthesisContext{id: id, turn: turn, traceID: traceID}
}

// appendAudio adds a chunk to an open context. Chunks for unknown or already
// finished contexts are dropped.
func (s *contextSet) appendAudio(id string, chunk []byte) bool {
	entry, ok := s.entries[id]
	if !ok || entry.done {
		return false
	}
	buffered := make([]byte, len(chunk))
	copy(buffered, chunk)
	entry.chunks = append(entry.chunks, buffered)
	return true
}

// take marks the context done and removes it, transferring ownership of the
// buffered audio to the caller.
func (s *contextSet) take(id string) (*synthesisContext, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	entry.done = true
	delete(s.entries, id)
	return entry, true
}

func (s *contextSet) discard(id string) {
	delete(s.entries, id)
}
