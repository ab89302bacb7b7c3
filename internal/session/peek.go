package session

import "sync"

const peekCapacity = 100

// PeekEntry is one recent outbound event kept for `tg peek`.
type PeekEntry struct {
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	At        int64  `json:"at"`
}

// PeekBuffer is a fixed-size ring of recent events per session.
type PeekBuffer struct {
	mu      sync.Mutex
	entries map[string][]PeekEntry
}

// NewPeekBuffer returns an empty peek ring.
func NewPeekBuffer() *PeekBuffer {
	return &PeekBuffer{entries: make(map[string][]PeekEntry)}
}

// Add records an event, evicting the oldest past capacity.
func (p *PeekBuffer) Add(e PeekEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := append(p.entries[e.SessionID], e)
	if len(buf) > peekCapacity {
		buf = buf[len(buf)-peekCapacity:]
	}
	p.entries[e.SessionID] = buf
}

// Recent returns up to n most recent entries for a session, oldest first.
func (p *PeekBuffer) Recent(sessionID string, n int) []PeekEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := p.entries[sessionID]
	if n > 0 && len(buf) > n {
		buf = buf[len(buf)-n:]
	}
	out := make([]PeekEntry, len(buf))
	copy(out, buf)
	return out
}

// All returns recent entries across every session.
func (p *PeekBuffer) All(n int) []PeekEntry {
	p.mu.Lock()
	sessions := make([]string, 0, len(p.entries))
	for id := range p.entries {
		sessions = append(sessions, id)
	}
	p.mu.Unlock()

	var out []PeekEntry
	for _, id := range sessions {
		out = append(out, p.Recent(id, n)...)
	}
	return out
}

// Drop clears a session's ring.
func (p *PeekBuffer) Drop(sessionID string) {
	p.mu.Lock()
	delete(p.entries, sessionID)
	p.mu.Unlock()
}
