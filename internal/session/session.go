package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/address"
)

// ErrSessionNotFound is returned by operations targeting an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Control action kinds, in merge-precedence order (resume wins over kill,
// kill over stop).
const (
	ControlStop   = "stop"
	ControlKill   = "kill"
	ControlResume = "resume"
)

// Input-queue sentinels the wrapper translates into keypresses. Anything
// else in the queue is plain text written as a bracketed paste.
const (
	PollPrefix     = "POLL:"
	PollNextPrefix = "POLL_NEXT:"
	PollSubmit     = "POLL_SUBMIT"
	PollOther      = "POLL_OTHER"
)

// ControlAction is the single pending stop/kill/resume signal for a wrapper.
type ControlAction struct {
	Kind       string `json:"kind"`
	SessionRef string `json:"sessionRef,omitempty"`
}

func controlRank(kind string) int {
	switch kind {
	case ControlResume:
		return 3
	case ControlKill:
		return 2
	case ControlStop:
		return 1
	}
	return 0
}

// RemoteSession is the daemon-side record of one running wrapper.
type RemoteSession struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Cwd         string    `json:"cwd"`
	ChatID      string    `json:"chatId"`
	OwnerUserID string    `json:"ownerUserId"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`

	inputQueue    []string
	controlAction *ControlAction
	groups        map[string]bool
	jobs          map[string]*BackgroundJob
	jobOrder      []string
}

// snapshot returns a copy safe to hand out without the manager lock.
func (s *RemoteSession) snapshot() RemoteSession {
	return RemoteSession{
		ID:          s.ID,
		Command:     s.Command,
		Cwd:         s.Cwd,
		ChatID:      s.ChatID,
		OwnerUserID: s.OwnerUserID,
		CreatedAt:   s.CreatedAt,
		LastSeenAt:  s.LastSeenAt,
	}
}

// ReapedSession pairs a reaped session with the chat it was bound to, so the
// caller can notify the chat after the lock is released.
type ReapedSession struct {
	Session     RemoteSession
	BoundChatID string
}

// Manager holds all in-memory session state. Every operation is a short
// critical section under one lock; callers never hold it across I/O.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*RemoteSession
	attachments map[string]string // chatId → sessionId
	mentions    map[string][]string
	waiters     map[string][]chan struct{}
	log         *slog.Logger
}

// NewManager returns an empty session registry.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*RemoteSession),
		attachments: make(map[string]string),
		mentions:    make(map[string][]string),
		waiters:     make(map[string][]chan struct{}),
		log:         log,
	}
}

// NewSessionID mints a fresh remote session id.
func NewSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("r-%016x", time.Now().UnixNano())
	}
	return "r-" + hex.EncodeToString(b)
}

// RegisterRemote creates a session record, or returns the existing one
// unchanged when existingID is already registered. Crash recovery depends on
// the idempotence: a wrapper re-registering after a daemon restart gets an
// identical record.
func (m *Manager) RegisterRemote(command, chatID, ownerUserID, cwd, existingID string) RemoteSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID != "" {
		if s, ok := m.sessions[existingID]; ok {
			return s.snapshot()
		}
	}

	id := existingID
	if id == "" {
		id = NewSessionID()
	}
	now := time.Now()
	s := &RemoteSession{
		ID:          id,
		Command:     command,
		Cwd:         cwd,
		ChatID:      chatID,
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		LastSeenAt:  now,
		groups:      make(map[string]bool),
		jobs:        make(map[string]*BackgroundJob),
	}
	m.sessions[id] = s
	m.log.Info("session registered", "id", id, "cwd", cwd, "owner", ownerUserID)
	return s.snapshot()
}

// Get returns a snapshot of the session, if present.
func (m *Manager) Get(id string) (RemoteSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return RemoteSession{}, false
	}
	return s.snapshot(), true
}

// List returns snapshots of all sessions, unordered.
func (m *Manager) List() []RemoteSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RemoteSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// Attach binds a chat to a session. The chat is detached from any prior
// session and removed from every other session's group subscriptions, so a
// chat never receives output from two sessions at once.
func (m *Manager) Attach(chatID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	for id, s := range m.sessions {
		if id != sessionID {
			delete(s.groups, chatID)
		}
	}
	m.attachments[chatID] = sessionID
	return true
}

// Detach removes the chat's attachment and group-subscription membership.
func (m *Manager) Detach(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, attached := m.attachments[chatID]
	delete(m.attachments, chatID)
	for _, s := range m.sessions {
		if s.groups[chatID] {
			delete(s.groups, chatID)
			attached = true
		}
	}
	return attached
}

// AttachedSession returns the session a chat is attached to, if any.
func (m *Manager) AttachedSession(chatID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.attachments[chatID]
	return id, ok
}

// BoundChat resolves the primary output target for a session. When both the
// owner DM and a group/topic chat are attached, the group wins.
func (m *Manager) BoundChat(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dm, other string
	for chatID, sid := range m.attachments {
		if sid != sessionID {
			continue
		}
		if address.IsGroupChat(chatID) {
			other = chatID
		} else if dm == "" {
			dm = chatID
		}
	}
	if other != "" {
		return other, true
	}
	if dm != "" {
		return dm, true
	}
	return "", false
}

// OwnedSessions returns ids of sessions owned by a user, unordered.
func (m *Manager) OwnedSessions(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, s := range m.sessions {
		if s.OwnerUserID == userID {
			out = append(out, id)
		}
	}
	return out
}

// CanUserAccessSession reports whether a user may drive a session. Only the
// owner may.
func (m *Manager) CanUserAccessSession(userID, sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return ok && s.OwnerUserID == userID
}

// QueueInput appends one line to the session's input queue and wakes any
// blocked long-poll.
func (m *Manager) QueueInput(sessionID string, lines ...string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("queue input for %s: %w", sessionID, ErrSessionNotFound)
	}
	s.inputQueue = append(s.inputQueue, lines...)
	m.mu.Unlock()

	m.wake(sessionID)
	return nil
}

// RequestStop merges a stop action into the session's control slot.
func (m *Manager) RequestStop(sessionID string) bool {
	return m.mergeControl(sessionID, ControlAction{Kind: ControlStop})
}

// RequestKill merges a kill action into the session's control slot.
func (m *Manager) RequestKill(sessionID string) bool {
	return m.mergeControl(sessionID, ControlAction{Kind: ControlKill})
}

// RequestResume merges a resume action. A newer resume replaces an older one.
func (m *Manager) RequestResume(sessionID, sessionRef string) bool {
	return m.mergeControl(sessionID, ControlAction{Kind: ControlResume, SessionRef: sessionRef})
}

func (m *Manager) mergeControl(sessionID string, action ControlAction) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	cur := s.controlAction
	switch {
	case cur == nil:
		s.controlAction = &action
	case action.Kind == ControlResume && cur.Kind == ControlResume:
		// latest resume ref wins
		s.controlAction = &action
	case controlRank(action.Kind) > controlRank(cur.Kind):
		s.controlAction = &action
	}
	m.mu.Unlock()

	m.wake(sessionID)
	return true
}

// DrainInput atomically removes and returns all queued input lines. A second
// immediate call returns nothing.
func (m *Manager) DrainInput(sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("drain input for %s: %w", sessionID, ErrSessionNotFound)
	}
	s.LastSeenAt = time.Now()
	out := s.inputQueue
	s.inputQueue = nil
	return out, nil
}

// DrainControl atomically takes the pending control action, if any.
func (m *Manager) DrainControl(sessionID string) (*ControlAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("drain control for %s: %w", sessionID, ErrSessionNotFound)
	}
	s.LastSeenAt = time.Now()
	a := s.controlAction
	s.controlAction = nil
	return a, nil
}

// WaitForWork blocks until the session has queued input or a control action,
// the timeout elapses, or the session disappears. It returns immediately when
// work is already pending. Used by the long-poll input endpoint.
func (m *Manager) WaitForWork(sessionID string, timeout time.Duration) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if len(s.inputQueue) > 0 || s.controlAction != nil {
		m.mu.Unlock()
		return true
	}
	ch := make(chan struct{}, 1)
	m.waiters[sessionID] = append(m.waiters[sessionID], ch)
	m.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		m.dropWaiter(sessionID, ch)
		return false
	}
}

func (m *Manager) wake(sessionID string) {
	m.mu.Lock()
	chans := m.waiters[sessionID]
	delete(m.waiters, sessionID)
	m.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) dropWaiter(sessionID string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chans := m.waiters[sessionID]
	for i, c := range chans {
		if c == ch {
			m.waiters[sessionID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}

// SubscribeGroup adds a group/topic chat to the session's fan-out set.
func (m *Manager) SubscribeGroup(sessionID, chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	s.groups[chatID] = true
	return true
}

// UnsubscribeGroup removes a group chat from the session's fan-out set.
func (m *Manager) UnsubscribeGroup(sessionID, chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	delete(s.groups, chatID)
	return true
}

// SubscribedGroups returns the session's group fan-out set as a slice.
func (m *Manager) SubscribedGroups(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

// Targets returns the full outbound target set for a session: the bound chat
// plus subscribed groups, deduplicated. Empty when nothing is attached.
func (m *Manager) Targets(sessionID string) []string {
	bound, _ := m.BoundChat(sessionID)

	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	if bound != "" {
		seen[bound] = true
		out = append(out, bound)
	}
	for g := range s.groups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

func mentionKey(sessionID, chatID, userID string) string {
	return sessionID + "\x00" + chatID + "\x00" + userID
}

// SetPendingFileMentions stores file mentions to be prefixed onto the next
// plain-text input from that user in that chat.
func (m *Manager) SetPendingFileMentions(sessionID, chatID, userID string, mentions []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(mentions) == 0 {
		delete(m.mentions, mentionKey(sessionID, chatID, userID))
		return
	}
	m.mentions[mentionKey(sessionID, chatID, userID)] = append([]string(nil), mentions...)
}

// ConsumePendingFileMentions takes and clears stored mentions for the triple.
func (m *Manager) ConsumePendingFileMentions(sessionID, chatID, userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := mentionKey(sessionID, chatID, userID)
	out := m.mentions[k]
	delete(m.mentions, k)
	return out
}

// EndRemote removes a session and detaches any chats bound to it. Returns the
// previously bound chat so the caller can announce the exit.
func (m *Manager) EndRemote(sessionID string) (string, bool) {
	bound, _ := m.BoundChat(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return "", false
	}
	m.removeLocked(sessionID)
	return bound, true
}

// ReapStale removes sessions whose wrapper has not polled within maxAge and
// returns them with their bound chats for notification.
func (m *Manager) ReapStale(maxAge time.Duration) []ReapedSession {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastSeenAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	var out []ReapedSession
	for _, id := range stale {
		bound, _ := m.BoundChat(id)
		m.mu.Lock()
		s, ok := m.sessions[id]
		if ok {
			out = append(out, ReapedSession{Session: s.snapshot(), BoundChatID: bound})
			m.removeLocked(id)
		}
		m.mu.Unlock()
	}
	if len(out) > 0 {
		m.log.Info("reaped stale sessions", "count", len(out))
	}
	return out
}

// removeLocked deletes a session and all state keyed to it. Caller holds mu.
func (m *Manager) removeLocked(sessionID string) {
	delete(m.sessions, sessionID)
	for chatID, sid := range m.attachments {
		if sid == sessionID {
			delete(m.attachments, chatID)
		}
	}
	for k := range m.mentions {
		if strings.HasPrefix(k, sessionID+"\x00") {
			delete(m.mentions, k)
		}
	}
	for _, ch := range m.waiters[sessionID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	delete(m.waiters, sessionID)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
