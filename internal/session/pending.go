package session

import (
	"sync"
	"time"
)

// Pending-flow kinds. Each open poll or picker in a chat is one PendingFlow
// keyed by the ephemeral pollId returned by the channel adapter.
const (
	FlowFilePicker    = "file-picker"
	FlowResumePicker  = "resume-picker"
	FlowOutputMode    = "output-mode"
	FlowThinking      = "thinking"
	FlowSessionPicker = "session-picker"
	FlowQuestionSet   = "question-set"
	FlowApproval      = "approval"
	FlowRecent        = "recent-messages"
)

// PickerOption is one selectable entry of a pending flow.
type PickerOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// QuestionItem is one tool-originated question awaiting an answer.
type QuestionItem struct {
	Header      string   `json:"header,omitempty"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multiSelect"`
}

// PendingFlow is a poll, picker, or question set awaiting a chat answer.
type PendingFlow struct {
	Kind      string
	SessionID string
	ChatID    string
	UserID    string
	MessageID string

	Options []PickerOption
	// Paged pickers
	Page     int
	PageSize int
	All      []PickerOption
	Selected map[string]bool
	// Question sets
	Questions []QuestionItem
	QIndex    int
	Answers   []string
	// Approval polls mirror the terminal option order so index sentinels line up.
	OptionCount int
	MultiSelect bool

	CreatedAt time.Time
}

// FlowStore tracks pending interactive flows by poll id. It is separate from
// the Manager lock because adapters call into it from their poll-answer
// callbacks.
type FlowStore struct {
	mu    sync.Mutex
	flows map[string]*PendingFlow
}

// NewFlowStore returns an empty flow registry.
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]*PendingFlow)}
}

// Put registers a pending flow under its poll id.
func (fs *FlowStore) Put(pollID string, f *PendingFlow) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	fs.mu.Lock()
	fs.flows[pollID] = f
	fs.mu.Unlock()
}

// Get returns the flow for a poll id without removing it.
func (fs *FlowStore) Get(pollID string) (*PendingFlow, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.flows[pollID]
	return f, ok
}

// Take removes and returns the flow for a poll id.
func (fs *FlowStore) Take(pollID string) (*PendingFlow, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.flows[pollID]
	if ok {
		delete(fs.flows, pollID)
	}
	return f, ok
}

// OpenApproval returns the open approval poll for a session, if one exists.
// Free-form text arriving while an approval poll is open becomes the poll's
// "Other" answer.
func (fs *FlowStore) OpenApproval(sessionID string) (string, *PendingFlow, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, f := range fs.flows {
		if f.Kind == FlowApproval && f.SessionID == sessionID {
			return id, f, true
		}
	}
	return "", nil, false
}

// DropSession removes every flow belonging to a session.
func (fs *FlowStore) DropSession(sessionID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, f := range fs.flows {
		if f.SessionID == sessionID {
			delete(fs.flows, id)
		}
	}
}

// DropChat removes every flow open in a chat.
func (fs *FlowStore) DropChat(chatID string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, f := range fs.flows {
		if f.ChatID == chatID {
			delete(fs.flows, id)
		}
	}
}

// Expire removes flows older than maxAge and returns their ids.
func (fs *FlowStore) Expire(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	for id, f := range fs.flows {
		if f.CreatedAt.Before(cutoff) {
			delete(fs.flows, id)
			out = append(out, id)
		}
	}
	return out
}
