package output

import (
	"strings"
	"sync"
	"time"
)

// Batcher coalesces bursts of messages per chat: a message is held for at
// least minDelay after the last append, and flushed no later than maxDelay
// after the first. The buffer also flushes early past maxChars.
type Batcher struct {
	mu       sync.Mutex
	pending  map[string]*batch
	minDelay time.Duration
	maxDelay time.Duration
	maxChars int
	flush    func(chatID, text string)
}

type batch struct {
	parts   []string
	started time.Time
	timer   *time.Timer
}

// NewBatcher wires a batcher to a flush sink. Zero durations select the
// defaults (500 ms / 2 s / 6000 chars).
func NewBatcher(minDelay, maxDelay time.Duration, maxChars int, flush func(chatID, text string)) *Batcher {
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 6000
	}
	return &Batcher{
		pending:  make(map[string]*batch),
		minDelay: minDelay,
		maxDelay: maxDelay,
		maxChars: maxChars,
		flush:    flush,
	}
}

// Add queues one rendered message for a chat.
func (b *Batcher) Add(chatID, text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	cur, ok := b.pending[chatID]
	if !ok {
		cur = &batch{started: time.Now()}
		b.pending[chatID] = cur
	}
	cur.parts = append(cur.parts, text)

	size := 0
	for _, p := range cur.parts {
		size += len(p)
	}
	if size >= b.maxChars {
		b.flushLocked(chatID)
		b.mu.Unlock()
		return
	}

	delay := b.minDelay
	if remaining := b.maxDelay - time.Since(cur.started); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		b.flushLocked(chatID)
		b.mu.Unlock()
		return
	}
	if cur.timer != nil {
		cur.timer.Stop()
	}
	cur.timer = time.AfterFunc(delay, func() { b.Flush(chatID) })
	b.mu.Unlock()
}

// Flush forces immediate delivery for a chat.
func (b *Batcher) Flush(chatID string) {
	b.mu.Lock()
	b.flushLocked(chatID)
	b.mu.Unlock()
}

// FlushAll forces delivery everywhere, e.g. on shutdown.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	chats := make([]string, 0, len(b.pending))
	for id := range b.pending {
		chats = append(chats, id)
	}
	for _, id := range chats {
		b.flushLocked(id)
	}
	b.mu.Unlock()
}

// flushLocked pops the batch and invokes the sink outside the lock.
func (b *Batcher) flushLocked(chatID string) {
	cur, ok := b.pending[chatID]
	if !ok {
		return
	}
	delete(b.pending, chatID)
	if cur.timer != nil {
		cur.timer.Stop()
	}
	text := strings.Join(cur.parts, "\n\n")
	go b.flush(chatID, text)
}
