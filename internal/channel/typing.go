package channel

import (
	"context"
	"sync"
	"time"
)

const (
	typingBeat = 4500 * time.Millisecond
	typingCap  = 2 * time.Minute
)

// TypingController re-asserts a platform typing indicator on a heartbeat
// until cleared or the hard cap elapses. Adapters embed one and supply the
// platform call as assert.
type TypingController struct {
	mu     sync.Mutex
	active map[string]context.CancelFunc
	assert func(ctx context.Context, chatID string) error
}

// NewTypingController wires the controller to the adapter's typing call.
func NewTypingController(assert func(ctx context.Context, chatID string) error) *TypingController {
	return &TypingController{
		active: make(map[string]context.CancelFunc),
		assert: assert,
	}
}

// Set starts or stops the typing heartbeat for a chat. Repeated true is a
// no-op while a heartbeat runs.
func (t *TypingController) Set(chatID string, active bool) {
	t.mu.Lock()
	cancel, running := t.active[chatID]
	if !active {
		if running {
			delete(t.active, chatID)
		}
		t.mu.Unlock()
		if running {
			cancel()
		}
		return
	}
	if running {
		t.mu.Unlock()
		return
	}
	ctx, cancelFn := context.WithTimeout(context.Background(), typingCap)
	t.active[chatID] = cancelFn
	t.mu.Unlock()

	go t.beat(ctx, chatID)
}

func (t *TypingController) beat(ctx context.Context, chatID string) {
	ticker := time.NewTicker(typingBeat)
	defer ticker.Stop()

	_ = t.assert(ctx, chatID)
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			if cancel, ok := t.active[chatID]; ok {
				delete(t.active, chatID)
				cancel()
			}
			t.mu.Unlock()
			return
		case <-ticker.C:
			_ = t.assert(ctx, chatID)
		}
	}
}

// StopAll cancels every running heartbeat.
func (t *TypingController) StopAll() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.active))
	for id, c := range t.active {
		cancels = append(cancels, c)
		delete(t.active, id)
	}
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
