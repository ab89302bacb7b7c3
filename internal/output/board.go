package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

// boardKey is the single board kind this daemon maintains per chat.
const boardKey = "background-jobs"

// BoardManager renders the running-jobs status board per chat, persisting
// message ids across daemon restarts so boards survive in place.
type BoardManager struct {
	mu    sync.Mutex
	path  string
	state map[string]channel.BoardState // chatID → board state
	last  map[string]string             // chatID → last rendered html
}

// NewBoardManager loads persisted board state from path ("" disables
// persistence).
func NewBoardManager(path string) *BoardManager {
	bm := &BoardManager{
		path:  path,
		state: make(map[string]channel.BoardState),
		last:  make(map[string]string),
	}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = json.Unmarshal(data, &bm.state)
		}
	}
	return bm
}

// Refresh re-renders the board for a chat from the session's job table.
// Empty job lists clear the board. Unchanged content is a no-op without a
// network call.
func (bm *BoardManager) Refresh(ctx context.Context, ch channel.Channel, chatID string, jobs []session.BackgroundJob) error {
	running := jobs[:0:0]
	for _, j := range jobs {
		if j.Status == "running" {
			running = append(running, j)
		}
	}

	bm.mu.Lock()
	prev := bm.state[chatID]
	lastHTML := bm.last[chatID]
	bm.mu.Unlock()

	if len(running) == 0 {
		if prev.MessageID == "" {
			return nil
		}
		err := ch.ClearStatusBoard(ctx, chatID, boardKey, channel.ClearOptions{
			Unpin:     true,
			MessageID: prev.MessageID,
			Pinned:    prev.Pinned,
		})
		bm.mu.Lock()
		delete(bm.state, chatID)
		delete(bm.last, chatID)
		bm.mu.Unlock()
		bm.persist()
		return err
	}

	html := renderBoard(ch.Formatter(), running)
	if html == lastHTML {
		return nil
	}

	state, err := ch.UpsertStatusBoard(ctx, chatID, boardKey, html, channel.BoardOptions{
		Pin:       prev.MessageID == "", // pin only on first creation
		MessageID: prev.MessageID,
		Pinned:    prev.Pinned,
	})
	if err != nil {
		return fmt.Errorf("refresh status board: %w", err)
	}
	bm.mu.Lock()
	bm.state[chatID] = state
	bm.last[chatID] = html
	bm.mu.Unlock()
	bm.persist()
	return nil
}

func renderBoard(f channel.Formatter, jobs []session.BackgroundJob) string {
	var b strings.Builder
	b.WriteString(f.Bold("Background jobs"))
	for _, j := range jobs {
		b.WriteString("\n▶️ ")
		b.WriteString(f.Code(j.TaskID))
		if j.Command != "" {
			b.WriteByte(' ')
			b.WriteString(f.Escape(firstLines(j.Command, 1)))
		}
		for _, u := range j.URLs {
			b.WriteByte('\n')
			b.WriteString(f.Link(u, u))
		}
	}
	return b.String()
}

func (bm *BoardManager) persist() {
	if bm.path == "" {
		return
	}
	bm.mu.Lock()
	data, err := json.MarshalIndent(bm.state, "", "  ")
	bm.mu.Unlock()
	if err != nil {
		return
	}
	tmp := bm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, bm.path)
}
