package wrapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

const (
	locateWindow   = 30 * time.Second
	locateInterval = 500 * time.Millisecond
	tailFallback   = 2 * time.Second
)

// LocateTranscript finds the jsonl file for this run. With a resume ref the
// existing file is pre-selected; otherwise we wait for the tool to create a
// new one not present in the pre-spawn snapshot.
func LocateTranscript(ctx context.Context, toolName, cwd, userHome, resumeRef string, snapshot map[string]bool) (string, error) {
	if resumeRef != "" {
		if path, ok := transcript.FindByRef(toolName, cwd, userHome, resumeRef); ok {
			return path, nil
		}
	}
	deadline := time.Now().Add(locateWindow)
	for {
		if path, ok := transcript.FindNew(toolName, cwd, userHome, snapshot); ok {
			return path, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no transcript appeared for %s within %s", toolName, locateWindow)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(locateInterval):
		}
	}
}

// Tailer incrementally reads a transcript, feeding each complete line to the
// parser and fanning events out to the sink. It follows Claude's rollover
// files when the session id moves.
type Tailer struct {
	toolName string
	cwd      string
	userHome string
	parser   *transcript.Parser
	sink     func(transcript.Event)
	log      *slog.Logger

	path    string
	offset  int64
	partial []byte

	// toolSessionID is the tool's own id for the conversation, learned from
	// parsed events; a different id appearing in a fresh file means rollover.
	toolSessionID string
}

// NewTailer starts tailing from the beginning of path.
func NewTailer(toolName, cwd, userHome, path string, sink func(transcript.Event), log *slog.Logger) *Tailer {
	if log == nil {
		log = slog.Default()
	}
	return &Tailer{
		toolName: toolName,
		cwd:      cwd,
		userHome: userHome,
		parser:   transcript.NewParser(),
		sink:     sink,
		log:      log,
		path:     path,
	}
}

// Path returns the file currently tailed.
func (t *Tailer) Path() string { return t.path }

// Run tails until ctx ends. Watcher events trigger reads; a fallback ticker
// covers editors and filesystems that drop events.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(t.path); err != nil {
		t.log.Debug("watch failed, falling back to polling", "path", t.path, "error", err)
	}

	ticker := time.NewTicker(tailFallback)
	defer ticker.Stop()

	t.readNew()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.readNew()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Debug("watcher error", "error", err)
		case <-ticker.C:
			t.readNew()
			if next, ok := t.rolloverTarget(); ok {
				t.log.Info("transcript rolled over", "from", t.path, "to", next)
				_ = watcher.Remove(t.path)
				t.path = next
				t.offset = 0
				t.partial = nil
				if err := watcher.Add(t.path); err != nil {
					t.log.Debug("watch failed on rollover", "error", err)
				}
				t.readNew()
			}
		}
	}
}

// readNew reads [offset, size) in one pass and parses complete lines.
// Truncation (size < offset) resets to the top of the file.
func (t *Tailer) readNew() {
	info, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}
	if info.Size() == t.offset {
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return
	}
	t.offset += int64(len(data))

	chunk := append(t.partial, data...)
	lines := strings.Split(string(chunk), "\n")
	t.partial = []byte(lines[len(lines)-1])
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := t.parser.ParseLine(line)
		if err != nil {
			continue
		}
		if ev.SessionID != "" {
			t.toolSessionID = ev.SessionID
		}
		if !ev.Empty() {
			t.sink(ev)
		}
	}
}

// rolloverTarget looks for a newer file whose head carries our session id.
// Claude starts a fresh jsonl mid-run when context is compacted.
func (t *Tailer) rolloverTarget() (string, bool) {
	if t.toolName != transcript.ToolClaude || t.toolSessionID == "" {
		return "", false
	}
	path, ok := transcript.FindByRef(t.toolName, t.cwd, t.userHome, t.toolSessionID)
	if !ok || path == t.path {
		return "", false
	}
	if transcript.HeadSessionID(path) != t.toolSessionID {
		return "", false
	}
	return path, true
}
