package output

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

type plainFmt struct{}

func (plainFmt) Bold(s string) string           { return "*" + s + "*" }
func (plainFmt) Italic(s string) string         { return "_" + s + "_" }
func (plainFmt) Code(s string) string           { return "`" + s + "`" }
func (plainFmt) Pre(s string) string            { return "```" + s + "```" }
func (plainFmt) Link(text, url string) string   { return text + " <" + url + ">" }
func (plainFmt) Escape(s string) string         { return s }
func (plainFmt) FromMarkdown(s string) string   { return s }

// fakeChannel records board calls for the board-manager tests.
type fakeChannel struct {
	mu      sync.Mutex
	upserts int
	clears  int
	state   channel.BoardState
	pinErr  string
}

func (f *fakeChannel) Name() string                     { return "" }
func (f *fakeChannel) Type() string                     { return "telegram" }
func (f *fakeChannel) Formatter() channel.Formatter     { return plainFmt{} }
func (f *fakeChannel) Send(context.Context, string, string) error { return nil }
func (f *fakeChannel) SendOutput(context.Context, string, string) error { return nil }
func (f *fakeChannel) SendDocument(context.Context, string, string, string) error { return nil }
func (f *fakeChannel) SendPoll(context.Context, string, string, []channel.PollOption, bool) (channel.PollHandle, error) {
	return channel.PollHandle{PollID: "p", MessageID: "1"}, nil
}
func (f *fakeChannel) ClosePoll(context.Context, string, string) error { return nil }
func (f *fakeChannel) UpsertStatusBoard(_ context.Context, _, _, _ string, opts channel.BoardOptions) (channel.BoardState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.state.MessageID == "" {
		f.state = channel.BoardState{MessageID: "1234"}
		if opts.Pin {
			if f.pinErr != "" {
				f.state.PinError = f.pinErr
			} else {
				f.state.Pinned = true
			}
		}
	}
	return f.state, nil
}
func (f *fakeChannel) ClearStatusBoard(context.Context, string, string, channel.ClearOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.state = channel.BoardState{}
	return nil
}
func (f *fakeChannel) SetTyping(string, bool) {}
func (f *fakeChannel) SyncCommandMenu(context.Context, string, string, channel.MenuState) error {
	return nil
}
func (f *fakeChannel) VisibleChats(context.Context) ([]channel.VisibleChat, error) { return nil, nil }
func (f *fakeChannel) OnPollAnswer(func(channel.PollAnswer))                       {}
func (f *fakeChannel) OnDeadChat(func(string))                                     {}
func (f *fakeChannel) StartReceiving(context.Context, func(channel.InboundMessage)) error {
	return nil
}
func (f *fakeChannel) StopReceiving() {}

func TestTruncateLabelBoundary(t *testing.T) {
	exact := strings.Repeat("a", 100)
	if got := TruncateLabel(exact); got != exact {
		t.Errorf("exactly 100 chars must pass through")
	}
	over := strings.Repeat("a", 101)
	got := TruncateLabel(over)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("over-long label missing ellipsis: %q", got)
	}
	if strings.Count(got, "…") != 1 {
		t.Errorf("exactly one ellipsis expected: %q", got)
	}
}

func TestSimpleModeSuppressesBash(t *testing.T) {
	f := NewFormatter(plainFmt{}, false)
	tc := transcript.ToolCall{Name: "Bash", Input: json.RawMessage(`{"command":"ls"}`)}
	if got := f.ToolCall(tc); got != "" {
		t.Errorf("simple mode should suppress Bash calls: %q", got)
	}
	edit := transcript.ToolCall{Name: "Edit", Input: json.RawMessage(`{"file_path":"src/foo.ts"}`)}
	got := f.ToolCall(edit)
	if !strings.Contains(got, "✏️") || !strings.Contains(got, "src/foo.ts") {
		t.Errorf("compact edit = %q", got)
	}
}

func TestVerboseModeRendersBash(t *testing.T) {
	f := NewFormatter(plainFmt{}, true)
	tc := transcript.ToolCall{Name: "Bash", Input: json.RawMessage(`{"command":"make build\nmake test"}`)}
	got := f.ToolCall(tc)
	if !strings.Contains(got, "make build") {
		t.Errorf("verbose bash = %q", got)
	}

	edit := transcript.ToolCall{Name: "Edit", Input: json.RawMessage(`{"file_path":"a.go","old_string":"x := 1","new_string":"x := 2"}`)}
	got = f.ToolCall(edit)
	if !strings.Contains(got, "- x := 1") || !strings.Contains(got, "+ x := 2") {
		t.Errorf("verbose diff = %q", got)
	}
}

func TestSimpleModeResultFilter(t *testing.T) {
	f := NewFormatter(plainFmt{}, false)
	bash := transcript.ToolResult{Name: "Bash", Text: "out"}
	if got := f.ToolResult(bash); got != "" {
		t.Errorf("simple mode forwards Bash result: %q", got)
	}
	errRes := transcript.ToolResult{Name: "Bash", Text: "boom", IsError: true}
	if got := f.ToolResult(errRes); got == "" {
		t.Error("errors always forward")
	}
	search := transcript.ToolResult{Name: "WebSearch", Text: "found", URLs: []string{"https://x.dev"}}
	got := f.ToolResult(search)
	if !strings.Contains(got, "found") || !strings.Contains(got, "https://x.dev") {
		t.Errorf("web search result = %q", got)
	}
}

func TestBatcherCoalesces(t *testing.T) {
	var mu sync.Mutex
	var flushed []string
	b := NewBatcher(30*time.Millisecond, 200*time.Millisecond, 6000, func(chatID, text string) {
		mu.Lock()
		flushed = append(flushed, text)
		mu.Unlock()
	})
	b.Add("c", "one")
	b.Add("c", "two")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 {
		t.Fatalf("flushes = %d, want 1", len(flushed))
	}
	if flushed[0] != "one\n\ntwo" {
		t.Errorf("flushed = %q", flushed[0])
	}
}

func TestBatcherMaxDelay(t *testing.T) {
	var mu sync.Mutex
	count := 0
	b := NewBatcher(50*time.Millisecond, 120*time.Millisecond, 6000, func(string, string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	// keep appending faster than minDelay; maxDelay must still force a flush
	for i := 0; i < 8; i++ {
		b.Add("c", "x")
		time.Sleep(25 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Error("maxDelay never forced a flush")
	}
}

func TestBatcherSizeFlush(t *testing.T) {
	var mu sync.Mutex
	count := 0
	b := NewBatcher(time.Hour, time.Hour, 100, func(string, string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Add("c", strings.Repeat("a", 200))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("size cap did not flush: %d", count)
	}
}

func TestBoardNoopOnUnchanged(t *testing.T) {
	fc := &fakeChannel{}
	bm := NewBoardManager("")
	jobs := []session.BackgroundJob{{TaskID: "bash_1", Status: "running", Command: "npm run dev"}}

	ctx := context.Background()
	if err := bm.Refresh(ctx, fc, "telegram:1", jobs); err != nil {
		t.Fatal(err)
	}
	if err := bm.Refresh(ctx, fc, "telegram:1", jobs); err != nil {
		t.Fatal(err)
	}
	if fc.upserts != 1 {
		t.Errorf("unchanged board caused %d upserts, want 1", fc.upserts)
	}

	// all jobs done → clear
	done := []session.BackgroundJob{{TaskID: "bash_1", Status: "completed"}}
	if err := bm.Refresh(ctx, fc, "telegram:1", done); err != nil {
		t.Fatal(err)
	}
	if fc.clears != 1 {
		t.Errorf("clears = %d", fc.clears)
	}
	// clearing again is a no-op
	if err := bm.Refresh(ctx, fc, "telegram:1", nil); err != nil {
		t.Fatal(err)
	}
	if fc.clears != 1 {
		t.Errorf("second clear not a no-op: %d", fc.clears)
	}
}

func TestBoardPinErrorStillUsable(t *testing.T) {
	fc := &fakeChannel{pinErr: "Bad Request: not enough rights to pin a message"}
	bm := NewBoardManager("")
	jobs := []session.BackgroundJob{{TaskID: "j1", Status: "running"}}

	ctx := context.Background()
	if err := bm.Refresh(ctx, fc, "telegram:-5", jobs); err != nil {
		t.Fatal(err)
	}
	fc.mu.Lock()
	state := fc.state
	fc.mu.Unlock()
	if state.MessageID != "1234" || state.Pinned || !strings.Contains(state.PinError, "not enough rights") {
		t.Errorf("state = %+v", state)
	}

	// subsequent edits keep working
	jobs[0].Command = "sleep 5"
	if err := bm.Refresh(ctx, fc, "telegram:-5", jobs); err != nil {
		t.Fatal(err)
	}
	if fc.upserts != 2 {
		t.Errorf("upserts = %d", fc.upserts)
	}
}
