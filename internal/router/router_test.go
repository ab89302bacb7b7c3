package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/pairing"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

type plainFmt struct{}

func (plainFmt) Bold(s string) string         { return s }
func (plainFmt) Italic(s string) string       { return s }
func (plainFmt) Code(s string) string         { return s }
func (plainFmt) Pre(s string) string          { return s }
func (plainFmt) Link(text, url string) string { return text }
func (plainFmt) Escape(s string) string       { return s }
func (plainFmt) FromMarkdown(s string) string { return s }

type recordingChannel struct {
	mu    sync.Mutex
	sent  []string
	polls []string
}

func (c *recordingChannel) Name() string                 { return "" }
func (c *recordingChannel) Type() string                 { return "telegram" }
func (c *recordingChannel) Formatter() channel.Formatter { return plainFmt{} }
func (c *recordingChannel) Send(_ context.Context, _, html string) error {
	c.mu.Lock()
	c.sent = append(c.sent, html)
	c.mu.Unlock()
	return nil
}
func (c *recordingChannel) SendOutput(context.Context, string, string) error       { return nil }
func (c *recordingChannel) SendDocument(context.Context, string, string, string) error { return nil }
func (c *recordingChannel) SendPoll(_ context.Context, _, question string, _ []channel.PollOption, _ bool) (channel.PollHandle, error) {
	c.mu.Lock()
	c.polls = append(c.polls, question)
	n := len(c.polls)
	c.mu.Unlock()
	return channel.PollHandle{PollID: "poll-" + strings.Repeat("x", n), MessageID: "1"}, nil
}
func (c *recordingChannel) ClosePoll(context.Context, string, string) error { return nil }
func (c *recordingChannel) UpsertStatusBoard(context.Context, string, string, string, channel.BoardOptions) (channel.BoardState, error) {
	return channel.BoardState{}, nil
}
func (c *recordingChannel) ClearStatusBoard(context.Context, string, string, channel.ClearOptions) error {
	return nil
}
func (c *recordingChannel) SetTyping(string, bool) {}
func (c *recordingChannel) SyncCommandMenu(context.Context, string, string, channel.MenuState) error {
	return nil
}
func (c *recordingChannel) VisibleChats(context.Context) ([]channel.VisibleChat, error) {
	return nil, nil
}
func (c *recordingChannel) OnPollAnswer(func(channel.PollAnswer)) {}
func (c *recordingChannel) OnDeadChat(func(string))               {}
func (c *recordingChannel) StartReceiving(context.Context, func(channel.InboundMessage)) error {
	return nil
}
func (c *recordingChannel) StopReceiving() {}

func (c *recordingChannel) lastSent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

type staticResolver struct{ ch channel.Channel }

func (r staticResolver) ChannelFor(string) (channel.Channel, bool) { return r.ch, true }

func newTestRouter(t *testing.T) (*Router, *recordingChannel, *session.Manager, *pairing.Codes, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.SetChannelEntry("telegram", config.ChannelEntry{
		Type:        config.ChannelTelegram,
		Credentials: config.Credentials{BotToken: "123:abc"},
	})
	mgr := session.NewManager(nil)
	flows := session.NewFlowStore()
	peek := session.NewPeekBuffer()
	ch := &recordingChannel{}
	resolver := staticResolver{ch: ch}
	pipe := output.NewPipeline(mgr, flows, peek, cfg, resolver, "", nil)
	codes := pairing.NewCodes()
	r := New(cfg, "", mgr, flows, pipe, resolver, codes, t.TempDir(), nil)
	return r, ch, mgr, codes, cfg
}

func dm(userID, text string) channel.InboundMessage {
	return channel.InboundMessage{UserID: userID, ChatID: userID, Text: text}
}

func TestUnpairedRejected(t *testing.T) {
	r, ch, _, _, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "hello"))
	if !strings.Contains(ch.lastSent(), "isn't paired") {
		t.Errorf("reply = %q", ch.lastSent())
	}
}

func TestPairFlow(t *testing.T) {
	r, ch, _, codes, cfg := newTestRouter(t)
	code := codes.Generate()

	r.Route(context.Background(), dm("telegram:7", "/pair "+strings.ToLower(code)))
	if !cfg.IsPaired("telegram", "telegram:7") {
		t.Fatal("user not paired after valid code")
	}
	if !strings.Contains(ch.lastSent(), "Paired") {
		t.Errorf("reply = %q", ch.lastSent())
	}

	// wrong code fails
	r.Route(context.Background(), dm("telegram:8", "/pair NOPE42"))
	if cfg.IsPaired("telegram", "telegram:8") {
		t.Error("bad code paired a user")
	}
}

func TestPairRateLimited(t *testing.T) {
	r, _, _, _, cfg := newTestRouter(t)
	for i := 0; i < 20; i++ {
		r.Route(context.Background(), dm("telegram:9", "/pair GUESS1"))
	}
	if cfg.IsPaired("telegram", "telegram:9") {
		t.Error("guessing paired a user")
	}
	// limiter silently swallows the excess; no panic, nothing else to assert
}

func TestUnlinkedGroupGated(t *testing.T) {
	r, ch, _, codes, _ := newTestRouter(t)
	code := codes.Generate()
	r.Route(context.Background(), dm("telegram:7", "/pair "+code))

	group := channel.InboundMessage{
		UserID: "telegram:7", ChatID: "telegram:-100:0", Text: "hello", IsGroup: true, ChatTitle: "Team",
	}
	group.ChatID = "telegram:-100"
	r.Route(context.Background(), group)
	if !strings.Contains(ch.lastSent(), "isn't linked") {
		t.Errorf("reply = %q", ch.lastSent())
	}

	group.Text = "/link"
	r.Route(context.Background(), group)
	if !strings.Contains(ch.lastSent(), "Linked") {
		t.Errorf("reply = %q", ch.lastSent())
	}
}

func TestTopicLinkAlsoLinksParent(t *testing.T) {
	r, _, _, codes, cfg := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))

	topic := channel.InboundMessage{
		UserID: "telegram:7", ChatID: "telegram:-100:42", Text: "/link",
		IsGroup: true, ChatTitle: "Team", TopicTitle: "deploys",
	}
	r.Route(context.Background(), topic)
	if !cfg.IsLinkedGroup("telegram:-100") {
		t.Error("parent group not linked")
	}
	if !cfg.IsLinkedGroup("telegram:-100:42") {
		t.Error("topic not linked")
	}
}

func TestStdinInputRouting(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))

	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)

	r.Route(context.Background(), dm("telegram:7", "fix the tests"))
	lines, _ := mgr.DrainInput(s.ID)
	if len(lines) != 1 || lines[0] != "fix the tests" {
		t.Errorf("queued = %v", lines)
	}
}

func TestStdinConsumesPendingMentions(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))

	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)
	mgr.SetPendingFileMentions(s.ID, "telegram:7", "telegram:7", []string{"@auth.ts", "@db.ts"})

	r.Route(context.Background(), dm("telegram:7", "refactor these"))
	lines, _ := mgr.DrainInput(s.ID)
	if len(lines) != 1 || lines[0] != "@auth.ts @db.ts - refactor these" {
		t.Errorf("queued = %v", lines)
	}
	// mentions are one-shot
	r.Route(context.Background(), dm("telegram:7", "again"))
	lines, _ = mgr.DrainInput(s.ID)
	if len(lines) != 1 || lines[0] != "again" {
		t.Errorf("second queue = %v", lines)
	}
}

func TestStdinAnswersOpenApprovalAsOther(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))

	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)
	r.flows.Put("ap-1", &session.PendingFlow{
		Kind: session.FlowApproval, SessionID: s.ID, ChatID: "telegram:7", MessageID: "9", OptionCount: 3,
	})

	r.Route(context.Background(), dm("telegram:7", "only do the first part"))
	lines, _ := mgr.DrainInput(s.ID)
	if len(lines) != 2 || lines[0] != session.PollOther || lines[1] != "only do the first part" {
		t.Errorf("queued = %v", lines)
	}
	if _, _, open := r.flows.OpenApproval(s.ID); open {
		t.Error("approval poll still open")
	}
}

func TestApprovalAnswerQueuesSentinel(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))
	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)

	r.flows.Put("ap-2", &session.PendingFlow{
		Kind: session.FlowApproval, SessionID: s.ID, ChatID: "telegram:7", MessageID: "9", OptionCount: 3,
	})
	r.HandlePollAnswer(context.Background(), channel.PollAnswer{
		PollID: "ap-2", ChatID: "telegram:7", UserID: "telegram:7", OptionIDs: []string{"1"},
	})
	lines, _ := mgr.DrainInput(s.ID)
	if len(lines) != 1 || lines[0] != "POLL:1:false" {
		t.Errorf("queued = %v", lines)
	}
}

func TestControlCommands(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))
	s := mgr.RegisterRemote("claude --resume abc", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)

	r.Route(context.Background(), dm("telegram:7", "/stop"))
	a, _ := mgr.DrainControl(s.ID)
	if a == nil || a.Kind != session.ControlStop {
		t.Errorf("stop: %+v", a)
	}

	r.Route(context.Background(), dm("telegram:7", "/kill"))
	a, _ = mgr.DrainControl(s.ID)
	if a == nil || a.Kind != session.ControlKill {
		t.Errorf("kill: %+v", a)
	}

	// restart infers the ref from the command line
	r.Route(context.Background(), dm("telegram:7", "/restart"))
	a, _ = mgr.DrainControl(s.ID)
	if a == nil || a.Kind != session.ControlResume || a.SessionRef != "abc" {
		t.Errorf("restart: %+v", a)
	}
}

func TestNonOwnerCannotDrive(t *testing.T) {
	r, ch, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))
	r.Route(context.Background(), dm("telegram:8", "/pair "+codes.Generate()))

	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:-5", s.ID)

	other := channel.InboundMessage{UserID: "telegram:8", ChatID: "telegram:-5", Text: "do evil", IsGroup: true}
	// link the group so the gate passes
	r.cfg.LinkGroup("telegram", config.LinkedGroup{ChatID: "telegram:-5"})
	r.Route(context.Background(), other)

	if lines, _ := mgr.DrainInput(s.ID); len(lines) != 0 {
		t.Errorf("non-owner input queued: %v", lines)
	}
	if !strings.Contains(ch.lastSent(), "owner") {
		t.Errorf("reply = %q", ch.lastSent())
	}
}

func TestFilePickerDeselectClearsCount(t *testing.T) {
	r, _, mgr, codes, _ := newTestRouter(t)
	r.Route(context.Background(), dm("telegram:7", "/pair "+codes.Generate()))
	s := mgr.RegisterRemote("claude", "telegram:7", "telegram:7", "/proj", "")
	mgr.Attach("telegram:7", s.ID)

	flow := &session.PendingFlow{
		Kind: session.FlowFilePicker, SessionID: s.ID, ChatID: "telegram:7", UserID: "telegram:7",
		MessageID: "9", PageSize: 8,
		All:      []session.PickerOption{{ID: "auth.ts", Label: "auth.ts"}, {ID: "db.ts", Label: "db.ts"}},
		Selected: map[string]bool{},
	}
	r.flows.Put("fp-1", flow)

	answer := func(pollID, choice string) {
		r.HandlePollAnswer(context.Background(), channel.PollAnswer{
			PollID: pollID, ChatID: "telegram:7", UserID: "telegram:7", OptionIDs: []string{choice},
		})
	}

	answer("fp-1", "auth.ts")
	if len(flow.Selected) != 1 {
		t.Fatalf("Selected = %v", flow.Selected)
	}
	// both files plus the Done row while something is selected
	if flow.OptionCount != 3 {
		t.Errorf("OptionCount = %d, want 3", flow.OptionCount)
	}

	// the re-rendered poll carries a fresh id from the fake adapter
	answer("poll-x", "auth.ts")
	if len(flow.Selected) != 0 {
		t.Errorf("Selected after toggle-off = %v", flow.Selected)
	}
	// Done disappears once nothing is selected
	if flow.OptionCount != 2 {
		t.Errorf("OptionCount = %d, want 2", flow.OptionCount)
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct{ in, cmd, rest string }{
		{"/pair ABC123", "/pair", "ABC123"},
		{"/stop", "/stop", ""},
		{"plain text", "", "plain text"},
		{"  /Link  My Group  ", "/link", "My Group"},
	}
	for _, c := range cases {
		cmd, rest := splitCommand(c.in)
		if cmd != c.cmd || rest != c.rest {
			t.Errorf("splitCommand(%q) = %q %q", c.in, cmd, rest)
		}
	}
}
