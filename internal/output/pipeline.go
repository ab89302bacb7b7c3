package output

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// Resolver maps a serialized chat id to the adapter that can reach it.
type Resolver interface {
	ChannelFor(chatID string) (channel.Channel, bool)
}

// Pipeline fans normalized events out to a session's target chats.
type Pipeline struct {
	sessions *session.Manager
	flows    *session.FlowStore
	peek     *session.PeekBuffer
	cfg      *config.Config
	resolver Resolver
	boards   *BoardManager
	batcher  *Batcher
	log      *slog.Logger
}

// NewPipeline assembles the output path. The batcher delays come from
// settings; the board manager persists at boardsPath.
func NewPipeline(sessions *session.Manager, flows *session.FlowStore, peek *session.PeekBuffer, cfg *config.Config, resolver Resolver, boardsPath string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		sessions: sessions,
		flows:    flows,
		peek:     peek,
		cfg:      cfg,
		resolver: resolver,
		boards:   NewBoardManager(boardsPath),
		log:      log,
	}
	s := cfg.Settings
	p.batcher = NewBatcher(
		time.Duration(s.OutputBatchMinMs)*time.Millisecond,
		time.Duration(s.OutputBatchMaxMs)*time.Millisecond,
		s.OutputBufferMaxChars,
		p.deliver,
	)
	return p
}

// Assistant forwards assistant prose to all targets.
func (p *Pipeline) Assistant(sessionID, text string) {
	if text == "" {
		return
	}
	p.peek.Add(session.PeekEntry{SessionID: sessionID, Kind: "assistant", Text: text, At: time.Now().Unix()})
	p.fanOut(sessionID, func(f *Formatter) string { return f.Assistant(text) })
}

// Thinking forwards reasoning to targets that opted in.
func (p *Pipeline) Thinking(sessionID, text string) {
	if text == "" {
		return
	}
	p.peek.Add(session.PeekEntry{SessionID: sessionID, Kind: "thinking", Text: text, At: time.Now().Unix()})
	for _, chatID := range p.sessions.Targets(sessionID) {
		if !p.cfg.ThinkingEnabled(chatID) {
			continue
		}
		ch, ok := p.resolver.ChannelFor(chatID)
		if !ok {
			continue
		}
		f := NewFormatter(ch.Formatter(), p.cfg.OutputMode(chatID) == config.OutputModeVerbose)
		p.enqueue(ch, chatID, f.Thinking(text))
	}
}

// ToolCall forwards a tool invocation per each chat's output mode.
func (p *Pipeline) ToolCall(sessionID string, tc transcript.ToolCall) {
	p.peek.Add(session.PeekEntry{SessionID: sessionID, Kind: "tool-call", Text: tc.Name, At: time.Now().Unix()})
	p.fanOut(sessionID, func(f *Formatter) string { return f.ToolCall(tc) })
}

// ToolResult forwards a tool result per each chat's output mode.
func (p *Pipeline) ToolResult(sessionID string, tr transcript.ToolResult) {
	p.peek.Add(session.PeekEntry{SessionID: sessionID, Kind: "tool-result", Text: tr.Name, At: time.Now().Unix()})
	p.fanOut(sessionID, func(f *Formatter) string { return f.ToolResult(tr) })
}

// BackgroundJob updates the job table and refreshes the status board on
// every target, announcing non-running transitions as messages too.
func (p *Pipeline) BackgroundJob(sessionID string, ev transcript.JobEvent) {
	job, ok := p.sessions.UpdateJob(sessionID, ev.TaskID, ev.Status, ev.Command, ev.URLs)
	if !ok {
		return
	}
	p.peek.Add(session.PeekEntry{SessionID: sessionID, Kind: "job", Text: ev.TaskID + " " + ev.Status, At: time.Now().Unix()})

	jobs := p.sessions.Jobs(sessionID)
	for _, chatID := range p.sessions.Targets(sessionID) {
		ch, ok := p.resolver.ChannelFor(chatID)
		if !ok {
			continue
		}
		if job.Status != transcript.JobRunning {
			f := NewFormatter(ch.Formatter(), p.cfg.OutputMode(chatID) == config.OutputModeVerbose)
			p.enqueue(ch, chatID, f.Job(job))
		}
		go func(ch channel.Channel, chatID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := p.boards.Refresh(ctx, ch, chatID, jobs); err != nil {
				p.log.Warn("status board refresh failed", "chat", chatID, "error", err)
			}
		}(ch, chatID)
	}
}

// Question opens the first pending question as a poll in the bound chat and
// stores the rest of the set in the flow store.
func (p *Pipeline) Question(sessionID string, questions []transcript.Question) error {
	if len(questions) == 0 {
		return nil
	}
	chatID, ok := p.sessions.BoundChat(sessionID)
	if !ok {
		return fmt.Errorf("question for %s: no bound chat", sessionID)
	}
	items := make([]session.QuestionItem, len(questions))
	for i, q := range questions {
		items[i] = session.QuestionItem{
			Header:      q.Header,
			Question:    q.Question,
			Options:     q.Options,
			MultiSelect: q.MultiSelect,
		}
	}
	return p.askQuestion(sessionID, chatID, items, 0, nil)
}

// askQuestion posts question qIdx of the set and registers the flow.
func (p *Pipeline) askQuestion(sessionID, chatID string, items []session.QuestionItem, qIdx int, answers []string) error {
	ch, ok := p.resolver.ChannelFor(chatID)
	if !ok {
		return fmt.Errorf("no channel for chat %s", chatID)
	}
	q := items[qIdx]
	opts := make([]channel.PollOption, len(q.Options))
	for i, o := range q.Options {
		opts[i] = channel.PollOption{ID: strconv.Itoa(i), Label: TruncateLabel(o)}
	}
	title := q.Question
	if q.Header != "" {
		title = ch.Formatter().Bold(q.Header) + "\n" + ch.Formatter().Escape(q.Question)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	handle, err := ch.SendPoll(ctx, chatID, title, opts, q.MultiSelect)
	if err != nil {
		return fmt.Errorf("send question poll: %w", err)
	}
	p.flows.Put(handle.PollID, &session.PendingFlow{
		Kind:        session.FlowQuestionSet,
		SessionID:   sessionID,
		ChatID:      chatID,
		MessageID:   handle.MessageID,
		Questions:   items,
		QIndex:      qIdx,
		Answers:     answers,
		OptionCount: len(q.Options),
		MultiSelect: q.MultiSelect,
	})
	return nil
}

// ContinueQuestionSet advances to the next question after an answer, or
// reports completion.
func (p *Pipeline) ContinueQuestionSet(flow *session.PendingFlow, answers []string) (done bool, err error) {
	next := flow.QIndex + 1
	if next >= len(flow.Questions) {
		return true, nil
	}
	return false, p.askQuestion(flow.SessionID, flow.ChatID, flow.Questions, next, answers)
}

// ApprovalNeeded opens a single-select approval poll in the bound chat,
// mirroring the terminal's option order so index sentinels line up.
func (p *Pipeline) ApprovalNeeded(sessionID, prompt string, options []string) error {
	chatID, ok := p.sessions.BoundChat(sessionID)
	if !ok {
		return fmt.Errorf("approval for %s: no bound chat", sessionID)
	}
	ch, ok := p.resolver.ChannelFor(chatID)
	if !ok {
		return fmt.Errorf("no channel for chat %s", chatID)
	}
	// a newer prompt supersedes any open approval poll
	if pollID, flow, open := p.flows.OpenApproval(sessionID); open {
		p.flows.Take(pollID)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = ch.ClosePoll(ctx, flow.ChatID, flow.MessageID)
		cancel()
	}

	opts := make([]channel.PollOption, len(options))
	for i, o := range options {
		opts[i] = channel.PollOption{ID: strconv.Itoa(i), Label: TruncateLabel(o)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	handle, err := ch.SendPoll(ctx, chatID, ch.Formatter().Bold("Approval needed")+"\n"+ch.Formatter().Escape(prompt), opts, false)
	if err != nil {
		return fmt.Errorf("send approval poll: %w", err)
	}
	p.flows.Put(handle.PollID, &session.PendingFlow{
		Kind:        session.FlowApproval,
		SessionID:   sessionID,
		ChatID:      chatID,
		MessageID:   handle.MessageID,
		OptionCount: len(options),
	})
	return nil
}

// Typing toggles the typing indicator on every target.
func (p *Pipeline) Typing(sessionID string, active bool) {
	for _, chatID := range p.sessions.Targets(sessionID) {
		if ch, ok := p.resolver.ChannelFor(chatID); ok {
			ch.SetTyping(chatID, active)
		}
	}
}

// SessionEnded flushes pending output and announces the exit to the bound
// chat.
func (p *Pipeline) SessionEnded(sessionID, boundChat string, exitCode int) {
	p.batcher.FlushAll()
	p.flows.DropSession(sessionID)
	p.peek.Drop(sessionID)
	if boundChat == "" {
		return
	}
	ch, ok := p.resolver.ChannelFor(boundChat)
	if !ok {
		return
	}
	ch.SetTyping(boundChat, false)
	text := "Session ended"
	if exitCode != 0 {
		text = fmt.Sprintf("Session ended with exit code %d", exitCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := ch.Send(ctx, boundChat, ch.Formatter().Italic(text)); err != nil {
		p.log.Warn("exit notice failed", "chat", boundChat, "error", err)
	}
}

// Flush forces immediate delivery of all batched output.
func (p *Pipeline) Flush() { p.batcher.FlushAll() }

// fanOut renders per target chat and enqueues non-empty renditions.
func (p *Pipeline) fanOut(sessionID string, render func(*Formatter) string) {
	for _, chatID := range p.sessions.Targets(sessionID) {
		ch, ok := p.resolver.ChannelFor(chatID)
		if !ok {
			continue
		}
		f := NewFormatter(ch.Formatter(), p.cfg.OutputMode(chatID) == config.OutputModeVerbose)
		p.enqueue(ch, chatID, render(f))
	}
}

func (p *Pipeline) enqueue(ch channel.Channel, chatID, html string) {
	if html == "" {
		return
	}
	p.batcher.Add(chatID, html)
}

// deliver is the batcher sink: typing off, then one send.
func (p *Pipeline) deliver(chatID, html string) {
	ch, ok := p.resolver.ChannelFor(chatID)
	if !ok {
		return
	}
	ch.SetTyping(chatID, false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ch.Send(ctx, chatID, html); err != nil {
		p.log.Warn("send failed", "chat", chatID, "error", err)
	}
}
