package router

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/picker"
	"github.com/touchgrasshq/touchgrass/internal/resume"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

const pickerPageSize = 8

// handleLink links a group (and, in a topic, its parent group first).
func (r *Router) handleLink(ctx context.Context, msg channel.InboundMessage, name string) {
	if !msg.IsGroup {
		r.reply(ctx, msg.ChatID, "Only group chats need /link. DMs work as soon as you're paired.")
		return
	}
	addr, err := address.Parse(msg.ChatID)
	if err != nil {
		return
	}
	channelName := r.channelNameFor(addr)
	title := msg.ChatTitle
	if name != "" {
		title = name
	}

	if addr.Thread != "" {
		parent := addr.Parent().String()
		if !r.cfg.IsLinkedGroup(parent) {
			r.cfg.LinkGroup(channelName, config.LinkedGroup{ChatID: parent, Title: msg.ChatTitle, LinkedAt: time.Now()})
		}
		topicTitle := title
		if msg.TopicTitle != "" {
			topicTitle = msg.ChatTitle + " › " + msg.TopicTitle
		}
		r.cfg.LinkGroup(channelName, config.LinkedGroup{ChatID: msg.ChatID, Title: topicTitle, LinkedAt: time.Now()})
	} else {
		r.cfg.LinkGroup(channelName, config.LinkedGroup{ChatID: msg.ChatID, Title: title, LinkedAt: time.Now()})
	}
	r.saveConfig()
	r.reply(ctx, msg.ChatID, "Linked. Use /attach to follow a session here.")
	r.syncMenu(ctx, msg)
}

func (r *Router) handleUnlink(ctx context.Context, msg channel.InboundMessage) {
	if !r.cfg.UnlinkGroup(msg.ChatID) {
		r.reply(ctx, msg.ChatID, "This chat wasn't linked.")
		return
	}
	r.sessions.Detach(msg.ChatID)
	r.saveConfig()
	r.reply(ctx, msg.ChatID, "Unlinked.")
	r.syncMenu(ctx, msg)
}

func (r *Router) handleSessions(ctx context.Context, msg channel.InboundMessage) {
	owned := r.sessions.OwnedSessions(msg.UserID)
	if len(owned) == 0 {
		r.reply(ctx, msg.ChatID, "No running sessions. Start one with `tg claude` on your machine.")
		return
	}
	var b strings.Builder
	b.WriteString("Running sessions:\n")
	attached, _ := r.sessions.AttachedSession(msg.ChatID)
	for _, id := range owned {
		s, ok := r.sessions.Get(id)
		if !ok {
			continue
		}
		marker := "  "
		if id == attached {
			marker = "▸ "
		}
		fmt.Fprintf(&b, "%s`%s` %s — %s\n", marker, s.ID, firstWord(s.Command), s.Cwd)
	}
	r.reply(ctx, msg.ChatID, b.String())
}

// handleAttach opens a session picker, or attaches directly when an id or a
// single candidate is unambiguous.
func (r *Router) handleAttach(ctx context.Context, msg channel.InboundMessage, arg string) {
	if arg != "" {
		r.attach(ctx, msg, arg)
		return
	}
	owned := r.sessions.OwnedSessions(msg.UserID)
	switch len(owned) {
	case 0:
		r.reply(ctx, msg.ChatID, "No running sessions to attach.")
		return
	case 1:
		r.attach(ctx, msg, owned[0])
		return
	}

	opts := make([]channel.PollOption, 0, len(owned))
	for _, id := range owned {
		s, ok := r.sessions.Get(id)
		if !ok {
			continue
		}
		label := fmt.Sprintf("%s — %s", firstWord(s.Command), filepath.Base(s.Cwd))
		opts = append(opts, channel.PollOption{ID: id, Label: output.TruncateLabel(label)})
	}
	r.openPicker(ctx, msg, session.FlowSessionPicker, "Attach which session?", opts, "")
}

func (r *Router) attach(ctx context.Context, msg channel.InboundMessage, sessionID string) {
	if !r.sessions.CanUserAccessSession(msg.UserID, sessionID) {
		r.reply(ctx, msg.ChatID, "That session has already exited or isn't yours.")
		return
	}
	if msg.IsGroup {
		// groups subscribe in addition to attaching, so fan-out reaches them
		r.sessions.SubscribeGroup(sessionID, msg.ChatID)
	}
	if !r.sessions.Attach(msg.ChatID, sessionID) {
		r.reply(ctx, msg.ChatID, "That session has already exited.")
		return
	}
	r.reply(ctx, msg.ChatID, fmt.Sprintf("Attached to `%s`. Messages here go straight to the tool.", sessionID))
	r.syncMenu(ctx, msg)
}

func (r *Router) handleDetach(ctx context.Context, msg channel.InboundMessage) {
	if !r.sessions.Detach(msg.ChatID) {
		r.reply(ctx, msg.ChatID, "This chat isn't attached to a session.")
		return
	}
	r.flows.DropChat(msg.ChatID)
	r.reply(ctx, msg.ChatID, "Detached.")
	r.syncMenu(ctx, msg)
}

func (r *Router) handleControl(ctx context.Context, msg channel.InboundMessage, kind string) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /attach first.")
		return
	}
	if !r.sessions.CanUserAccessSession(msg.UserID, id) {
		r.reply(ctx, msg.ChatID, "Only the session owner can do that.")
		return
	}
	switch kind {
	case session.ControlStop:
		r.sessions.RequestStop(id)
		r.reply(ctx, msg.ChatID, "Interrupting the current turn…")
	case session.ControlKill:
		r.sessions.RequestKill(id)
		r.reply(ctx, msg.ChatID, "Killing the session…")
	}
}

// handleRestart infers a resume ref from the session's own command line and
// asks the wrapper to relaunch with it.
func (r *Router) handleRestart(ctx context.Context, msg channel.InboundMessage) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /attach first.")
		return
	}
	if !r.sessions.CanUserAccessSession(msg.UserID, id) {
		r.reply(ctx, msg.ChatID, "Only the session owner can do that.")
		return
	}
	s, _ := r.sessions.Get(id)
	tool, args := splitCommandLine(s.Command)
	ref, found := resume.ExtractRef(tool, args)
	if !found {
		r.reply(ctx, msg.ChatID, "Can't infer a resume reference from this session's command line. Use /resume to pick one.")
		return
	}
	if !resume.SafeRef(ref) {
		r.reply(ctx, msg.ChatID, "Invalid session reference.")
		return
	}
	r.sessions.RequestResume(id, ref)
	r.reply(ctx, msg.ChatID, "Restarting with resume…")
}

// handleResumePicker lists recent transcripts for the session's tool+cwd.
func (r *Router) handleResumePicker(ctx context.Context, msg channel.InboundMessage) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /attach first.")
		return
	}
	s, _ := r.sessions.Get(id)
	tool, _ := splitCommandLine(s.Command)
	candidates, err := transcript.RecentSessions(tool, s.Cwd, r.homeDir, 40)
	if err != nil || len(candidates) == 0 {
		r.reply(ctx, msg.ChatID, "No resumable conversations found for this project.")
		return
	}

	opts := make([]channel.PollOption, 0, len(candidates))
	for _, c := range candidates {
		label := c.Label
		if label == "" {
			label = c.SessionRef
		}
		label = fmt.Sprintf("%s · %s", c.ModTime.Format("Jan 2 15:04"), label)
		opts = append(opts, channel.PollOption{
			ID:    c.SessionRef,
			Label: output.TruncateLabel(label),
		})
	}
	r.openPicker(ctx, msg, session.FlowResumePicker, "Resume which conversation?", opts, "")
}

// handleFilePicker ranks repo files and opens a multi-select picker.
func (r *Router) handleFilePicker(ctx context.Context, msg channel.InboundMessage, query string) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /attach first.")
		return
	}
	s, _ := r.sessions.Get(id)
	files, err := picker.ListFiles(s.Cwd)
	if err != nil || len(files) == 0 {
		r.reply(ctx, msg.ChatID, "No files found in the project.")
		return
	}
	ranked := picker.Rank(files, query)
	opts := make([]channel.PollOption, 0, len(ranked))
	for _, f := range ranked {
		opts = append(opts, channel.PollOption{ID: f, Label: output.TruncateLabel(f)})
	}
	r.openPicker(ctx, msg, session.FlowFilePicker, "Pick files to mention (multi-select):", opts, query)
}

func (r *Router) handleOutputMode(ctx context.Context, msg channel.InboundMessage) {
	opts := []channel.PollOption{
		{ID: config.OutputModeCompact, Label: "Simple — assistant text plus key results"},
		{ID: config.OutputModeVerbose, Label: "Verbose — every tool call and result"},
	}
	r.openPicker(ctx, msg, session.FlowOutputMode, "Output mode for this chat:", opts, "")
}

func (r *Router) handleThinking(ctx context.Context, msg channel.InboundMessage) {
	on := !r.cfg.ThinkingEnabled(msg.ChatID)
	r.cfg.SetThinking(msg.ChatID, on)
	r.saveConfig()
	if on {
		r.reply(ctx, msg.ChatID, "Reasoning output on.")
	} else {
		r.reply(ctx, msg.ChatID, "Reasoning output off.")
	}
}

func (r *Router) handleBackgroundJobs(ctx context.Context, msg channel.InboundMessage) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /attach first.")
		return
	}
	jobs := r.sessions.Jobs(id)
	if len(jobs) == 0 {
		r.reply(ctx, msg.ChatID, "No background jobs.")
		return
	}
	var b strings.Builder
	b.WriteString("Background jobs:\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s `%s` %s\n", j.Status, j.TaskID, firstWord(j.Command))
		for _, u := range j.URLs {
			b.WriteString(u + "\n")
		}
	}
	r.reply(ctx, msg.ChatID, b.String())
}

// handleStdinInput routes free-form text to the target session, consuming
// pending file mentions and answering any open approval poll.
func (r *Router) handleStdinInput(ctx context.Context, msg channel.InboundMessage) {
	id, ok := r.targetSession(msg)
	if !ok {
		r.reply(ctx, msg.ChatID, "No session attached here. Use /sessions to see what's running and /attach to pick one.")
		return
	}
	if !r.sessions.CanUserAccessSession(msg.UserID, id) {
		r.reply(ctx, msg.ChatID, "Only the session owner can drive this session.")
		return
	}

	text := msg.Text
	if mentions := r.sessions.ConsumePendingFileMentions(id, msg.ChatID, msg.UserID); len(mentions) > 0 {
		text = strings.Join(mentions, " ") + " - " + text
	}

	// free-form text while an approval poll is open is its "Other" answer
	if pollID, flow, open := r.flows.OpenApproval(id); open {
		r.flows.Take(pollID)
		if ch, ok := r.resolver.ChannelFor(flow.ChatID); ok {
			_ = ch.ClosePoll(ctx, flow.ChatID, flow.MessageID)
		}
		if err := r.sessions.QueueInput(id, session.PollOther, text); err != nil {
			r.reply(ctx, msg.ChatID, "That session has already exited.")
		}
		return
	}

	if err := r.sessions.QueueInput(id, text); err != nil {
		r.reply(ctx, msg.ChatID, "That session has already exited.")
	}
}

// openPicker sends page 0 of a paginated single/multi-select picker and
// registers the flow.
func (r *Router) openPicker(ctx context.Context, msg channel.InboundMessage, kind, title string, all []channel.PollOption, query string) {
	id, _ := r.targetSession(msg)
	flow := &session.PendingFlow{
		Kind:      kind,
		SessionID: id,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		PageSize:  pickerPageSize,
		Selected:  make(map[string]bool),
	}
	for _, o := range all {
		flow.All = append(flow.All, session.PickerOption{ID: o.ID, Label: o.Label})
	}
	r.sendPickerPage(ctx, flow, title)
}

// sendPickerPage renders one page of a picker with paging controls.
func (r *Router) sendPickerPage(ctx context.Context, flow *session.PendingFlow, title string) {
	ch, ok := r.resolver.ChannelFor(flow.ChatID)
	if !ok {
		return
	}
	start := flow.Page * flow.PageSize
	if start >= len(flow.All) {
		start = 0
		flow.Page = 0
	}
	end := start + flow.PageSize
	if end > len(flow.All) {
		end = len(flow.All)
	}

	opts := make([]channel.PollOption, 0, flow.PageSize+2)
	for _, o := range flow.All[start:end] {
		label := o.Label
		if flow.Selected[o.ID] {
			label = "✓ " + label
		}
		opts = append(opts, channel.PollOption{ID: o.ID, Label: label})
	}
	if end < len(flow.All) {
		opts = append(opts, channel.PollOption{ID: "__next__", Label: fmt.Sprintf("Next › (%d more)", len(flow.All)-end)})
	}
	if flow.Kind == session.FlowFilePicker && len(flow.Selected) > 0 {
		opts = append(opts, channel.PollOption{ID: "__done__", Label: fmt.Sprintf("Done (%d selected)", len(flow.Selected))})
	}

	handle, err := ch.SendPoll(ctx, flow.ChatID, ch.Formatter().Bold(title), opts, false)
	if err != nil {
		r.log.Warn("picker send failed", "chat", flow.ChatID, "error", err)
		return
	}
	flow.MessageID = handle.MessageID
	flow.OptionCount = len(opts)
	r.flows.Put(handle.PollID, flow)
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}

// splitCommandLine splits a raw wrapper command into the tool name and args.
func splitCommandLine(command string) (tool string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	tool = filepath.Base(fields[0])
	return tool, fields[1:]
}

const pickerTitleFiles = "Pick files to mention (multi-select):"
