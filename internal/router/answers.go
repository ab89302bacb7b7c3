package router

import (
	"context"
	"strconv"
	"strings"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

// HandlePollAnswer dispatches a poll or inline-keyboard selection to the
// pending flow it belongs to.
func (r *Router) HandlePollAnswer(ctx context.Context, ans channel.PollAnswer) {
	flow, ok := r.flows.Get(ans.PollID)
	if !ok || len(ans.OptionIDs) == 0 {
		return
	}
	if flow.UserID != "" && ans.UserID != "" && flow.UserID != ans.UserID {
		// someone else's picker
		return
	}

	switch flow.Kind {
	case session.FlowApproval:
		r.answerApproval(ctx, ans, flow)
	case session.FlowQuestionSet:
		r.answerQuestion(ctx, ans, flow)
	case session.FlowSessionPicker:
		r.answerSessionPicker(ctx, ans, flow)
	case session.FlowResumePicker:
		r.answerResumePicker(ctx, ans, flow)
	case session.FlowOutputMode:
		r.answerOutputMode(ctx, ans, flow)
	case session.FlowFilePicker:
		r.answerFilePicker(ctx, ans, flow)
	}
}

// answerApproval forwards the selected option as keypresses to the terminal
// prompt the poll mirrors.
func (r *Router) answerApproval(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	idx, err := strconv.Atoi(ans.OptionIDs[0])
	if err != nil || idx < 0 || idx >= flow.OptionCount {
		return
	}
	r.flows.Take(ans.PollID)
	r.closeFlowPoll(ctx, flow)
	if err := r.sessions.QueueInput(flow.SessionID, session.MakePollSentinel([]int{idx}, false)); err != nil {
		r.reply(ctx, flow.ChatID, "That session has already exited.")
	}
}

// answerQuestion records one answer of a question set and advances it.
func (r *Router) answerQuestion(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	q := flow.Questions[flow.QIndex]
	var indexes []int
	var labels []string
	for _, oid := range ans.OptionIDs {
		idx, err := strconv.Atoi(oid)
		if err != nil || idx < 0 || idx >= len(q.Options) {
			continue
		}
		indexes = append(indexes, idx)
		labels = append(labels, q.Options[idx])
	}
	if len(indexes) == 0 {
		return
	}
	if q.MultiSelect && len(indexes) < len(q.Options) {
		// native multi-select polls deliver incremental votes; wait for
		// the submit that arrives as a repeated answer set
	}

	r.flows.Take(ans.PollID)
	r.closeFlowPoll(ctx, flow)

	if err := r.sessions.QueueInput(flow.SessionID, session.MakePollSentinel(indexes, q.MultiSelect)); err != nil {
		r.reply(ctx, flow.ChatID, "That session has already exited.")
		return
	}
	if q.MultiSelect {
		_ = r.sessions.QueueInput(flow.SessionID, session.PollSubmit)
	}

	answers := append(flow.Answers, strings.Join(labels, ", "))
	done, err := r.pipeline.ContinueQuestionSet(flow, answers)
	if err != nil {
		r.log.Warn("next question failed", "error", err)
	}
	if done {
		r.reply(ctx, flow.ChatID, "All questions answered.")
	}
}

func (r *Router) answerSessionPicker(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	choice := ans.OptionIDs[0]
	if choice == "__next__" {
		r.advancePicker(ctx, ans.PollID, flow, "Attach which session?")
		return
	}
	r.flows.Take(ans.PollID)
	r.closeFlowPoll(ctx, flow)
	r.attach(ctx, channel.InboundMessage{
		UserID:  ans.UserID,
		ChatID:  flow.ChatID,
		IsGroup: flowChatIsGroup(flow),
	}, choice)
}

func (r *Router) answerResumePicker(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	choice := ans.OptionIDs[0]
	if choice == "__next__" {
		r.advancePicker(ctx, ans.PollID, flow, "Resume which conversation?")
		return
	}
	r.flows.Take(ans.PollID)
	r.closeFlowPoll(ctx, flow)
	if !r.sessions.RequestResume(flow.SessionID, choice) {
		r.reply(ctx, flow.ChatID, "That session has already exited.")
		return
	}
	r.reply(ctx, flow.ChatID, "Resuming…")
}

func (r *Router) answerOutputMode(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	mode := ans.OptionIDs[0]
	if mode != config.OutputModeCompact && mode != config.OutputModeVerbose {
		return
	}
	r.flows.Take(ans.PollID)
	r.closeFlowPoll(ctx, flow)
	r.cfg.SetOutputMode(flow.ChatID, mode)
	r.saveConfig()
	r.reply(ctx, flow.ChatID, "Output mode: "+mode)
}

// answerFilePicker toggles selections across pages; Done stores the mentions
// for the user's next message.
func (r *Router) answerFilePicker(ctx context.Context, ans channel.PollAnswer, flow *session.PendingFlow) {
	choice := ans.OptionIDs[0]
	switch choice {
	case "__next__":
		r.advancePicker(ctx, ans.PollID, flow, pickerTitleFiles)
	case "__done__":
		r.flows.Take(ans.PollID)
		r.closeFlowPoll(ctx, flow)
		mentions := make([]string, 0, len(flow.Selected))
		for _, o := range flow.All {
			if flow.Selected[o.ID] {
				mentions = append(mentions, "@"+o.ID)
			}
		}
		r.sessions.SetPendingFileMentions(flow.SessionID, flow.ChatID, flow.UserID, mentions)
		r.reply(ctx, flow.ChatID, "Files noted. They'll prefix your next message.")
	default:
		// delete on toggle-off so len(Selected) is the true selection count
		if flow.Selected[choice] {
			delete(flow.Selected, choice)
		} else {
			flow.Selected[choice] = true
		}
		r.flows.Take(ans.PollID)
		r.closeFlowPoll(ctx, flow)
		r.sendPickerPage(ctx, flow, pickerTitleFiles)
	}
}

// advancePicker re-renders the next page of a paged picker.
func (r *Router) advancePicker(ctx context.Context, pollID string, flow *session.PendingFlow, title string) {
	r.flows.Take(pollID)
	r.closeFlowPoll(ctx, flow)
	flow.Page++
	r.sendPickerPage(ctx, flow, title)
}

func (r *Router) closeFlowPoll(ctx context.Context, flow *session.PendingFlow) {
	if flow.MessageID == "" {
		return
	}
	if ch, ok := r.resolver.ChannelFor(flow.ChatID); ok {
		_ = ch.ClosePoll(ctx, flow.ChatID, flow.MessageID)
	}
}

// HandleDeadChat detaches a chat that can no longer receive messages.
func (r *Router) HandleDeadChat(chatID string) {
	r.log.Warn("chat is dead, detaching", "chat", chatID)
	r.sessions.Detach(chatID)
	r.flows.DropChat(chatID)
}

func flowChatIsGroup(flow *session.PendingFlow) bool {
	return address.IsGroupChat(flow.ChatID)
}
