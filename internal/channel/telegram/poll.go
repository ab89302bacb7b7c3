package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// callbackPrefix tags inline-keyboard callback data as a poll answer:
// tgp:<localPollId>:<optionId>.
const callbackPrefix = "tgp"

type pollMeta struct {
	chatID    string
	messageID int
	options   []channel.PollOption
	native    bool
	// nativePollID maps Telegram's own poll id back to the local one
	nativePollID string
}

// SendPoll presents a choice. Single-select renders as an inline keyboard
// (one button per option); multi-select as a native anonymous-off poll so
// several options can be toggled.
func (c *Channel) SendPoll(ctx context.Context, chatID, question string, options []channel.PollOption, multiSelect bool) (channel.PollHandle, error) {
	id, thread, err := c.splitChat(chatID)
	if err != nil {
		return channel.PollHandle{}, err
	}
	localID := uuid.NewString()[:8]

	if multiSelect {
		opts := make([]telego.InputPollOption, 0, len(options))
		for _, o := range options {
			opts = append(opts, telego.InputPollOption{Text: o.Label})
		}
		params := &telego.SendPollParams{
			ChatID:                tu.ID(id),
			Question:              question,
			Options:               opts,
			IsAnonymous:           telego.ToPtr(false),
			AllowsMultipleAnswers: true,
		}
		if thread != 0 {
			params.MessageThreadID = thread
		}
		sent, err := c.bot.SendPoll(ctx, params)
		if err != nil {
			c.reportSendErr(chatID, err)
			return channel.PollHandle{}, fmt.Errorf("telegram send poll: %w", err)
		}
		meta := pollMeta{chatID: chatID, messageID: sent.MessageID, options: options, native: true}
		if sent.Poll != nil {
			meta.nativePollID = sent.Poll.ID
			c.polls.Store("native:"+sent.Poll.ID, localID)
		}
		c.polls.Store(localID, meta)
		return channel.PollHandle{PollID: localID, MessageID: strconv.Itoa(sent.MessageID)}, nil
	}

	rows := make([][]telego.InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		data := fmt.Sprintf("%s:%s:%s", callbackPrefix, localID, o.ID)
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(o.Label).WithCallbackData(data),
		))
	}
	msg := tu.Message(tu.ID(id), question).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(tu.InlineKeyboard(rows...))
	if thread != 0 {
		msg = msg.WithMessageThreadID(thread)
	}
	sent, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		c.reportSendErr(chatID, err)
		return channel.PollHandle{}, fmt.Errorf("telegram send keyboard: %w", err)
	}
	c.polls.Store(localID, pollMeta{chatID: chatID, messageID: sent.MessageID, options: options})
	return channel.PollHandle{PollID: localID, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// ClosePoll stops a native poll or strips an inline keyboard.
func (c *Channel) ClosePoll(ctx context.Context, chatID, messageID string) error {
	id, _, err := c.splitChat(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}

	native := false
	c.polls.Range(func(k, v any) bool {
		if meta, ok := v.(pollMeta); ok && meta.messageID == msgID {
			native = meta.native
			c.polls.Delete(k)
			if meta.nativePollID != "" {
				c.polls.Delete("native:" + meta.nativePollID)
			}
			return false
		}
		return true
	})

	if native {
		_, err = c.bot.StopPoll(ctx, &telego.StopPollParams{ChatID: tu.ID(id), MessageID: msgID})
		if err != nil {
			return fmt.Errorf("telegram stop poll: %w", err)
		}
		return nil
	}
	_, err = c.bot.EditMessageReplyMarkup(ctx, &telego.EditMessageReplyMarkupParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
	})
	if err != nil && !isNotModifiedErr(err) {
		return fmt.Errorf("telegram clear keyboard: %w", err)
	}
	return nil
}

// handleCallbackQuery converts inline-keyboard presses into poll answers.
func (c *Channel) handleCallbackQuery(ctx context.Context, q *telego.CallbackQuery) {
	defer func() {
		_ = c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: q.ID})
	}()

	parts := strings.SplitN(q.Data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return
	}
	localID, optionID := parts[1], parts[2]
	v, ok := c.polls.Load(localID)
	if !ok || c.onPollAnswer == nil {
		return
	}
	meta := v.(pollMeta)
	c.onPollAnswer(channel.PollAnswer{
		PollID:    localID,
		ChatID:    meta.chatID,
		UserID:    c.userAddr(q.From.ID),
		OptionIDs: []string{optionID},
	})
}

// handlePollAnswer converts native poll votes into poll answers.
func (c *Channel) handlePollAnswer(pa *telego.PollAnswer) {
	v, ok := c.polls.Load("native:" + pa.PollID)
	if !ok || c.onPollAnswer == nil {
		return
	}
	localID := v.(string)
	mv, ok := c.polls.Load(localID)
	if !ok {
		return
	}
	meta := mv.(pollMeta)

	ids := make([]string, 0, len(pa.OptionIDs))
	for _, idx := range pa.OptionIDs {
		if idx >= 0 && int(idx) < len(meta.options) {
			ids = append(ids, meta.options[idx].ID)
		}
	}
	var userID string
	if pa.User != nil {
		userID = c.userAddr(pa.User.ID)
	}
	c.onPollAnswer(channel.PollAnswer{
		PollID:    localID,
		ChatID:    meta.chatID,
		UserID:    userID,
		OptionIDs: ids,
	})
}
