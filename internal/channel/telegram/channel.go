// Package telegram implements the Channel capability surface over the
// Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// General topic messages must omit the thread id on send; Telegram rejects
// thread id 1 with "thread not found".
const generalTopicID = 1

// Options configures a Telegram adapter instance.
type Options struct {
	Name        string // account name from config ("" for the bare account)
	Token       string
	UploadsDir  string
	LockDir     string
	WebAppURL   string
	BotUsername string
}

// Channel is one Telegram bot account.
type Channel struct {
	opts   Options
	bot    *telego.Bot
	typing *channel.TypingController
	log    *slog.Logger

	pollCancel context.CancelFunc
	pollDone   chan struct{}
	pollerLock *channel.PollerLock

	// last in-place-editable output message per chat
	lastOutput sync.Map // chatID string → *outputMessage
	// board message state per (chatID, boardKey)
	boards sync.Map // string → channel.BoardState
	// forum topic names learned from service messages
	topicNames sync.Map // "chatID:threadID" → string
	// chats seen during polling, for VisibleChats
	seenChats sync.Map // chatID string → channel.VisibleChat
	// command-menu cache
	menus sync.Map // chatID+"\x00"+userID → channel.MenuState

	// poll bookkeeping: local poll id → pollMeta
	polls sync.Map

	onPollAnswer func(channel.PollAnswer)
	onDeadChat   func(chatID string)
	fatalOnce    sync.Once
}

// New creates a Telegram adapter. The bot token is validated lazily on the
// first API call.
func New(opts Options, log *slog.Logger) (*Channel, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}
	if log == nil {
		log = slog.Default()
	}
	bot, err := telego.NewBot(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	c := &Channel{opts: opts, bot: bot, log: log}
	c.typing = channel.NewTypingController(func(ctx context.Context, chatID string) error {
		id, thread, err := c.splitChat(chatID)
		if err != nil {
			return err
		}
		action := tu.ChatAction(tu.ID(id), telego.ChatActionTyping)
		if thread != 0 {
			action.MessageThreadID = thread
		}
		return c.bot.SendChatAction(ctx, action)
	})
	return c, nil
}

// Name returns the configured account name.
func (c *Channel) Name() string { return c.opts.Name }

// Type returns the platform kind.
func (c *Channel) Type() string { return address.TypeTelegram }

// Formatter returns the HTML formatter for Telegram parse_mode=HTML.
func (c *Channel) Formatter() channel.Formatter { return htmlFormatter{} }

// OnPollAnswer installs the poll-answer sink.
func (c *Channel) OnPollAnswer(fn func(channel.PollAnswer)) { c.onPollAnswer = fn }

// OnDeadChat installs the dead-chat sink.
func (c *Channel) OnDeadChat(fn func(chatID string)) { c.onDeadChat = fn }

// StartReceiving begins the long-poll loop. Exactly one poller may run per
// token; a filesystem lock enforces this across processes.
func (c *Channel) StartReceiving(ctx context.Context, onMessage func(channel.InboundMessage)) error {
	if c.opts.LockDir != "" {
		lock, err := channel.AcquirePollerLock(c.opts.LockDir, c.opts.Token)
		if err != nil {
			return fmt.Errorf("telegram poller: %w", err)
		}
		c.pollerLock = lock
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			"message",
			"callback_query",
			"poll_answer",
			"my_chat_member",
		},
	})
	if err != nil {
		cancel()
		if c.pollerLock != nil {
			c.pollerLock.Release()
		}
		return fmt.Errorf("start long polling: %w", err)
	}

	c.log.Info("telegram polling started", "account", c.opts.Name)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.log.Info("telegram updates channel closed")
					return
				}
				c.handleUpdate(pollCtx, update, onMessage)
			}
		}
	}()
	return nil
}

// StopReceiving cancels the poll loop and waits for it to drain so Telegram
// releases the getUpdates hold before another poller starts.
func (c *Channel) StopReceiving() {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.log.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	if c.pollerLock != nil {
		c.pollerLock.Release()
		c.pollerLock = nil
	}
	c.typing.StopAll()
}

func (c *Channel) handleUpdate(ctx context.Context, update telego.Update, onMessage func(channel.InboundMessage)) {
	switch {
	case update.Message != nil:
		c.handleMessage(ctx, update.Message, onMessage)
	case update.CallbackQuery != nil:
		c.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.PollAnswer != nil:
		c.handlePollAnswer(update.PollAnswer)
	}
}

// stopFatal shuts the poller down after an unrecoverable polling error such
// as a getUpdates conflict with another bot instance.
func (c *Channel) stopFatal(reason string) {
	c.fatalOnce.Do(func() {
		c.log.Error("telegram poller stopped", "reason", reason)
		if c.pollCancel != nil {
			c.pollCancel()
		}
	})
}

// chatAddr builds the serialized address for a chat, including the topic
// thread when present.
func (c *Channel) chatAddr(chatID int64, threadID int) string {
	thread := ""
	if threadID > 0 {
		thread = strconv.Itoa(threadID)
	}
	return address.Make(address.TypeTelegram, c.opts.Name, strconv.FormatInt(chatID, 10), thread)
}

// userAddr builds the serialized address for a user.
func (c *Channel) userAddr(userID int64) string {
	return address.Make(address.TypeTelegram, c.opts.Name, strconv.FormatInt(userID, 10), "")
}

// splitChat parses a serialized chat address into the numeric chat id and a
// send-safe thread id (0 when absent or the General topic).
func (c *Channel) splitChat(chatID string) (int64, int, error) {
	a, err := address.Parse(chatID)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseInt(a.ID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid telegram chat id %q: %w", a.ID, err)
	}
	thread := 0
	if a.Thread != "" {
		thread, err = strconv.Atoi(a.Thread)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid thread id %q: %w", a.Thread, err)
		}
	}
	if thread == generalTopicID {
		thread = 0
	}
	return id, thread, nil
}

// VisibleChats lists chats observed during polling, most recently active
// first is not guaranteed; callers sort as needed.
func (c *Channel) VisibleChats(ctx context.Context) ([]channel.VisibleChat, error) {
	var out []channel.VisibleChat
	c.seenChats.Range(func(_, v any) bool {
		out = append(out, v.(channel.VisibleChat))
		return true
	})
	return out, nil
}

// noteChat records a chat for VisibleChats.
func (c *Channel) noteChat(chatID, title string, isGroup, isTopic bool) {
	c.seenChats.Store(chatID, channel.VisibleChat{
		ChatID:  chatID,
		Title:   title,
		IsGroup: isGroup,
		IsTopic: isTopic,
	})
}

// MarkBusy flags a visible chat as attached to a session.
func (c *Channel) MarkBusy(chatID string, busy bool) {
	if v, ok := c.seenChats.Load(chatID); ok {
		vc := v.(channel.VisibleChat)
		vc.Busy = busy
		c.seenChats.Store(chatID, vc)
	}
}

// SetTyping asserts or clears the typing heartbeat for a chat.
func (c *Channel) SetTyping(chatID string, active bool) {
	c.typing.Set(chatID, active)
}
