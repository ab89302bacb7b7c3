package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

func boardKeyFor(chatID, boardKey string) string { return chatID + "\x00" + boardKey }

// UpsertStatusBoard edits the board message in place, creating (and
// optionally pinning) it when absent. An unchanged body is a no-op. Pinning
// failures are reported through BoardState.PinError without failing the
// upsert.
func (c *Channel) UpsertStatusBoard(ctx context.Context, chatID, boardKey, html string, opts channel.BoardOptions) (channel.BoardState, error) {
	id, thread, err := c.splitChat(chatID)
	if err != nil {
		return channel.BoardState{}, err
	}
	key := boardKeyFor(chatID, boardKey)

	state := channel.BoardState{MessageID: opts.MessageID, Pinned: opts.Pinned}
	if v, ok := c.boards.Load(key); ok {
		state = v.(channel.BoardState)
	}

	if state.MessageID != "" {
		msgID, convErr := strconv.Atoi(state.MessageID)
		if convErr == nil {
			_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
				ChatID:    tu.ID(id),
				MessageID: msgID,
				Text:      html,
				ParseMode: telego.ModeHTML,
			})
			if err == nil || isNotModifiedErr(err) {
				c.boards.Store(key, state)
				return state, nil
			}
			// old message is gone or uneditable; fall through to a new one
		}
	}

	msg := tu.Message(tu.ID(id), html).WithParseMode(telego.ModeHTML)
	if thread != 0 {
		msg = msg.WithMessageThreadID(thread)
	}
	sent, err := c.bot.SendMessage(ctx, msg)
	if err != nil {
		c.reportSendErr(chatID, err)
		return state, fmt.Errorf("telegram board send: %w", err)
	}

	// replace: unpin the previous board message if we pinned it
	if state.Pinned && state.MessageID != "" {
		if oldID, convErr := strconv.Atoi(state.MessageID); convErr == nil {
			_ = c.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{
				ChatID:    tu.ID(id),
				MessageID: oldID,
			})
		}
	}

	newState := channel.BoardState{MessageID: strconv.Itoa(sent.MessageID)}
	if opts.Pin {
		pinErr := c.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
			ChatID:              tu.ID(id),
			MessageID:           sent.MessageID,
			DisableNotification: true,
		})
		if pinErr != nil {
			newState.PinError = pinErr.Error()
		} else {
			newState.Pinned = true
		}
	}
	c.boards.Store(key, newState)
	return newState, nil
}

// ClearStatusBoard deletes the board message, unpinning it first when asked.
func (c *Channel) ClearStatusBoard(ctx context.Context, chatID, boardKey string, opts channel.ClearOptions) error {
	id, _, err := c.splitChat(chatID)
	if err != nil {
		return err
	}
	key := boardKeyFor(chatID, boardKey)

	state := channel.BoardState{MessageID: opts.MessageID, Pinned: opts.Pinned}
	if v, ok := c.boards.Load(key); ok {
		state = v.(channel.BoardState)
	}
	c.boards.Delete(key)

	if state.MessageID == "" {
		return nil
	}
	msgID, err := strconv.Atoi(state.MessageID)
	if err != nil {
		return nil
	}
	if opts.Unpin && state.Pinned {
		_ = c.bot.UnpinChatMessage(ctx, &telego.UnpinChatMessageParams{
			ChatID:    tu.ID(id),
			MessageID: msgID,
		})
	}
	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
	}); err != nil {
		return fmt.Errorf("telegram board delete: %w", err)
	}
	return nil
}
