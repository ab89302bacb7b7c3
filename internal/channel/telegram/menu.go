package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// SyncCommandMenu installs the slash-command menu appropriate for a chat and
// user. Per-chat scope for DMs, chat-member scope for groups. Redundant
// updates are skipped via a (chatId,userId) cache.
func (c *Channel) SyncCommandMenu(ctx context.Context, chatID, userID string, state channel.MenuState) error {
	cacheKey := chatID + "\x00" + userID
	if v, ok := c.menus.Load(cacheKey); ok && v.(channel.MenuState) == state {
		return nil
	}

	id, _, err := c.splitChat(chatID)
	if err != nil {
		return err
	}

	commands := menuCommands(state)
	var scope telego.BotCommandScope
	if state.IsGroup {
		uid, _, uerr := c.splitChat(userID)
		if uerr != nil {
			return uerr
		}
		scope = &telego.BotCommandScopeChatMember{
			Type:   telego.ScopeTypeChatMember,
			ChatID: tu.ID(id),
			UserID: uid,
		}
	} else {
		scope = &telego.BotCommandScopeChat{
			Type:   telego.ScopeTypeChat,
			ChatID: tu.ID(id),
		}
	}

	if len(commands) == 0 {
		if err := c.bot.DeleteMyCommands(ctx, &telego.DeleteMyCommandsParams{Scope: scope}); err != nil {
			return fmt.Errorf("delete command menu: %w", err)
		}
	} else {
		if err := c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
			Commands: commands,
			Scope:    scope,
		}); err != nil {
			return fmt.Errorf("set command menu: %w", err)
		}
	}
	c.menus.Store(cacheKey, state)
	return nil
}

func menuCommands(state channel.MenuState) []telego.BotCommand {
	if !state.Paired {
		return []telego.BotCommand{
			{Command: "pair", Description: "Pair this account with a code"},
			{Command: "help", Description: "Show available commands"},
		}
	}
	if state.IsGroup && !state.IsLinkedGroup {
		return []telego.BotCommand{
			{Command: "link", Description: "Link this group to the bridge"},
			{Command: "help", Description: "Show available commands"},
		}
	}

	cmds := []telego.BotCommand{
		{Command: "sessions", Description: "List running sessions"},
		{Command: "attach", Description: "Attach this chat to a session"},
		{Command: "resume", Description: "Resume a past session"},
		{Command: "help", Description: "Show available commands"},
	}
	if state.ActiveSession {
		cmds = append([]telego.BotCommand{
			{Command: "stop", Description: "Interrupt the current turn"},
			{Command: "kill", Description: "Kill the session"},
			{Command: "restart", Description: "Restart with resume"},
			{Command: "files", Description: "Mention repo files"},
			{Command: "output_mode", Description: "Simple or verbose output"},
			{Command: "thinking", Description: "Toggle reasoning output"},
			{Command: "background_jobs", Description: "Show background jobs"},
			{Command: "detach", Description: "Detach this chat"},
		}, cmds...)
	}
	if state.IsGroup {
		cmds = append(cmds, telego.BotCommand{Command: "unlink", Description: "Unlink this group"})
	}
	return cmds
}
