package telegram

import "strings"

// deadChatMarkers are the API error substrings that mean a chat can no
// longer receive messages. Anything else is treated as transient.
var deadChatMarkers = []string{
	"chat not found",
	"bot was blocked",
	"forbidden",
	"chat_write_forbidden",
	"not enough rights",
	"group chat was deactivated",
	"bot was kicked",
}

// isDeadChatErr reports whether an API error means the chat is unreachable
// for good.
func isDeadChatErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range deadChatMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isConflictErr detects the fatal "terminated by other getUpdates request"
// condition: another process polls the same token.
func isConflictErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") && strings.Contains(msg, "getupdates")
}

// isNotModifiedErr matches the edit no-op error Telegram returns when the
// new text equals the old.
func isNotModifiedErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// reportSendErr routes a send failure to the dead-chat sink when it matches
// the allowlist.
func (c *Channel) reportSendErr(chatID string, err error) {
	if err == nil {
		return
	}
	if isConflictErr(err) {
		c.stopFatal(err.Error())
		return
	}
	if isDeadChatErr(err) && c.onDeadChat != nil {
		c.onDeadChat(chatID)
	}
}
