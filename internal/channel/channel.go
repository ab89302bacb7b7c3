// Package channel defines the capability surface between chat-platform
// adapters and the rest of the daemon. Adapters normalize inbound traffic to
// InboundMessage and expose outbound capabilities; callers degrade gracefully
// when a capability is missing.
package channel

import "context"

// InboundMessage is one normalized chat message from any adapter.
type InboundMessage struct {
	UserID     string   // paired-user address, e.g. telegram:12345
	ChatID     string   // chat address, e.g. telegram:-100987:42
	Username   string   // platform handle, if known
	Text       string   // message text with bot mentions stripped
	FileURLs   []string // local paths of downloaded attachments
	IsGroup    bool
	ChatTitle  string
	TopicTitle string
	ReplyToRef string // text of the replied-to message, if any
}

// PollAnswer reports a selection on a poll or inline keyboard.
type PollAnswer struct {
	PollID    string
	ChatID    string
	UserID    string
	OptionIDs []string
}

// PollOption is one selectable poll entry.
type PollOption struct {
	ID    string
	Label string
}

// PollHandle identifies a created poll for later answers and closing.
type PollHandle struct {
	PollID    string
	MessageID string
}

// BoardState is the result of a status-board upsert.
type BoardState struct {
	MessageID string `json:"messageId"`
	Pinned    bool   `json:"pinned"`
	PinError  string `json:"pinError,omitempty"`
}

// BoardOptions carries prior board state into an upsert.
type BoardOptions struct {
	Pin       bool
	MessageID string
	Pinned    bool
}

// ClearOptions carries prior board state into a clear.
type ClearOptions struct {
	Unpin     bool
	MessageID string
	Pinned    bool
}

// MenuState selects which slash-command menu a chat+user should see.
type MenuState struct {
	Paired        bool
	IsGroup       bool
	IsLinkedGroup bool
	ActiveSession bool
}

// VisibleChat is one chat the adapter can currently reach, for `tg channels`
// and the wrapper's --channel resolution.
type VisibleChat struct {
	ChatID  string `json:"chatId"`
	Title   string `json:"title"`
	IsGroup bool   `json:"isGroup"`
	IsTopic bool   `json:"isTopic"`
	Busy    bool   `json:"busy"`
}

// Formatter renders rich text in the adapter's markup.
type Formatter interface {
	Bold(s string) string
	Italic(s string) string
	Code(s string) string
	Pre(s string) string
	Link(text, url string) string
	Escape(s string) string
	FromMarkdown(s string) string
}

// Channel is the full adapter capability set. Optional capabilities are
// discovered with type assertions on the narrower interfaces below.
type Channel interface {
	// Name is the configured account name; Type is the platform kind.
	Name() string
	Type() string

	Formatter() Formatter

	Send(ctx context.Context, chatID, html string) error
	SendOutput(ctx context.Context, chatID, rawANSI string) error
	SendDocument(ctx context.Context, chatID, filePath, caption string) error

	SendPoll(ctx context.Context, chatID, question string, options []PollOption, multiSelect bool) (PollHandle, error)
	ClosePoll(ctx context.Context, chatID, messageID string) error

	UpsertStatusBoard(ctx context.Context, chatID, boardKey, html string, opts BoardOptions) (BoardState, error)
	ClearStatusBoard(ctx context.Context, chatID, boardKey string, opts ClearOptions) error

	SetTyping(chatID string, active bool)
	SyncCommandMenu(ctx context.Context, chatID, userID string, state MenuState) error

	VisibleChats(ctx context.Context) ([]VisibleChat, error)

	OnPollAnswer(fn func(PollAnswer))
	OnDeadChat(fn func(chatID string))

	StartReceiving(ctx context.Context, onMessage func(InboundMessage)) error
	StopReceiving()
}
