// Package address parses and formats the colon-delimited channel addresses
// used to identify chat endpoints and paired users.
//
// Forms:
//
//	telegram:123456                 bare account, DM or group id
//	telegram:work:123456            named account "work"
//	telegram:-1001234:55            group with forum topic 55
//	telegram:work:-1001234:55       named account, group topic
//
// The second segment is a channel name when it is not numeric.
package address

import (
	"fmt"
	"strconv"
	"strings"
)

// Known channel types.
const (
	TypeTelegram = "telegram"
	TypeSlack    = "slack"
	TypeInternal = "internal"
)

// Address is a parsed channel address. ChatID and UserID values share this
// representation; a UserID never carries a Thread.
type Address struct {
	Type        string
	ChannelName string // named account, empty for the bare account
	ID          string
	Thread      string // forum topic / thread id, empty when absent
}

// Parse splits a colon-delimited address into its parts.
func Parse(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || parts[0] == "" {
		return Address{}, fmt.Errorf("invalid channel address %q", s)
	}
	a := Address{Type: parts[0]}
	rest := parts[1:]

	// A non-numeric second segment names the account.
	if !isNumeric(rest[0]) {
		if len(rest) < 2 {
			return Address{}, fmt.Errorf("invalid channel address %q: missing id", s)
		}
		a.ChannelName = rest[0]
		rest = rest[1:]
	}

	a.ID = rest[0]
	if a.ID == "" {
		return Address{}, fmt.Errorf("invalid channel address %q: empty id", s)
	}
	switch len(rest) {
	case 1:
	case 2:
		if rest[1] == "" {
			return Address{}, fmt.Errorf("invalid channel address %q: empty thread", s)
		}
		a.Thread = rest[1]
	default:
		return Address{}, fmt.Errorf("invalid channel address %q: too many segments", s)
	}
	return a, nil
}

// String reassembles the address into its canonical form.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(a.Type)
	if a.ChannelName != "" {
		b.WriteByte(':')
		b.WriteString(a.ChannelName)
	}
	b.WriteByte(':')
	b.WriteString(a.ID)
	if a.Thread != "" {
		b.WriteByte(':')
		b.WriteString(a.Thread)
	}
	return b.String()
}

// IsGroup reports whether the address points at a group or supergroup.
// Telegram group ids are negative; other channel types follow the same
// convention through the adapter's normalization.
func (a Address) IsGroup() bool {
	return strings.HasPrefix(a.ID, "-")
}

// IsDM reports whether the address is a direct-message endpoint.
func (a Address) IsDM() bool {
	return !a.IsGroup() && a.Thread == ""
}

// Parent returns the address with any thread suffix stripped.
func (a Address) Parent() Address {
	a.Thread = ""
	return a
}

// ParentChatID strips the thread suffix from a serialized chat id.
// Invalid input is returned unchanged.
func ParentChatID(chatID string) string {
	a, err := Parse(chatID)
	if err != nil {
		return chatID
	}
	return a.Parent().String()
}

// IsGroupChat reports whether a serialized chat id is a group or topic.
func IsGroupChat(chatID string) bool {
	a, err := Parse(chatID)
	if err != nil {
		return false
	}
	return a.IsGroup() || a.Thread != ""
}

// Make builds a serialized chat id from parts. Thread may be empty.
func Make(chanType, channelName, id, thread string) string {
	return Address{Type: chanType, ChannelName: channelName, ID: id, Thread: thread}.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
