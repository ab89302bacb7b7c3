package wrapper

import (
	"fmt"
	"strings"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// PickChannel resolves a --channel spec against the daemon's visible chats.
// Resolution order: exact address, case-insensitive title substring (must be
// unique), the `dm` keyword for the owner DM, `none` for no binding at all.
// An empty spec defaults to the owner DM.
func PickChannel(chats []channel.VisibleChat, spec, ownerUserID string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "dm":
		if ownerUserID == "" {
			return "", fmt.Errorf("no paired user to bind a DM to")
		}
		return ownerUserID, nil
	case "none":
		return "", nil
	}

	for _, c := range chats {
		if c.ChatID == spec {
			return c.ChatID, nil
		}
	}

	needle := strings.ToLower(spec)
	var matches []channel.VisibleChat
	for _, c := range chats {
		if strings.Contains(strings.ToLower(c.Title), needle) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no chat matches %q; run `tg channels` to list them", spec)
	case 1:
		return matches[0].ChatID, nil
	default:
		titles := make([]string, len(matches))
		for i, m := range matches {
			titles[i] = m.Title
		}
		return "", fmt.Errorf("%q is ambiguous: %s", spec, strings.Join(titles, ", "))
	}
}
