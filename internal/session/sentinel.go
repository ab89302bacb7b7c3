package session

import (
	"fmt"
	"strconv"
	"strings"
)

// MakePollSentinel encodes an answer selection for the wrapper:
// POLL:<comma-separated option indexes>:<multi>.
func MakePollSentinel(indexes []int, multi bool) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = strconv.Itoa(idx)
	}
	return fmt.Sprintf("%s%s:%t", PollPrefix, strings.Join(parts, ","), multi)
}

// MakePollNext encodes navigation to the "Next" entry of a paged picker:
// POLL_NEXT:<position>:<count>.
func MakePollNext(pos, count int) string {
	return fmt.Sprintf("%s%d:%d", PollNextPrefix, pos, count)
}

// ParsePollSentinel decodes a POLL: frame. ok is false for other input.
func ParsePollSentinel(line string) (indexes []int, multi bool, ok bool) {
	if !strings.HasPrefix(line, PollPrefix) {
		return nil, false, false
	}
	body := strings.TrimPrefix(line, PollPrefix)
	i := strings.LastIndexByte(body, ':')
	if i < 0 {
		return nil, false, false
	}
	multi = body[i+1:] == "true"
	for _, p := range strings.Split(body[:i], ",") {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false, false
		}
		indexes = append(indexes, n)
	}
	return indexes, multi, true
}

// ParsePollNext decodes a POLL_NEXT: frame.
func ParsePollNext(line string) (pos, count int, ok bool) {
	if !strings.HasPrefix(line, PollNextPrefix) {
		return 0, 0, false
	}
	body := strings.TrimPrefix(line, PollNextPrefix)
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	pos, err1 := strconv.Atoi(parts[0])
	count, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return pos, count, true
}
