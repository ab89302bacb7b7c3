package wrapper

import (
	"context"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/session"
)

// Terminal key sequences written to the PTY.
const (
	keyDown  = "\x1b[B"
	keyEnter = "\r"
	keyCtrlC = "\x03"

	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// interKeyDelay paces synthesized keypresses so TUI selection widgets keep
// up; a burst of Downs in one write gets coalesced by some frameworks.
const interKeyDelay = 30 * time.Millisecond

// writeInputLine turns one queued daemon line into PTY writes: poll
// sentinels become keypresses, everything else becomes a bracketed paste.
func writeInputLine(w io.Writer, line string) error {
	if indexes, multi, ok := session.ParsePollSentinel(line); ok {
		return writePollKeys(w, indexes, multi)
	}
	if pos, _, ok := session.ParsePollNext(line); ok {
		return writeKeys(w, append(repeatKeys(keyDown, pos), keyEnter))
	}
	switch line {
	case session.PollSubmit:
		return writeKeys(w, []string{keyEnter})
	case session.PollOther:
		// the free-form text follows as its own line
		return nil
	}
	return writePaste(w, line)
}

// writePollKeys drives a selection widget. Single-select: move down to the
// option and confirm. Multi-select: toggle each option with Enter, leaving
// submission to a separate POLL_SUBMIT frame.
func writePollKeys(w io.Writer, indexes []int, multi bool) error {
	if len(indexes) == 0 {
		return nil
	}
	if !multi {
		return writeKeys(w, append(repeatKeys(keyDown, indexes[0]), keyEnter))
	}
	sorted := append([]int(nil), indexes...)
	sort.Ints(sorted)
	var keys []string
	pos := 0
	for _, idx := range sorted {
		keys = append(keys, repeatKeys(keyDown, idx-pos)...)
		keys = append(keys, keyEnter)
		pos = idx
	}
	return writeKeys(w, keys)
}

// writePaste wraps text in a bracketed-paste sequence and presses Enter
// twice: multi-line editors treat the first Enter as a newline.
func writePaste(w io.Writer, text string) error {
	if _, err := io.WriteString(w, pasteStart+sanitizePaste(text)+pasteEnd); err != nil {
		return err
	}
	time.Sleep(interKeyDelay)
	if _, err := io.WriteString(w, keyEnter); err != nil {
		return err
	}
	time.Sleep(interKeyDelay)
	_, err := io.WriteString(w, keyEnter)
	return err
}

func writeKeys(w io.Writer, keys []string) error {
	for i, k := range keys {
		if i > 0 {
			time.Sleep(interKeyDelay)
		}
		if _, err := io.WriteString(w, k); err != nil {
			return err
		}
	}
	return nil
}

func repeatKeys(key string, n int) []string {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, key)
	}
	return keys
}

// pasteControlRe strips escape sequences and C0 controls (except newline and
// tab) so pasted chat text cannot smuggle key sequences into the TUI.
var pasteControlRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z~]|\x1b.|[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

func sanitizePaste(text string) string {
	text = pasteControlRe.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// controlOutcome tells the outer run loop what a control action decided.
type controlOutcome struct {
	killed    bool
	resumeRef string
}

// applyControl executes a control action against the PTY and tool process.
func (r *Runner) applyControl(ctx context.Context, action *session.ControlAction, ptmx io.Writer, signalTool func(kill bool)) *controlOutcome {
	switch action.Kind {
	case session.ControlStop:
		_, _ = io.WriteString(ptmx, keyCtrlC)
		return nil
	case session.ControlKill:
		_, _ = io.WriteString(ptmx, keyCtrlC)
		signalTool(false)
		select {
		case <-ctx.Done():
		case <-time.After(1500 * time.Millisecond):
		}
		signalTool(true)
		return &controlOutcome{killed: true}
	case session.ControlResume:
		signalTool(true)
		return &controlOutcome{killed: true, resumeRef: action.SessionRef}
	}
	return nil
}
