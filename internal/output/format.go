// Package output turns normalized transcript events into chat messages:
// formatting per output mode, batching, typing control, fan-out to the bound
// chat and subscribed groups, and the background-job status board.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// maxLabelWidth caps picker/poll option labels. Labels at exactly the cap
// pass through; longer ones get a single ellipsis.
const maxLabelWidth = 100

// TruncateLabel shortens an option label to the display-width cap.
func TruncateLabel(s string) string {
	if runewidth.StringWidth(s) <= maxLabelWidth {
		return s
	}
	return runewidth.Truncate(s, maxLabelWidth, "…")
}

// Tool calls suppressed entirely in simple mode.
var simpleSuppressedCalls = map[string]bool{
	"Bash":         true,
	"bash":         true,
	"exec_command": true,
	"write_stdin":  true,
	"read_stdin":   true,
}

// Tool results forwarded in simple mode (besides errors).
var simpleForwardedResults = map[string]bool{
	"WebSearch":  true,
	"WebFetch":   true,
	"web_search": true,
	"web_fetch":  true,
}

var toolIcons = map[string]string{
	"Edit":      "✏️",
	"Write":     "📝",
	"Read":      "📖",
	"Bash":      "💻",
	"bash":      "💻",
	"WebSearch": "🔎",
	"WebFetch":  "🌐",
	"Task":      "🤖",
	"Grep":      "🔍",
	"Glob":      "🗂",
}

func toolIcon(name string) string {
	if icon, ok := toolIcons[name]; ok {
		return icon
	}
	return "🔧"
}

// Formatter renders events for one chat in its channel markup.
type Formatter struct {
	fmt     channel.Formatter
	verbose bool
}

// NewFormatter builds a per-chat event formatter. verbose selects the full
// rendition; the default is compact.
func NewFormatter(f channel.Formatter, verbose bool) *Formatter {
	return &Formatter{fmt: f, verbose: verbose}
}

// Assistant renders assistant prose.
func (r *Formatter) Assistant(text string) string {
	return r.fmt.FromMarkdown(text)
}

// Thinking renders reasoning as quoted italics.
func (r *Formatter) Thinking(text string) string {
	return "💭 " + r.fmt.Italic(firstLines(text, 12))
}

// ToolCall renders a call, or returns "" when the mode suppresses it.
func (r *Formatter) ToolCall(tc transcript.ToolCall) string {
	if !r.verbose {
		if simpleSuppressedCalls[tc.Name] {
			return ""
		}
		return r.compactCall(tc)
	}
	return r.verboseCall(tc)
}

// ToolResult renders a result, or "" when the mode suppresses it.
func (r *Formatter) ToolResult(tr transcript.ToolResult) string {
	if !r.verbose && !tr.IsError && !simpleForwardedResults[tr.Name] {
		return ""
	}
	var b strings.Builder
	if tr.IsError {
		b.WriteString("⚠️ ")
		b.WriteString(r.fmt.Bold(tr.Name))
	} else {
		b.WriteString(toolIcon(tr.Name))
		b.WriteByte(' ')
		b.WriteString(r.fmt.Bold(tr.Name))
	}
	text := strings.TrimSpace(tr.Text)
	if text != "" {
		limit := 8
		if r.verbose {
			limit = 25
		}
		b.WriteByte('\n')
		b.WriteString(r.fmt.Pre(firstLines(text, limit)))
	}
	for _, u := range tr.URLs {
		b.WriteByte('\n')
		b.WriteString(r.fmt.Link(u, u))
	}
	return b.String()
}

// Job renders a background-job transition line.
func (r *Formatter) Job(j session.BackgroundJob) string {
	icon := map[string]string{
		transcript.JobRunning:   "▶️",
		transcript.JobCompleted: "✅",
		transcript.JobFailed:    "❌",
		transcript.JobKilled:    "⏹",
	}[j.Status]
	if icon == "" {
		icon = "•"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", icon, r.fmt.Bold(j.Status), r.fmt.Code(j.TaskID))
	if j.Command != "" {
		b.WriteByte('\n')
		b.WriteString(r.fmt.Code(firstLines(j.Command, 1)))
	}
	for _, u := range j.URLs {
		b.WriteByte('\n')
		b.WriteString(r.fmt.Link(u, u))
	}
	return b.String()
}

func (r *Formatter) compactCall(tc transcript.ToolCall) string {
	subject := callSubject(tc)
	if subject == "" {
		return toolIcon(tc.Name) + " " + r.fmt.Bold(tc.Name)
	}
	return toolIcon(tc.Name) + " " + r.fmt.Code(subject)
}

func (r *Formatter) verboseCall(tc transcript.ToolCall) string {
	var b strings.Builder
	b.WriteString(toolIcon(tc.Name))
	b.WriteByte(' ')
	b.WriteString(r.fmt.Bold(tc.Name))

	var in map[string]json.RawMessage
	if json.Unmarshal(tc.Input, &in) != nil {
		return b.String()
	}
	if cmd := rawString(in["command"]); cmd != "" {
		b.WriteByte('\n')
		b.WriteString(r.fmt.Pre(firstLines(cmd, 5)))
		return b.String()
	}
	if path := pathFromInput(in); path != "" {
		b.WriteByte(' ')
		b.WriteString(r.fmt.Code(path))
	}
	// truncated diff preview for edits
	oldS, newS := rawString(in["old_string"]), rawString(in["new_string"])
	if oldS != "" || newS != "" {
		var diff strings.Builder
		for _, line := range strings.SplitN(oldS, "\n", 6) {
			diff.WriteString("- " + line + "\n")
		}
		for _, line := range strings.SplitN(newS, "\n", 6) {
			diff.WriteString("+ " + line + "\n")
		}
		b.WriteByte('\n')
		b.WriteString(r.fmt.Pre(firstLines(strings.TrimRight(diff.String(), "\n"), 12)))
	} else if content := rawString(in["content"]); content != "" {
		b.WriteByte('\n')
		b.WriteString(r.fmt.Pre(firstLines(content, 10)))
	}
	return b.String()
}

// callSubject extracts the one-liner subject of a compact call rendition:
// the file path, pattern, URL, or query being operated on.
func callSubject(tc transcript.ToolCall) string {
	var in map[string]json.RawMessage
	if json.Unmarshal(tc.Input, &in) != nil {
		return ""
	}
	for _, key := range []string{"file_path", "path", "url", "query", "pattern", "description"} {
		if v := rawString(in[key]); v != "" {
			return firstLines(v, 1)
		}
	}
	return ""
}

func pathFromInput(in map[string]json.RawMessage) string {
	for _, key := range []string{"file_path", "path"} {
		if v := rawString(in[key]); v != "" {
			return v
		}
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

// firstLines keeps up to n lines, marking elision.
func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n…"
}
