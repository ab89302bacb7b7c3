// Package transcript parses the append-only JSONL transcripts written by the
// wrapped tools (Claude, Codex, PI, Kimi) into one normalized event model.
// Each tool writes a different dialect; the parser fuses them so the rest of
// the system never sees tool-specific shapes.
package transcript

import "encoding/json"

// Background job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobKilled    = "killed"
)

// Event is the normalized result of parsing one transcript line. Any subset
// of the fields may be populated.
type Event struct {
	AssistantText string
	Thinking      string
	Questions     []Question
	ToolCalls     []ToolCall
	ToolResults   []ToolResult
	Jobs          []JobEvent

	// SessionID carries the tool's own session id when the line exposes one.
	// Claude emits rollover files mid-run; the tailer uses this to follow the
	// active session into the new file.
	SessionID string
}

// Empty reports whether the event carries nothing forwardable.
func (e *Event) Empty() bool {
	return e.AssistantText == "" && e.Thinking == "" &&
		len(e.Questions) == 0 && len(e.ToolCalls) == 0 &&
		len(e.ToolResults) == 0 && len(e.Jobs) == 0
}

// Question is one AskUserQuestion item lifted out of a tool call.
type Question struct {
	Header      string   `json:"header,omitempty"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

// ToolCall is a tool invocation by the assistant.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult is the outcome of a tool call, linked back to the call by id.
type ToolResult struct {
	ToolUseID string          `json:"toolUseId,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Text      string          `json:"text,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	URLs      []string        `json:"urls,omitempty"`
}

// JobEvent is a background-job lifecycle change reported in a transcript.
type JobEvent struct {
	TaskID  string   `json:"taskId"`
	Status  string   `json:"status"` // running|completed|failed|killed
	Command string   `json:"command,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// resultAllowlist names the tools whose non-error results are forwarded to
// chat. Everything else only surfaces on error.
var resultAllowlist = map[string]bool{
	"WebFetch":     true,
	"WebSearch":    true,
	"Bash":         true,
	"web_fetch":    true,
	"web_search":   true,
	"bash":         true,
	"exec_command": true,
	"Task":         true,
	"spawn_agent":  true,
	"send_input":   true,
	"wait":         true,
}

// ResultForwardable applies the uniform filtering rule for tool results.
func ResultForwardable(name string, isError bool) bool {
	return isError || resultAllowlist[name]
}

// deniedResultText duplicates the message the tool already printed on the
// local terminal; forwarding it to chat would double it up.
const deniedResultText = "The user doesn't want to proceed with this tool use"
