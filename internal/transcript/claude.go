package transcript

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Claude content blocks inside message.content.
type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

// askUserQuestionInput is the input shape of Claude's AskUserQuestion tool.
type askUserQuestionInput struct {
	Questions []struct {
		Question    string `json:"question"`
		Header      string `json:"header,omitempty"`
		MultiSelect bool   `json:"multiSelect,omitempty"`
		Options     []struct {
			Label string `json:"label"`
		} `json:"options,omitempty"`
	} `json:"questions"`
}

var (
	reBackgroundStart = regexp.MustCompile(`Command running in background with ID:\s*(\S+)`)
	reStoppedTask     = regexp.MustCompile(`Successfully stopped task:\s*(\S+)(?:\s*\((.+)\))?`)
	reKilledWords     = regexp.MustCompile(`(?i)(stopped|killed|terminated|cancelled) task`)

	reTaskID      = regexp.MustCompile(`<task-id>([^<]*)</task-id>`)
	reTaskStatus  = regexp.MustCompile(`<status>([^<]*)</status>`)
	reTaskCommand = regexp.MustCompile(`(?s)<command>(.*?)</command>`)
)

// claudeToolUseResult is the structured sibling of a tool_result block.
type claudeToolUseResult struct {
	BackgroundTaskID string `json:"backgroundTaskId,omitempty"`
	Message          string `json:"message,omitempty"`
	Command          string `json:"command,omitempty"`
}

func (p *Parser) parseClaudeAssistant(env envelope, ev *Event) {
	var msg claudeMessage
	if env.Message == nil || json.Unmarshal(env.Message, &msg) != nil {
		return
	}
	var text, thinking []string
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			if b.Text != "" {
				text = append(text, b.Text)
			}
		case "thinking":
			if b.Thinking != "" {
				thinking = append(thinking, b.Thinking)
			}
		case "tool_use":
			p.rememberCall(b.ID, b.Name, b.Input)
			if b.Name == "AskUserQuestion" {
				ev.Questions = append(ev.Questions, liftQuestions(b.Input)...)
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	ev.AssistantText = strings.Join(text, "\n\n")
	ev.Thinking = strings.Join(thinking, "\n\n")
}

func (p *Parser) parseClaudeUser(env envelope, ev *Event) {
	var msg claudeMessage
	if env.Message == nil || json.Unmarshal(env.Message, &msg) != nil {
		return
	}

	var structured claudeToolUseResult
	if env.ToolUseResult != nil {
		_ = json.Unmarshal(env.ToolUseResult, &structured)
	}

	for _, b := range msg.Content {
		if b.Type != "tool_result" {
			continue
		}
		text := flattenBlockContent(b.Content)
		name, input := p.lookupCall(b.ToolUseID)

		p.claudeBackgroundJobs(text, structured, ev)

		if b.IsError && strings.Contains(text, deniedResultText) {
			continue
		}
		if !ResultForwardable(name, b.IsError) {
			continue
		}
		urls := firstURLs(extractURLs(text), sniffCommandURLs(commandFromInput(input)))
		ev.ToolResults = append(ev.ToolResults, ToolResult{
			ToolUseID: b.ToolUseID,
			Name:      name,
			Input:     input,
			Text:      text,
			IsError:   b.IsError,
			URLs:      urls,
		})
	}
}

// claudeBackgroundJobs derives job lifecycle events from result text and the
// structured toolUseResult sibling.
func (p *Parser) claudeBackgroundJobs(text string, structured claudeToolUseResult, ev *Event) {
	if m := reBackgroundStart.FindStringSubmatch(text); m != nil {
		id := m[1]
		if structured.BackgroundTaskID != "" {
			id = structured.BackgroundTaskID
		}
		ev.Jobs = append(ev.Jobs, JobEvent{TaskID: id, Status: JobRunning, Command: structured.Command})
		return
	}
	if structured.BackgroundTaskID != "" && reBackgroundStart.MatchString(structured.Message) {
		ev.Jobs = append(ev.Jobs, JobEvent{TaskID: structured.BackgroundTaskID, Status: JobRunning, Command: structured.Command})
		return
	}
	if m := reStoppedTask.FindStringSubmatch(text); m != nil {
		ev.Jobs = append(ev.Jobs, JobEvent{TaskID: m[1], Status: JobKilled, Command: m[2]})
		return
	}
	if structured.Message != "" && reKilledWords.MatchString(structured.Message) {
		id := structured.BackgroundTaskID
		if m := reStoppedTask.FindStringSubmatch(structured.Message); m != nil && id == "" {
			id = m[1]
		}
		if id != "" {
			ev.Jobs = append(ev.Jobs, JobEvent{TaskID: id, Status: JobKilled, Command: structured.Command})
		}
	}
}

// parseClaudeQueue handles queue-operation lines whose content embeds a
// <task-notification> XML fragment describing a background job transition.
func (p *Parser) parseClaudeQueue(env envelope, ev *Event) {
	content := env.Content
	if !strings.Contains(content, "<task-notification>") {
		return
	}
	job := JobEvent{}
	if m := reTaskID.FindStringSubmatch(content); m != nil {
		job.TaskID = strings.TrimSpace(m[1])
	}
	if m := reTaskStatus.FindStringSubmatch(content); m != nil {
		job.Status = normalizeJobStatus(strings.TrimSpace(m[1]))
	}
	if m := reTaskCommand.FindStringSubmatch(content); m != nil {
		job.Command = strings.TrimSpace(m[1])
	}
	if job.TaskID == "" || job.Status == "" {
		return
	}
	job.URLs = firstURLs(nil, sniffCommandURLs(job.Command))
	ev.Jobs = append(ev.Jobs, job)
}

func normalizeJobStatus(s string) string {
	switch strings.ToLower(s) {
	case "running", "started":
		return JobRunning
	case "completed", "success", "succeeded":
		return JobCompleted
	case "failed", "error":
		return JobFailed
	case "killed", "stopped", "terminated", "cancelled":
		return JobKilled
	}
	return ""
}

// liftQuestions converts AskUserQuestion input into normalized questions.
func liftQuestions(input json.RawMessage) []Question {
	var in askUserQuestionInput
	if input == nil || json.Unmarshal(input, &in) != nil {
		return nil
	}
	out := make([]Question, 0, len(in.Questions))
	for _, q := range in.Questions {
		nq := Question{Header: q.Header, Question: q.Question, MultiSelect: q.MultiSelect}
		for _, o := range q.Options {
			nq.Options = append(nq.Options, o.Label)
		}
		out = append(out, nq)
	}
	return out
}

// flattenBlockContent renders a tool_result content field, which is either a
// bare string or an array of {type:"text"} blocks.
func flattenBlockContent(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var blocks []claudeBlock
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// commandFromInput pulls the command string out of a Bash-like tool input.
func commandFromInput(input json.RawMessage) string {
	if input == nil {
		return ""
	}
	var in struct {
		Command string `json:"command"`
		Cmd     string `json:"cmd"`
	}
	if json.Unmarshal(input, &in) != nil {
		return ""
	}
	if in.Command != "" {
		return in.Command
	}
	return in.Cmd
}
