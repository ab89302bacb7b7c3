package transcript

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Codex rollout files wrap every record in {type, payload}.

type codexEventMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

type codexResponseItem struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Input     string          `json:"input,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

var (
	reCodexSessionStart = regexp.MustCompile(`Process running with session ID\s+(\d+)`)
	reCodexExited       = regexp.MustCompile(`Process exited with code\s+(-?\d+)`)
	reCodexGone         = regexp.MustCompile(`stdin is closed|session not found`)
	reCodexSessionArg   = regexp.MustCompile(`"session_id"\s*:\s*"?(\d+)"?`)
)

func (p *Parser) parseCodexEvent(env envelope, ev *Event) {
	var msg codexEventMsg
	if env.Payload == nil || json.Unmarshal(env.Payload, &msg) != nil {
		return
	}
	text := msg.Message
	if text == "" {
		text = msg.Text
	}
	switch msg.Type {
	case "agent_message":
		ev.AssistantText = text
	case "agent_reasoning":
		ev.Thinking = text
	}
}

func (p *Parser) parseCodexResponseItem(env envelope, ev *Event) {
	var item codexResponseItem
	if env.Payload == nil || json.Unmarshal(env.Payload, &item) != nil {
		return
	}

	switch item.Type {
	case "function_call", "custom_tool_call":
		args := item.Arguments
		if args == "" {
			args = item.Input
		}
		var input json.RawMessage
		if args != "" {
			if json.Valid([]byte(args)) {
				input = json.RawMessage(args)
			} else {
				quoted, _ := json.Marshal(args)
				input = json.RawMessage(quoted)
			}
		}
		p.rememberCall(item.CallID, item.Name, input)
		ev.ToolCalls = append(ev.ToolCalls, ToolCall{ID: item.CallID, Name: item.Name, Input: input})

	case "function_call_output", "custom_tool_call_output":
		text := codexOutputText(item.Output)
		name, input := p.lookupCall(item.CallID)
		p.codexBackgroundJobs(name, input, text, ev)
		if !ResultForwardable(name, false) {
			return
		}
		urls := firstURLs(extractURLs(text), sniffCommandURLs(commandFromInput(input)))
		ev.ToolResults = append(ev.ToolResults, ToolResult{
			ToolUseID: item.CallID,
			Name:      name,
			Input:     input,
			Text:      text,
			URLs:      urls,
		})

	case "message":
		if item.Role == "assistant" {
			ev.AssistantText = flattenCodexContent(item.Content)
		}
	}
}

// codexBackgroundJobs tracks exec_command background sessions. The start
// record carries the command; exit records often truncate it, so the command
// is cached by session id and re-attached on exit.
func (p *Parser) codexBackgroundJobs(name string, input json.RawMessage, text string, ev *Event) {
	if name != "exec_command" && name != "write_stdin" {
		return
	}

	if m := reCodexSessionStart.FindStringSubmatch(text); m != nil {
		id := m[1]
		cmd := commandFromInput(input)
		p.codexSessionCmd.put(id, cmd)
		ev.Jobs = append(ev.Jobs, JobEvent{
			TaskID:  id,
			Status:  JobRunning,
			Command: cmd,
			URLs:    firstURLs(nil, sniffCommandURLs(cmd)),
		})
		return
	}

	id := codexSessionFromInput(input)
	if m := reCodexExited.FindStringSubmatch(text); m != nil {
		status := JobCompleted
		if m[1] != "0" {
			status = JobFailed
		}
		cmd, _ := p.codexSessionCmd.get(id)
		ev.Jobs = append(ev.Jobs, JobEvent{TaskID: id, Status: status, Command: cmd})
		p.codexSessionCmd.delete(id)
		return
	}
	if reCodexGone.MatchString(text) && id != "" {
		cmd, _ := p.codexSessionCmd.get(id)
		ev.Jobs = append(ev.Jobs, JobEvent{TaskID: id, Status: JobKilled, Command: cmd})
		p.codexSessionCmd.delete(id)
	}
}

// codexSessionFromInput extracts the numeric background session id targeted
// by an exec_command/write_stdin call.
func codexSessionFromInput(input json.RawMessage) string {
	if input == nil {
		return ""
	}
	var in struct {
		SessionID json.Number `json:"session_id"`
	}
	if json.Unmarshal(input, &in) == nil && in.SessionID.String() != "" {
		return in.SessionID.String()
	}
	if m := reCodexSessionArg.FindStringSubmatch(string(input)); m != nil {
		return m[1]
	}
	return ""
}

// codexOutputText renders an output field that is either a JSON string, an
// {output: "..."} object, or a content-block array.
func codexOutputText(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		// The string itself may be a JSON envelope {"output": "..."}.
		var inner struct {
			Output string `json:"output"`
		}
		if json.Unmarshal([]byte(s), &inner) == nil && inner.Output != "" {
			return inner.Output
		}
		return s
	}
	var obj struct {
		Output string `json:"output"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Output != "" {
		return obj.Output
	}
	return flattenCodexContent(raw)
}

// flattenCodexContent joins output_text/text blocks from a content array.
func flattenCodexContent(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
