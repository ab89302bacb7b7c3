package transcript

import (
	"encoding/json"
	"strings"
)

// PI session logs wrap each record as {type:"message", message:{role, ...}}.

type piMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

type piBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (p *Parser) parsePIMessage(env envelope, ev *Event) {
	var msg piMessage
	if env.Message == nil || json.Unmarshal(env.Message, &msg) != nil {
		return
	}

	switch msg.Role {
	case "assistant":
		p.parsePIAssistant(msg, ev)
	case "toolResult":
		p.parsePIToolResult(msg, ev)
	}
}

func (p *Parser) parsePIAssistant(msg piMessage, ev *Event) {
	var blocks []piBlock
	if msg.Content == nil {
		return
	}
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		var s string
		if json.Unmarshal(msg.Content, &s) == nil {
			ev.AssistantText = s
		}
		return
	}

	var text, thinking []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				text = append(text, b.Text)
			}
		case "thinking":
			if b.Thinking != "" {
				thinking = append(thinking, b.Thinking)
			}
		case "toolCall", "tool_use":
			input := b.Arguments
			if input == nil {
				input = b.Input
			}
			p.rememberCall(b.ID, b.Name, input)
			if b.Name == "AskUserQuestion" {
				ev.Questions = append(ev.Questions, liftQuestions(input)...)
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	ev.AssistantText = strings.Join(text, "\n\n")
	ev.Thinking = strings.Join(thinking, "\n\n")
}

func (p *Parser) parsePIToolResult(msg piMessage, ev *Event) {
	text := flattenBlockContent(msg.Content)
	name := msg.ToolName
	input := json.RawMessage(nil)
	if name == "" {
		name, input = p.lookupCall(msg.ToolCallID)
	} else {
		_, input = p.lookupCall(msg.ToolCallID)
	}

	if msg.IsError && strings.Contains(text, deniedResultText) {
		return
	}
	if !ResultForwardable(name, msg.IsError) {
		return
	}
	urls := firstURLs(extractURLs(text), sniffCommandURLs(commandFromInput(input)))
	ev.ToolResults = append(ev.ToolResults, ToolResult{
		ToolUseID: msg.ToolCallID,
		Name:      name,
		Input:     input,
		Text:      text,
		IsError:   msg.IsError,
		URLs:      urls,
	})
}
