package transcript

import (
	"encoding/json"
	"strings"
)

// Kimi's wire.jsonl streams the conversation as fine-grained parts. Text and
// reasoning arrive as fragments that must be accumulated and flushed at step
// boundaries.

type kimiMsg struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Think      string          `json:"think,omitempty"`
	ID         string          `json:"id,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Function   struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
	ReturnValue json.RawMessage `json:"return_value,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

func (p *Parser) parseKimi(msgType string, raw []byte, ev *Event) {
	var msg kimiMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	msg.Type = msgType

	switch msg.Type {
	case "TextPart":
		p.kimiAssistant.WriteString(msg.Text)

	case "ThinkPart":
		if msg.Think != "" {
			p.kimiThinking.WriteString(msg.Think)
		} else {
			p.kimiThinking.WriteString(msg.Text)
		}

	case "ContentPart":
		p.kimiAssistant.WriteString(flattenBlockContent(msg.Content))

	case "ToolCall":
		p.flushKimi(ev)
		p.rememberCall(msg.ID, msg.Function.Name, msg.Function.Arguments)
		if msg.Function.Name == "AskUserQuestion" {
			ev.Questions = append(ev.Questions, liftQuestions(msg.Function.Arguments)...)
			return
		}
		ev.ToolCalls = append(ev.ToolCalls, ToolCall{
			ID:    msg.ID,
			Name:  msg.Function.Name,
			Input: msg.Function.Arguments,
		})

	case "ToolResult":
		p.flushKimi(ev)
		p.parseKimiToolResult(msg, ev)

	case "StepBegin", "StepInterrupted", "TurnBegin":
		p.flushKimi(ev)
	}
}

// flushKimi emits accumulated assistant/thinking fragments into the event.
func (p *Parser) flushKimi(ev *Event) {
	if s := strings.TrimSpace(p.kimiAssistant.String()); s != "" {
		if ev.AssistantText != "" {
			ev.AssistantText += "\n\n" + s
		} else {
			ev.AssistantText = s
		}
	}
	p.kimiAssistant.Reset()
	if s := strings.TrimSpace(p.kimiThinking.String()); s != "" {
		if ev.Thinking != "" {
			ev.Thinking += "\n\n" + s
		} else {
			ev.Thinking = s
		}
	}
	p.kimiThinking.Reset()
}

type kimiReturnValue struct {
	Message string          `json:"message,omitempty"`
	Output  string          `json:"output,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

func (p *Parser) parseKimiToolResult(msg kimiMsg, ev *Event) {
	var rv kimiReturnValue
	if msg.ReturnValue != nil {
		if json.Unmarshal(msg.ReturnValue, &rv) != nil {
			var s string
			if json.Unmarshal(msg.ReturnValue, &s) == nil {
				rv.Message = s
			}
		}
	}

	text := rv.Message
	if text == "" {
		text = rv.Output
	}
	if text == "" {
		text = flattenBlockContent(rv.Content)
	}

	name, input := p.lookupCall(msg.ToolCallID)

	// Kimi reports background jobs through the same phrasing as Claude.
	p.claudeBackgroundJobs(rv.Message, claudeToolUseResult{}, ev)

	if rv.IsError && strings.Contains(text, deniedResultText) {
		return
	}
	if !ResultForwardable(name, rv.IsError) {
		return
	}
	urls := firstURLs(extractURLs(text), sniffCommandURLs(commandFromInput(input)))
	ev.ToolResults = append(ev.ToolResults, ToolResult{
		ToolUseID: msg.ToolCallID,
		Name:      name,
		Input:     input,
		Text:      text,
		IsError:   rv.IsError,
		URLs:      urls,
	})
}
