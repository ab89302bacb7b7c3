package transcript

import (
	"encoding/json"
	"strings"
)

// stateCap bounds each of the parser's cross-line maps. Oldest entries are
// evicted first (insertion order).
const stateCap = 200

// Parser is a stateful, dialect-aware JSONL parser. One Parser serves one
// session transcript; it is not safe for concurrent use.
type Parser struct {
	toolName  *lruMap // tool-use id → tool name
	toolInput *lruMap // tool-use id → raw input JSON

	// codex background sessions: numeric session id → command line.
	codexSessionCmd *lruMap

	// kimi accumulates text fragments across wire messages and flushes them
	// at step boundaries.
	kimiAssistant strings.Builder
	kimiThinking  strings.Builder
}

// NewParser returns a parser with empty state.
func NewParser() *Parser {
	return &Parser{
		toolName:        newLRUMap(stateCap),
		toolInput:       newLRUMap(stateCap),
		codexSessionCmd: newLRUMap(stateCap),
	}
}

// envelope covers the discriminating fields of every dialect. Unknown fields
// are ignored; a line that fits none of the dialects yields an empty event.
type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Message   json.RawMessage `json:"message"`
	Payload   json.RawMessage `json:"payload"`

	// Claude user lines carry the structured tool result here.
	ToolUseResult json.RawMessage `json:"toolUseResult"`

	// Claude queue-operation lines.
	Operation string `json:"operation"`
	Content   string `json:"content"`
}

// ParseLine decodes one transcript line. A malformed line returns an error;
// the caller drops it and continues (protocol errors never stop the tail).
func (p *Parser) ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Event{}, err
	}

	ev := Event{SessionID: env.SessionID}
	switch env.Type {
	case "assistant":
		p.parseClaudeAssistant(env, &ev)
	case "user":
		p.parseClaudeUser(env, &ev)
	case "queue-operation":
		p.parseClaudeQueue(env, &ev)
	case "event_msg":
		p.parseCodexEvent(env, &ev)
	case "response_item":
		p.parseCodexResponseItem(env, &ev)
	case "message":
		p.parsePIMessage(env, &ev)
	case "TextPart", "ThinkPart", "ContentPart", "ToolCall", "ToolResult",
		"StepBegin", "StepInterrupted", "TurnBegin":
		p.parseKimi(env.Type, []byte(line), &ev)
	default:
		// Kimi wire logs sometimes nest the typed message one level down.
		if env.Message != nil {
			var inner struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(env.Message, &inner) == nil && isKimiType(inner.Type) {
				p.parseKimi(inner.Type, env.Message, &ev)
			}
		}
	}
	return ev, nil
}

func isKimiType(t string) bool {
	switch t {
	case "TextPart", "ThinkPart", "ContentPart", "ToolCall", "ToolResult",
		"StepBegin", "StepInterrupted", "TurnBegin":
		return true
	}
	return false
}

// rememberCall records a tool call so later results can be labelled.
func (p *Parser) rememberCall(id, name string, input json.RawMessage) {
	if id == "" {
		return
	}
	p.toolName.put(id, name)
	if input != nil {
		p.toolInput.put(id, string(input))
	}
}

// lookupCall resolves a tool-use id to its name and input.
func (p *Parser) lookupCall(id string) (name string, input json.RawMessage) {
	if v, ok := p.toolName.get(id); ok {
		name = v
	}
	if v, ok := p.toolInput.get(id); ok {
		input = json.RawMessage(v)
	}
	return name, input
}

// lruMap is a string map bounded by insertion order.
type lruMap struct {
	cap   int
	m     map[string]string
	order []string
}

func newLRUMap(capacity int) *lruMap {
	return &lruMap{cap: capacity, m: make(map[string]string, capacity)}
}

func (l *lruMap) put(k, v string) {
	if _, exists := l.m[k]; !exists {
		l.order = append(l.order, k)
		if len(l.order) > l.cap {
			evict := l.order[0]
			l.order = l.order[1:]
			delete(l.m, evict)
		}
	}
	l.m[k] = v
}

func (l *lruMap) get(k string) (string, bool) {
	v, ok := l.m[k]
	return v, ok
}

func (l *lruMap) delete(k string) {
	if _, ok := l.m[k]; !ok {
		return
	}
	delete(l.m, k)
	for i, key := range l.order {
		if key == k {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *lruMap) len() int { return len(l.m) }
