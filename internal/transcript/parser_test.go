package transcript

import (
	"strings"
	"testing"
)

func parseAll(t *testing.T, p *Parser, lines ...string) []Event {
	t.Helper()
	var out []Event
	for _, l := range lines {
		ev, err := p.ParseLine(l)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", l, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestClaudeAssistantText(t *testing.T) {
	p := NewParser()
	ev, err := p.ParseLine(`{"type":"assistant","sessionId":"s-1","message":{"role":"assistant","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"hello"}]}}`)
	if err != nil {
		t.Fatal(err)
	}
	if ev.AssistantText != "hello" {
		t.Errorf("assistant text = %q", ev.AssistantText)
	}
	if ev.Thinking != "hmm" {
		t.Errorf("thinking = %q", ev.Thinking)
	}
	if ev.SessionID != "s-1" {
		t.Errorf("session id = %q", ev.SessionID)
	}
}

func TestClaudeToolCallAndResult(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"npm run dev --port 3000"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"serving at http://localhost:3000"}]}}`,
	)

	if len(evs[0].ToolCalls) != 1 || evs[0].ToolCalls[0].Name != "Bash" {
		t.Fatalf("tool calls: %+v", evs[0].ToolCalls)
	}
	if len(evs[1].ToolResults) != 1 {
		t.Fatalf("tool results: %+v", evs[1].ToolResults)
	}
	r := evs[1].ToolResults[0]
	if r.Name != "Bash" {
		t.Errorf("result not linked to call name: %q", r.Name)
	}
	if len(r.URLs) == 0 || r.URLs[0] != "http://localhost:3000" {
		t.Errorf("urls = %v", r.URLs)
	}
}

func TestClaudeResultAllowlist(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_2","name":"Read","input":{"file_path":"/tmp/x"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_2","content":"file contents"}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_2","content":"boom","is_error":true}]}}`,
	)
	if len(evs[1].ToolResults) != 0 {
		t.Error("Read result should be filtered")
	}
	if len(evs[2].ToolResults) != 1 || !evs[2].ToolResults[0].IsError {
		t.Error("error results always forward")
	}
}

func TestDeniedResultSuppressed(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_3","name":"Bash","input":{}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_3","content":"The user doesn't want to proceed with this tool use","is_error":true}]}}`,
	)
	if len(evs[1].ToolResults) != 0 {
		t.Error("denial duplicate should be suppressed")
	}
}

func TestAskUserQuestionLifted(t *testing.T) {
	p := NewParser()
	ev, _ := p.ParseLine(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_4","name":"AskUserQuestion","input":{"questions":[{"question":"Deploy now?","header":"Deploy","options":[{"label":"Yes"},{"label":"No"}],"multiSelect":false}]}}]}}`)
	if len(ev.ToolCalls) != 0 {
		t.Error("AskUserQuestion must not surface as a tool call")
	}
	if len(ev.Questions) != 1 {
		t.Fatalf("questions: %+v", ev.Questions)
	}
	q := ev.Questions[0]
	if q.Question != "Deploy now?" || q.Header != "Deploy" || len(q.Options) != 2 {
		t.Errorf("question: %+v", q)
	}
}

func TestClaudeBackgroundJobLifecycle(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_5","name":"Bash","input":{"command":"npm run dev"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_5","content":"Command running in background with ID: bash_1"}],"role":"user"},"toolUseResult":{"backgroundTaskId":"bash_1","command":"npm run dev"}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_5","content":"Successfully stopped task: bash_1 (npm run dev)"}]}}`,
	)
	if len(evs[1].Jobs) != 1 || evs[1].Jobs[0].Status != JobRunning || evs[1].Jobs[0].TaskID != "bash_1" {
		t.Fatalf("running job: %+v", evs[1].Jobs)
	}
	if evs[1].Jobs[0].Command != "npm run dev" {
		t.Errorf("job command: %q", evs[1].Jobs[0].Command)
	}
	if len(evs[2].Jobs) != 1 || evs[2].Jobs[0].Status != JobKilled {
		t.Fatalf("killed job: %+v", evs[2].Jobs)
	}
}

func TestClaudeQueueNotification(t *testing.T) {
	p := NewParser()
	ev, _ := p.ParseLine(`{"type":"queue-operation","operation":"enqueue","content":"<task-notification><task-id>bash_2</task-id><status>completed</status><command>make build</command></task-notification>"}`)
	if len(ev.Jobs) != 1 {
		t.Fatalf("jobs: %+v", ev.Jobs)
	}
	j := ev.Jobs[0]
	if j.TaskID != "bash_2" || j.Status != JobCompleted || j.Command != "make build" {
		t.Errorf("job: %+v", j)
	}
}

func TestCodexTextAndReasoning(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"event_msg","payload":{"type":"agent_reasoning","text":"thinking about it"}}`,
		`{"type":"event_msg","payload":{"type":"agent_message","message":"done"}}`,
	)
	if evs[0].Thinking != "thinking about it" {
		t.Errorf("reasoning = %q", evs[0].Thinking)
	}
	if evs[1].AssistantText != "done" {
		t.Errorf("message = %q", evs[1].AssistantText)
	}
}

func TestCodexBackgroundSessionLifecycle(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c1","name":"exec_command","arguments":"{\"command\":\"python -m http.server 8000\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c1","output":"Process running with session ID 7"}}`,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c2","name":"write_stdin","arguments":"{\"session_id\":7,\"chars\":\"q\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c2","output":"Process exited with code 0"}}`,
	)
	if len(evs[1].Jobs) != 1 || evs[1].Jobs[0].Status != JobRunning || evs[1].Jobs[0].TaskID != "7" {
		t.Fatalf("running: %+v", evs[1].Jobs)
	}
	if evs[1].Jobs[0].Command != "python -m http.server 8000" {
		t.Errorf("command: %q", evs[1].Jobs[0].Command)
	}
	if len(evs[3].Jobs) != 1 || evs[3].Jobs[0].Status != JobCompleted {
		t.Fatalf("completed: %+v", evs[3].Jobs)
	}
	// command attached from cache even though the exit record lacks it
	if evs[3].Jobs[0].Command != "python -m http.server 8000" {
		t.Errorf("cached command: %q", evs[3].Jobs[0].Command)
	}
}

func TestCodexExitNonZeroAndKilled(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c1","name":"exec_command","arguments":"{\"command\":\"sleep 100\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c1","output":"Process running with session ID 3"}}`,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c2","name":"write_stdin","arguments":"{\"session_id\":3}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c2","output":"Process exited with code 137"}}`,
	)
	if len(evs[3].Jobs) != 1 || evs[3].Jobs[0].Status != JobFailed {
		t.Fatalf("failed: %+v", evs[3].Jobs)
	}

	p2 := NewParser()
	evs2 := parseAll(t, p2,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c1","name":"exec_command","arguments":"{\"command\":\"sleep 100\"}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c1","output":"Process running with session ID 9"}}`,
		`{"type":"response_item","payload":{"type":"function_call","call_id":"c3","name":"write_stdin","arguments":"{\"session_id\":9}"}}`,
		`{"type":"response_item","payload":{"type":"function_call_output","call_id":"c3","output":"error: session not found"}}`,
	)
	if len(evs2[3].Jobs) != 1 || evs2[3].Jobs[0].Status != JobKilled {
		t.Fatalf("killed: %+v", evs2[3].Jobs)
	}
}

func TestKimiAccumulation(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"TurnBegin"}`,
		`{"type":"ThinkPart","text":"let me "}`,
		`{"type":"ThinkPart","text":"see"}`,
		`{"type":"TextPart","text":"Hello "}`,
		`{"type":"TextPart","text":"world"}`,
		`{"type":"StepBegin"}`,
	)
	last := evs[len(evs)-1]
	if last.AssistantText != "Hello world" {
		t.Errorf("assistant = %q", last.AssistantText)
	}
	if last.Thinking != "let me see" {
		t.Errorf("thinking = %q", last.Thinking)
	}
	// fragments must not be re-emitted
	ev, _ := p.ParseLine(`{"type":"StepBegin"}`)
	if !ev.Empty() {
		t.Errorf("second flush should be empty: %+v", ev)
	}
}

func TestKimiToolFlow(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"TextPart","text":"Running the build"}`,
		`{"type":"ToolCall","id":"k1","function":{"name":"bash","arguments":{"command":"make"}}}`,
		`{"type":"ToolResult","tool_call_id":"k1","return_value":{"message":"ok"}}`,
	)
	if evs[1].AssistantText != "Running the build" {
		t.Errorf("flush before tool call: %q", evs[1].AssistantText)
	}
	if len(evs[1].ToolCalls) != 1 || evs[1].ToolCalls[0].Name != "bash" {
		t.Fatalf("tool call: %+v", evs[1].ToolCalls)
	}
	if len(evs[2].ToolResults) != 1 || evs[2].ToolResults[0].Name != "bash" {
		t.Fatalf("tool result: %+v", evs[2].ToolResults)
	}
}

func TestPIMessage(t *testing.T) {
	p := NewParser()
	evs := parseAll(t, p,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"hi"},{"type":"toolCall","id":"p1","name":"bash","arguments":{"command":"ls"}}]}}`,
		`{"type":"message","message":{"role":"toolResult","toolCallId":"p1","toolName":"bash","content":"README.md"}}`,
	)
	if evs[0].AssistantText != "hi" || len(evs[0].ToolCalls) != 1 {
		t.Fatalf("assistant: %+v", evs[0])
	}
	if len(evs[1].ToolResults) != 1 || evs[1].ToolResults[0].Text != "README.md" {
		t.Fatalf("result: %+v", evs[1].ToolResults)
	}
}

func TestMalformedLine(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine(`{not json`); err == nil {
		t.Error("expected error for malformed line")
	}
	// parser keeps working afterwards
	ev, err := p.ParseLine(`{"type":"event_msg","payload":{"type":"agent_message","message":"still here"}}`)
	if err != nil || ev.AssistantText != "still here" {
		t.Errorf("parser did not recover: %v %+v", err, ev)
	}
}

func TestParserReplayDeterministic(t *testing.T) {
	lines := []string{
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"out"}]}}`,
		`{"type":"event_msg","payload":{"type":"agent_message","message":"x"}}`,
	}
	run := func() []Event {
		p := NewParser()
		var out []Event
		for _, l := range lines {
			ev, _ := p.ParseLine(l)
			out = append(out, ev)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i].AssistantText != b[i].AssistantText ||
			len(a[i].ToolCalls) != len(b[i].ToolCalls) ||
			len(a[i].ToolResults) != len(b[i].ToolResults) {
			t.Fatalf("replay diverged at line %d", i)
		}
	}
}

func TestLRUBound(t *testing.T) {
	m := newLRUMap(3)
	m.put("a", "1")
	m.put("b", "2")
	m.put("c", "3")
	m.put("d", "4")
	if m.len() != 3 {
		t.Errorf("len = %d, want 3", m.len())
	}
	if _, ok := m.get("a"); ok {
		t.Error("oldest entry should be evicted")
	}
	if v, ok := m.get("d"); !ok || v != "4" {
		t.Error("newest entry missing")
	}
}

func TestURLSniffing(t *testing.T) {
	urls := sniffCommandURLs("node server.js --port 4000")
	if len(urls) != 1 || urls[0] != "http://localhost:4000" {
		t.Errorf("port flag: %v", urls)
	}
	urls = sniffCommandURLs("vite -p 5173")
	if len(urls) != 1 || urls[0] != "http://localhost:5173" {
		t.Errorf("short flag: %v", urls)
	}
	urls = sniffCommandURLs("node -e 'app.listen(3000)'")
	if len(urls) != 1 || urls[0] != "http://localhost:3000" {
		t.Errorf("listen: %v", urls)
	}

	merged := firstURLs(
		[]string{"http://a", "http://b", "http://a"},
		[]string{"http://c", "http://d"},
	)
	if len(merged) != 3 || merged[2] != "http://c" {
		t.Errorf("first three unique: %v", merged)
	}
	if !strings.HasPrefix(merged[0], "http://a") {
		t.Errorf("order: %v", merged)
	}
}
