package resume

import (
	"reflect"
	"testing"
)

func TestParseCodexSubcommandForm(t *testing.T) {
	p := ParseCodex([]string{"--dangerously-bypass-approvals-and-sandbox", "resume", "019c56ac-417b-7180-bd3f-2ed6e25885e3"})
	if !reflect.DeepEqual(p.BaseArgs, []string{"--dangerously-bypass-approvals-and-sandbox"}) {
		t.Errorf("base = %v", p.BaseArgs)
	}
	if p.ResumeID != "019c56ac-417b-7180-bd3f-2ed6e25885e3" {
		t.Errorf("resume id = %q", p.ResumeID)
	}
	if p.UseResumeLast {
		t.Error("useResumeLast should be false")
	}
}

func TestParseCodexVariants(t *testing.T) {
	p := ParseCodex([]string{"--resume=abc", "--json", "exec"})
	if p.ResumeID != "abc" || len(p.BaseArgs) != 0 {
		t.Errorf("parse: %+v", p)
	}
	p = ParseCodex([]string{"--last"})
	if !p.UseResumeLast {
		t.Error("--last not detected")
	}
	p = ParseCodex([]string{"resume"})
	if !p.UseResumeLast || p.ResumeID != "" {
		t.Errorf("bare resume: %+v", p)
	}
}

func TestParseKimiSessionExtraction(t *testing.T) {
	p := ParseKimi([]string{"--model", "kimi-k2", "--session", "b6e5f0a5-1c85-4d8f-9dd6-5f4f18cb0f30", "--yolo"})
	if !reflect.DeepEqual(p.BaseArgs, []string{"--model", "kimi-k2", "--yolo"}) {
		t.Errorf("base = %v", p.BaseArgs)
	}
	if p.SessionID != "b6e5f0a5-1c85-4d8f-9dd6-5f4f18cb0f30" {
		t.Errorf("session id = %q", p.SessionID)
	}
	if p.UseContinue {
		t.Error("useContinue should be false")
	}
}

func TestParseClaude(t *testing.T) {
	p := ParseClaude([]string{"-c", "--resume", "old", "--verbose"})
	if !p.UseContinue || p.ResumeID != "old" {
		t.Errorf("parse: %+v", p)
	}
	if !reflect.DeepEqual(p.BaseArgs, []string{"--verbose"}) {
		t.Errorf("base = %v", p.BaseArgs)
	}
}

func TestParsePI(t *testing.T) {
	p := ParsePI([]string{"--session", "s1", "--continue"})
	if p.SessionID != "s1" || !p.UseContinue || len(p.BaseArgs) != 0 {
		t.Errorf("parse: %+v", p)
	}
}

func TestBuildClaudeRewrite(t *testing.T) {
	args, err := BuildResumeCommandArgs("claude",
		[]string{"--dangerously-skip-permissions", "--resume", "old-id", "--append-system-prompt", "AGENTS.md"},
		"new-id")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--dangerously-skip-permissions", "--append-system-prompt", "AGENTS.md", "--resume", "new-id"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
	for _, a := range args {
		if a == "old-id" {
			t.Error("old ref survived the rewrite")
		}
	}
}

func TestRewriteIdempotent(t *testing.T) {
	tools := map[string][]string{
		"claude": {"--verbose"},
		"codex":  {"--full-auto"},
		"pi":     {"--model", "x"},
		"kimi":   {"--yolo"},
	}
	for tool, base := range tools {
		once, err := BuildResumeCommandArgs(tool, base, "ref-1")
		if err != nil {
			t.Fatalf("%s: %v", tool, err)
		}
		twice, err := BuildResumeCommandArgs(tool, once, "ref-1")
		if err != nil {
			t.Fatalf("%s: %v", tool, err)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s not idempotent: %v vs %v", tool, once, twice)
		}
	}
}

func TestUnsafeRefRejected(t *testing.T) {
	bad := []string{
		"a;b", "a&b", "a|b", "a`b", "a$b", "a(b", "a)b", "a{b", "a}b",
		"a!b", "a#b", "a<b", "a>b", `a\b`, "a'b", `a"b`, "",
	}
	for _, ref := range bad {
		if _, err := BuildResumeCommandArgs("claude", nil, ref); err == nil {
			t.Errorf("ref %q accepted", ref)
		}
	}
	if _, err := BuildResumeCommandArgs("claude", nil, "019c56ac-417b-7180"); err != nil {
		t.Errorf("safe ref rejected: %v", err)
	}
}

func TestExtractRef(t *testing.T) {
	cases := []struct {
		tool string
		args []string
		want string
	}{
		{"claude", []string{"--resume", "c1"}, "c1"},
		{"codex", []string{"resume", "c2"}, "c2"},
		{"pi", []string{"--session", "c3"}, "c3"},
		{"kimi", []string{"-S", "c4"}, "c4"},
	}
	for _, c := range cases {
		got, ok := ExtractRef(c.tool, c.args)
		if !ok || got != c.want {
			t.Errorf("ExtractRef(%s, %v) = %q %v", c.tool, c.args, got, ok)
		}
	}
	if _, ok := ExtractRef("claude", []string{"--verbose"}); ok {
		t.Error("ref found where none exists")
	}
}
