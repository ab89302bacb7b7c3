package address

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"telegram:123456",
		"telegram:-1001234",
		"telegram:work:123456",
		"telegram:-1001234:55",
		"telegram:work:-1001234:55",
		"slack:team:C012345", // slack ids are non-numeric but sit in id position after a name
		"internal:0",
	}
	for _, in := range cases {
		a, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := a.String(); got != in {
			t.Errorf("round trip %q → %q", in, got)
		}
	}
}

func TestParseParts(t *testing.T) {
	a, err := Parse("telegram:work:-1001234:55")
	if err != nil {
		t.Fatal(err)
	}
	if a.Type != "telegram" || a.ChannelName != "work" || a.ID != "-1001234" || a.Thread != "55" {
		t.Errorf("unexpected parts: %+v", a)
	}

	b, err := Parse("telegram:123456")
	if err != nil {
		t.Fatal(err)
	}
	if b.ChannelName != "" || b.ID != "123456" || b.Thread != "" {
		t.Errorf("bare account parse: %+v", b)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "telegram", "telegram:", "telegram:work", "telegram:1:2:3:4", ":123"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestParentChatID(t *testing.T) {
	if got := ParentChatID("telegram:-1001234:55"); got != "telegram:-1001234" {
		t.Errorf("ParentChatID topic: %q", got)
	}
	if got := ParentChatID("telegram:work:-1001234:55"); got != "telegram:work:-1001234" {
		t.Errorf("ParentChatID named topic: %q", got)
	}
	if got := ParentChatID("telegram:123456"); got != "telegram:123456" {
		t.Errorf("ParentChatID dm: %q", got)
	}
	if got := ParentChatID("garbage"); got != "garbage" {
		t.Errorf("ParentChatID invalid: %q", got)
	}
}

func TestGroupAndDM(t *testing.T) {
	if !IsGroupChat("telegram:-1001234") {
		t.Error("negative id should be group")
	}
	if !IsGroupChat("telegram:-1001234:55") {
		t.Error("topic should be group")
	}
	if IsGroupChat("telegram:123456") {
		t.Error("positive bare id should not be group")
	}
	a, _ := Parse("telegram:123456")
	if !a.IsDM() {
		t.Error("positive bare id should be DM")
	}
}
