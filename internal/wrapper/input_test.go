package wrapper

import (
	"bytes"
	"strings"
	"testing"

	"github.com/touchgrasshq/touchgrass/internal/session"
)

func TestSingleSelectKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInputLine(&buf, session.MakePollSentinel([]int{2}, false)); err != nil {
		t.Fatal(err)
	}
	want := keyDown + keyDown + keyEnter
	if buf.String() != want {
		t.Errorf("keys = %q, want %q", buf.String(), want)
	}
}

func TestMultiSelectKeysToggleWithoutFinalEnter(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInputLine(&buf, session.MakePollSentinel([]int{0, 2}, true)); err != nil {
		t.Fatal(err)
	}
	// toggle option 0, move down twice, toggle option 2; no trailing submit
	want := keyEnter + keyDown + keyDown + keyEnter
	if buf.String() != want {
		t.Errorf("keys = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	if err := writeInputLine(&buf, session.PollSubmit); err != nil {
		t.Fatal(err)
	}
	if buf.String() != keyEnter {
		t.Errorf("submit = %q", buf.String())
	}
}

func TestPollNextNavigates(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInputLine(&buf, session.MakePollNext(8, 20)); err != nil {
		t.Fatal(err)
	}
	want := strings.Repeat(keyDown, 8) + keyEnter
	if buf.String() != want {
		t.Errorf("keys = %q", buf.String())
	}
}

func TestPollOtherWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInputLine(&buf, session.PollOther); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q", buf.String())
	}
}

func TestPlainTextBecomesBracketedPaste(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInputLine(&buf, "fix the tests"); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, pasteStart) {
		t.Errorf("no paste start: %q", got)
	}
	if !strings.Contains(got, "fix the tests"+pasteEnd) {
		t.Errorf("no paste end after payload: %q", got)
	}
	if !strings.HasSuffix(got, keyEnter+keyEnter) {
		t.Errorf("missing double enter: %q", got)
	}
}

func TestSanitizePasteStripsControls(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"red \x1b[31mtext\x1b[0m end", "red text end"},
		{"line1\r\nline2", "line1\nline2"},
		{"tab\tand\nnewline survive", "tab\tand\nnewline survive"},
		{"ding\x07 null\x00 esc\x1bZ", "ding null esc"},
	}
	for _, c := range cases {
		if got := sanitizePaste(c.in); got != c.want {
			t.Errorf("sanitizePaste(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeRoundTripLaw(t *testing.T) {
	// whatever sanitize outputs must be a fixed point
	inputs := []string{"hello \x1b[2Jworld", "a\x1b[200~b\x1b[201~c", "x\x7fy"}
	for _, in := range inputs {
		once := sanitizePaste(in)
		if twice := sanitizePaste(once); twice != once {
			t.Errorf("sanitize not idempotent: %q → %q → %q", in, once, twice)
		}
		if strings.ContainsAny(once, "\x1b\x00\x07\x7f") {
			t.Errorf("controls survived: %q", once)
		}
	}
}
