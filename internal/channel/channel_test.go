package channel

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestStripANSI(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b[2J\x1b[Hcleared", "cleared"},
		{"line1\nline2\ttab", "line1\nline2\ttab"},
		{"bell\x07gone", "bellgone"},
		{"\x1b]0;title\x07text", "text"},
	}
	for _, c := range cases {
		if got := StripANSI(c.in); got != c.want {
			t.Errorf("StripANSI(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTypingHeartbeatIdempotent(t *testing.T) {
	var calls int32
	tc := NewTypingController(func(ctx context.Context, chatID string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	tc.Set("telegram:1", true)
	tc.Set("telegram:1", true)
	tc.Set("telegram:1", true)
	time.Sleep(50 * time.Millisecond)
	tc.Set("telegram:1", false)

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("assert calls = %d, want 1 (heartbeat not yet due)", got)
	}

	// restart after stop asserts again
	tc.Set("telegram:1", true)
	time.Sleep(20 * time.Millisecond)
	tc.StopAll()
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("assert calls after restart = %d, want 2", got)
	}
}

func TestPollerLockStealsStale(t *testing.T) {
	dir := t.TempDir()
	token := "123:abc"
	// a dead pid in the lock file
	path := filepath.Join(dir, "poller-"+TokenFingerprint(token)+".lock")
	if err := os.WriteFile(path, []byte("999999"), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := AcquirePollerLock(dir, token)
	if err != nil {
		t.Fatalf("expected to steal stale lock: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock holder = %q", data)
	}
	l.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("release left the lock file")
	}
}

func TestPollerLockBlocksLiveHolder(t *testing.T) {
	dir := t.TempDir()
	token := "123:abc"
	path := filepath.Join(dir, "poller-"+TokenFingerprint(token)+".lock")
	// pid 1 is always alive
	if err := os.WriteFile(path, []byte("1"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := AcquirePollerLock(dir, token); err == nil {
		t.Error("expected lock conflict with live holder")
	}
}

func TestTokenFingerprintStable(t *testing.T) {
	a := TokenFingerprint("123:abc")
	b := TokenFingerprint("123:abc")
	c := TokenFingerprint("456:def")
	if a != b || a == c || len(a) != 12 {
		t.Errorf("fingerprints: %q %q %q", a, b, c)
	}
}
