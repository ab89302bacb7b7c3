package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// TokenFingerprint derives a short stable id for a bot token, used to name
// the poller lock file without writing the token to disk.
func TokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// PollerLock ensures exactly one long-poller runs per bot token on this
// machine. The lock file records the holder pid; a lock whose holder is gone
// is stolen.
type PollerLock struct {
	path string
}

// AcquirePollerLock takes the lock for a token, stealing it from a dead
// holder. Returns an error when a live process already polls this token.
func AcquirePollerLock(dir, token string) (*PollerLock, error) {
	path := filepath.Join(dir, "poller-"+TokenFingerprint(token)+".lock")

	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pidAlive(pid) && pid != os.Getpid() {
			return nil, fmt.Errorf("another poller (pid %d) holds the lock for this token", pid)
		}
		// stale holder, steal it
		_ = os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return nil, fmt.Errorf("write poller lock: %w", err)
	}
	return &PollerLock{path: path}, nil
}

// Release drops the lock if this process still holds it.
func (l *PollerLock) Release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
		_ = os.Remove(l.path)
	}
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
