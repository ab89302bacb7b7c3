package wrapper

import (
	"sync"

	"github.com/touchgrasshq/touchgrass/internal/channel"
)

// rollingCap is how many ANSI-stripped characters of recent PTY output the
// approval scanner sees. Prompts always fit in one screen.
const rollingCap = 2000

// rollingBuffer keeps the tail of the PTY output stream, ANSI-stripped.
type rollingBuffer struct {
	mu  sync.Mutex
	buf []rune
}

func (r *rollingBuffer) Write(p []byte) (int, error) {
	clean := channel.StripANSI(string(p))
	r.mu.Lock()
	r.buf = append(r.buf, []rune(clean)...)
	if over := len(r.buf) - rollingCap; over > 0 {
		r.buf = r.buf[over:]
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *rollingBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

func (r *rollingBuffer) Reset() {
	r.mu.Lock()
	r.buf = r.buf[:0]
	r.mu.Unlock()
}
