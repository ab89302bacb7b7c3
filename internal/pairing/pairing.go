// Package pairing issues and redeems the short-lived codes that link a chat
// user to this daemon.
package pairing

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	codeTTL    = 10 * time.Minute
	codeLength = 6
	// no 0/O or 1/I to keep codes phone-typable
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Codes holds outstanding pairing codes. Codes are single-use and
// case-insensitive.
type Codes struct {
	mu    sync.Mutex
	codes map[string]time.Time // normalized code → expiry
}

// NewCodes returns an empty code store.
func NewCodes() *Codes {
	return &Codes{codes: make(map[string]time.Time)}
}

// Generate mints a fresh code valid for ten minutes.
func (c *Codes) Generate() string {
	var b strings.Builder
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			n = big.NewInt(int64(time.Now().UnixNano() % int64(len(codeAlphabet))))
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	code := b.String()
	c.mu.Lock()
	c.codes[code] = time.Now().Add(codeTTL)
	c.mu.Unlock()
	return code
}

// Redeem consumes a code. Expired and unknown codes fail.
func (c *Codes) Redeem(code string) bool {
	norm := strings.ToUpper(strings.TrimSpace(code))
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.codes[norm]
	if !ok {
		return false
	}
	delete(c.codes, norm)
	return time.Now().Before(expiry)
}

// Sweep drops expired codes.
func (c *Codes) Sweep() {
	now := time.Now()
	c.mu.Lock()
	for code, expiry := range c.codes {
		if now.After(expiry) {
			delete(c.codes, code)
		}
	}
	c.mu.Unlock()
}
