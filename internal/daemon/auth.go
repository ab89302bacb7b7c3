package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// AuthHeader carries the shared secret on every control-API request.
const AuthHeader = "X-Touchgrass-Auth"

// LoadOrCreateAuthToken returns the persisted shared secret, generating and
// writing one (0600) on first use. The daemon and every local client read the
// same file, so possession of the file is the actual credential.
func LoadOrCreateAuthToken(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write auth file: %w", err)
	}
	return tok, nil
}

// authEqual compares a presented token in constant time.
func authEqual(presented, want string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(want)) == 1
}
