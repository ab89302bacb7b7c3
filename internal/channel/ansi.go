package channel

import "regexp"

var reANSI = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[()][A-Z0-9]|[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// StripANSI removes escape sequences and control bytes, keeping newlines and
// tabs.
func StripANSI(s string) string {
	return reANSI.ReplaceAllString(s, "")
}
