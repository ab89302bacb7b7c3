package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// maxURLs caps how many unique URLs survive per result or job.
const maxURLs = 3

var (
	reHTTPURL = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

	reLocalhost = regexp.MustCompile(`localhost:(\d{2,5})`)
	rePortFlag  = regexp.MustCompile(`--port[= ](\d{2,5})`)
	rePShort    = regexp.MustCompile(`(?:^|\s)-p[= ](\d{2,5})`)
	reListen    = regexp.MustCompile(`\.listen\((\d{2,5})`)
)

// extractURLs pulls literal http(s) URLs out of free text.
func extractURLs(text string) []string {
	if text == "" {
		return nil
	}
	matches := reHTTPURL.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimRight(m, ".,;"))
	}
	return out
}

// sniffCommandURLs guesses serving URLs from the shape of a shell command:
// explicit localhost:PORT references, --port N, -p N, and .listen(N) calls.
func sniffCommandURLs(command string) []string {
	if command == "" {
		return nil
	}
	var urls []string
	for _, re := range []*regexp.Regexp{reLocalhost, rePortFlag, rePShort, reListen} {
		for _, m := range re.FindAllStringSubmatch(command, -1) {
			urls = append(urls, fmt.Sprintf("http://localhost:%s", m[1]))
		}
	}
	return urls
}

// firstURLs merges extracted and sniffed URLs, deduplicates, and keeps the
// first maxURLs.
func firstURLs(extracted, sniffed []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range append(append([]string{}, extracted...), sniffed...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) == maxURLs {
			break
		}
	}
	return out
}
