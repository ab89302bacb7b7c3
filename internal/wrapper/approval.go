package wrapper

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// approvalDebounce delays posting so the TUI finishes painting the prompt
// before we snapshot its options.
const approvalDebounce = time.Second

// promptPattern pairs the text that identifies a tool's permission prompt
// with the shape of its option lines.
type promptPattern struct {
	prompt *regexp.Regexp
	option *regexp.Regexp
}

// Claude is absent here: its approvals arrive via hooks, not screen scraping.
var approvalPatterns = map[string]promptPattern{
	transcript.ToolCodex: {
		prompt: regexp.MustCompile(`(?i)(allow command|would you like to (run|proceed)|approve this)`),
		option: regexp.MustCompile(`(?m)^\s*[❯>]?\s*(\d+)[.)]\s+(.+?)\s*$`),
	},
	transcript.ToolPI: {
		prompt: regexp.MustCompile(`(?i)(wants to (run|use)|permission required|allow\?)`),
		option: regexp.MustCompile(`(?m)^\s*[❯>]?\s*(\d+)[.)]\s+(.+?)\s*$`),
	},
	transcript.ToolKimi: {
		prompt: regexp.MustCompile(`(?i)(approve|wants to run|allow this)`),
		option: regexp.MustCompile(`(?m)^\s*[❯>]?\s*(\d+)[.)]\s+(.+?)\s*$`),
	},
}

// footerMarkers end the option list; anything after them is TUI chrome.
var footerMarkers = []string{
	"Esc to cancel",
	"esc to cancel",
	"Press enter",
	"press enter",
}

// approvalSink posts a detected prompt to the daemon.
type approvalSink func(ctx context.Context, prompt string, options []string)

// approvalScanner watches the rolling PTY buffer for permission prompts.
type approvalScanner struct {
	pattern promptPattern
	sink    approvalSink
	log     *slog.Logger

	mu         sync.Mutex
	lastPrompt string
	pending    *time.Timer
}

// newApprovalScanner returns nil for tools without screen-scraped approvals.
func newApprovalScanner(toolName string, sink approvalSink, log *slog.Logger) *approvalScanner {
	pattern, ok := approvalPatterns[toolName]
	if !ok {
		return nil
	}
	return &approvalScanner{pattern: pattern, sink: sink, log: log}
}

// Scan inspects the current buffer tail. Safe to call on every PTY read.
func (a *approvalScanner) Scan(ctx context.Context, buffer string) {
	loc := a.pattern.prompt.FindStringIndex(buffer)
	if loc == nil {
		return
	}
	region := buffer[loc[0]:]
	prompt := firstLine(region)
	options := extractOptions(region, a.pattern.option)
	if len(options) < 2 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prompt == a.lastPrompt {
		return
	}
	a.lastPrompt = prompt
	if a.pending != nil {
		a.pending.Stop()
	}
	// re-read the options after the debounce so late-painted rows are seen
	a.pending = time.AfterFunc(approvalDebounce, func() {
		final := extractOptions(region, a.pattern.option)
		if len(final) < 2 {
			final = options
		}
		a.sink(ctx, prompt, final)
	})
}

// Reset clears the de-dup state, e.g. after input was written to the PTY.
func (a *approvalScanner) Reset() {
	a.mu.Lock()
	a.lastPrompt = ""
	a.mu.Unlock()
}

// extractOptions pulls numbered option labels out of a prompt region,
// stopping at footer markers and on index gaps.
func extractOptions(region string, optionRe *regexp.Regexp) []string {
	if i := footerIndex(region); i >= 0 {
		region = region[:i]
	}
	var options []string
	next := 1
	for _, m := range optionRe.FindAllStringSubmatch(region, -1) {
		if m[1] != strconv.Itoa(next) {
			continue
		}
		options = append(options, strings.TrimSpace(m[2]))
		next++
	}
	return options
}

func footerIndex(s string) int {
	best := -1
	for _, marker := range footerMarkers {
		if i := strings.Index(s, marker); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
