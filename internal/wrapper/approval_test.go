package wrapper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

func TestExtractOptionsStopsAtFooter(t *testing.T) {
	region := "Allow command?\n" +
		"  1. Yes\n" +
		"  2. Yes, always\n" +
		"  3. No\n" +
		"  Esc to cancel\n" +
		"  1. stale text from an older prompt\n"
	got := extractOptions(region, approvalPatterns[transcript.ToolCodex].option)
	if len(got) != 3 || got[0] != "Yes" || got[1] != "Yes, always" || got[2] != "No" {
		t.Errorf("options = %v", got)
	}
}

func TestExtractOptionsRequiresSequentialNumbers(t *testing.T) {
	region := "Allow command?\n  1. Yes\n  3. No\n"
	got := extractOptions(region, approvalPatterns[transcript.ToolCodex].option)
	if len(got) != 1 || got[0] != "Yes" {
		t.Errorf("options = %v", got)
	}
}

func TestExtractOptionsCursorMarker(t *testing.T) {
	region := "Would you like to proceed?\n❯ 1. Yes\n  2. No\nPress enter to confirm\n"
	got := extractOptions(region, approvalPatterns[transcript.ToolCodex].option)
	if len(got) != 2 || got[0] != "Yes" || got[1] != "No" {
		t.Errorf("options = %v", got)
	}
}

func TestScannerDebouncesAndDedupes(t *testing.T) {
	var mu sync.Mutex
	var posted []string
	scanner := newApprovalScanner(transcript.ToolCodex, func(_ context.Context, prompt string, _ []string) {
		mu.Lock()
		posted = append(posted, prompt)
		mu.Unlock()
	}, nil)
	if scanner == nil {
		t.Fatal("no scanner for codex")
	}

	screen := "Allow command? rm -rf ./build\n  1. Yes\n  2. No\n  Esc to cancel\n"
	// repeated paints of the same prompt post once
	for i := 0; i < 5; i++ {
		scanner.Scan(context.Background(), screen)
	}
	time.Sleep(approvalDebounce + 300*time.Millisecond)

	mu.Lock()
	n := len(posted)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("posted %d times, want 1", n)
	}
}

func TestClaudeHasNoScanner(t *testing.T) {
	if s := newApprovalScanner(transcript.ToolClaude, nil, nil); s != nil {
		t.Error("claude should use hooks, not screen scraping")
	}
}
