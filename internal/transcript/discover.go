package transcript

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Tool names as they appear in argv[0].
const (
	ToolClaude = "claude"
	ToolCodex  = "codex"
	ToolPI     = "pi"
	ToolKimi   = "kimi"
)

// KnownTool reports whether the name is a wrappable tool.
func KnownTool(name string) bool {
	switch name {
	case ToolClaude, ToolCodex, ToolPI, ToolKimi:
		return true
	}
	return false
}

// Dir returns the directory a tool writes transcripts into for a given cwd.
// Each tool has its own encoding of the project path. Codex transcripts are
// not per-cwd; use CodexSessionFiles instead.
func Dir(toolName, cwd, homeDir string) (string, error) {
	switch toolName {
	case ToolClaude:
		// /Users/dev/proj → -Users-dev-proj
		enc := strings.ReplaceAll(cwd, "/", "-")
		return filepath.Join(homeDir, ".claude", "projects", enc), nil
	case ToolPI:
		// /Users/dev/proj → --Users-dev-proj--
		enc := "--" + strings.ReplaceAll(strings.TrimPrefix(cwd, "/"), "/", "-") + "--"
		return filepath.Join(homeDir, ".pi", "agent", "sessions", enc), nil
	case ToolKimi:
		sum := md5.Sum([]byte(cwd))
		return filepath.Join(homeDir, ".kimi", "sessions", hex.EncodeToString(sum[:])), nil
	default:
		return "", fmt.Errorf("no transcript directory for tool %q", toolName)
	}
}

// Snapshot lists the transcript files currently present for a tool+cwd,
// keyed by absolute path. Taken before spawn so the new file stands out.
func Snapshot(toolName, cwd, homeDir string) map[string]bool {
	files, _ := listTranscripts(toolName, cwd, homeDir)
	out := make(map[string]bool, len(files))
	for _, f := range files {
		out[f.Path] = true
	}
	return out
}

// FileInfo describes one discovered transcript file.
type FileInfo struct {
	Path    string
	ModTime time.Time
}

// FindNew returns the newest transcript file absent from the snapshot.
func FindNew(toolName, cwd, homeDir string, snapshot map[string]bool) (string, bool) {
	files, _ := listTranscripts(toolName, cwd, homeDir)
	var best FileInfo
	for _, f := range files {
		if snapshot[f.Path] {
			continue
		}
		if f.ModTime.After(best.ModTime) {
			best = f
		}
	}
	return best.Path, best.Path != ""
}

// FindByRef returns the transcript file matching a session ref (substring of
// the file name or the kimi session directory).
func FindByRef(toolName, cwd, homeDir, ref string) (string, bool) {
	files, _ := listTranscripts(toolName, cwd, homeDir)
	for _, f := range files {
		if strings.Contains(f.Path, ref) {
			return f.Path, true
		}
	}
	return "", false
}

func listTranscripts(toolName, cwd, homeDir string) ([]FileInfo, error) {
	if toolName == ToolCodex {
		return codexSessionFiles(homeDir)
	}
	dir, err := Dir(toolName, cwd, homeDir)
	if err != nil {
		return nil, err
	}

	if toolName == ToolKimi {
		// <dir>/<session-id>/wire.jsonl
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		var out []FileInfo
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			p := filepath.Join(dir, e.Name(), "wire.jsonl")
			if st, err := os.Stat(p); err == nil {
				out = append(out, FileInfo{Path: p, ModTime: st.ModTime()})
			}
		}
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Path: filepath.Join(dir, e.Name()), ModTime: st.ModTime()})
	}
	return out, nil
}

// codexSessionFiles walks ~/.codex/sessions/YYYY/MM/DD in date-lexicographic
// descending order. Bounded to the most recent 14 day directories.
func codexSessionFiles(homeDir string) ([]FileInfo, error) {
	root := filepath.Join(homeDir, ".codex", "sessions")
	var days []string
	years, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		months, _ := os.ReadDir(filepath.Join(root, y.Name()))
		for _, m := range months {
			if !m.IsDir() {
				continue
			}
			ds, _ := os.ReadDir(filepath.Join(root, y.Name(), m.Name()))
			for _, d := range ds {
				if d.IsDir() {
					days = append(days, filepath.Join(root, y.Name(), m.Name(), d.Name()))
				}
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	if len(days) > 14 {
		days = days[:14]
	}

	var out []FileInfo
	for _, day := range days {
		entries, _ := os.ReadDir(day)
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
				continue
			}
			st, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, FileInfo{Path: filepath.Join(day, e.Name()), ModTime: st.ModTime()})
		}
	}
	return out, nil
}

// Candidate is a resumable transcript for the resume picker.
type Candidate struct {
	Path       string    `json:"path"`
	SessionRef string    `json:"sessionRef"`
	Label      string    `json:"label"`
	ModTime    time.Time `json:"modTime"`
}

// RecentSessions lists resumable transcripts for a tool+cwd, newest first.
// Ordering is by mtime only; ties stay in directory order.
func RecentSessions(toolName, cwd, homeDir string, limit int) ([]Candidate, error) {
	files, err := listTranscripts(toolName, cwd, homeDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	out := make([]Candidate, 0, len(files))
	for _, f := range files {
		out = append(out, Candidate{
			Path:       f.Path,
			SessionRef: sessionRefFromPath(toolName, f.Path),
			Label:      previewLabel(f.Path),
			ModTime:    f.ModTime,
		})
	}
	return out, nil
}

// sessionRefFromPath derives the resume ref from a transcript path: the file
// stem for claude/pi/codex, the session directory for kimi.
func sessionRefFromPath(toolName, path string) string {
	if toolName == ToolKimi {
		return filepath.Base(filepath.Dir(path))
	}
	name := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if toolName == ToolCodex {
		// rollout-2026-02-10T08-15-30-<uuid>.jsonl → <uuid>
		if i := strings.LastIndex(name, "-"); i >= 0 && len(name)-i > 30 {
			return name[i+1:]
		}
		// Fall back to any uuid-shaped tail segment.
		parts := strings.Split(name, "-")
		if len(parts) >= 5 {
			tail := strings.Join(parts[len(parts)-5:], "-")
			if len(tail) == 36 {
				return tail
			}
		}
	}
	return name
}

// previewLabel reads the head of a transcript and extracts the first user or
// assistant text as a short label.
func previewLabel(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; scanner.Scan() && i < 40; i++ {
		var probe struct {
			Type    string `json:"type"`
			Message struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"message"`
			Payload json.RawMessage `json:"payload"`
		}
		if json.Unmarshal(scanner.Bytes(), &probe) != nil {
			continue
		}
		var text string
		switch {
		case probe.Message.Content != nil:
			text = flattenBlockContent(probe.Message.Content)
		case probe.Payload != nil:
			var pl struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(probe.Payload, &pl)
			text = pl.Message
		}
		text = strings.TrimSpace(text)
		if text != "" {
			if len(text) > 80 {
				text = text[:80] + "…"
			}
			return strings.ReplaceAll(text, "\n", " ")
		}
	}
	return ""
}

// HeadSessionID reads up to 80 lines of a transcript looking for the tool's
// own session id. Used to follow Claude's rollover files.
func HeadSessionID(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 0; scanner.Scan() && i < 80; i++ {
		var probe struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(scanner.Bytes(), &probe) == nil && probe.SessionID != "" {
			return probe.SessionID
		}
	}
	return ""
}
