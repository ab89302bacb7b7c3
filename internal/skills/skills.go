// Package skills discovers agent skills and the workspace soul file for a
// project directory. Skills follow the Claude Code layout: one directory per
// skill containing a SKILL.md with YAML frontmatter.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Skill is one discovered skill directory.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Source      string `json:"source"` // "project" or "user"
}

// List scans <cwd>/.claude/skills and <home>/.claude/skills. Project skills
// shadow user skills with the same name.
func List(cwd, userHome string) []Skill {
	seen := make(map[string]bool)
	var out []Skill
	for _, root := range []struct{ dir, source string }{
		{filepath.Join(cwd, ".claude", "skills"), "project"},
		{filepath.Join(userHome, ".claude", "skills"), "user"},
	} {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() || seen[e.Name()] {
				continue
			}
			md := filepath.Join(root.dir, e.Name(), "SKILL.md")
			if _, err := os.Stat(md); err != nil {
				continue
			}
			s := Skill{Name: e.Name(), Path: md, Source: root.source}
			if name, desc := parseFrontmatter(md); name != "" || desc != "" {
				if name != "" {
					s.Name = name
				}
				s.Description = desc
			}
			seen[e.Name()] = true
			out = append(out, s)
		}
	}
	return out
}

// parseFrontmatter pulls name and description out of a leading --- block.
// Only flat `key: value` lines are understood; anything else is skipped.
func parseFrontmatter(path string) (name, desc string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", ""
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "---" {
			break
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		switch strings.TrimSpace(key) {
		case "name":
			name = val
		case "description":
			desc = val
		}
	}
	return name, desc
}

const soulFile = "SOUL.md"

// ReadSoul returns the workspace soul file content, or ok=false when the
// project has none.
func ReadSoul(cwd string) (content string, ok bool) {
	data, err := os.ReadFile(filepath.Join(cwd, soulFile))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// WriteSoul replaces the workspace soul file.
func WriteSoul(cwd, content string) error {
	if cwd == "" {
		return fmt.Errorf("empty cwd")
	}
	return os.WriteFile(filepath.Join(cwd, soulFile), []byte(content), 0o644)
}
