// Package picker ranks repository files for the chat file-mention picker.
package picker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

const maxFiles = 5000

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"__pycache__":  true,
}

// ListFiles walks the repo collecting relative file paths, skipping VCS and
// build directories. The walk is capped to keep pickers snappy in huge trees.
func ListFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] || (d.Name() != "." && strings.HasPrefix(d.Name(), ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		out = append(out, rel)
		if len(out) >= maxFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	return out, nil
}

// Rank orders files for a query. A non-empty query uses fuzzy matching;
// an empty query yields a deterministic shallow-first, shorter-first,
// lexicographic order.
func Rank(files []string, query string) []string {
	if query == "" {
		out := append([]string(nil), files...)
		sort.Slice(out, func(i, j int) bool {
			di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
			if di != dj {
				return di < dj
			}
			if len(out[i]) != len(out[j]) {
				return len(out[i]) < len(out[j])
			}
			return out[i] < out[j]
		})
		return out
	}

	matches := fuzzy.Find(query, files)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	// Basename prefix matches beat deep-path fuzzy hits of the same query.
	q := strings.ToLower(query)
	sort.SliceStable(out, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(filepath.Base(out[i])), q)
		pj := strings.HasPrefix(strings.ToLower(filepath.Base(out[j])), q)
		if pi != pj {
			return pi
		}
		if pi && pj && len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return false
	})
	return out
}
