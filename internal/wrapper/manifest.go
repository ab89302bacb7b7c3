package wrapper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/home"
)

// Manifest records a live wrapper session on disk so `tg doctor` and crash
// cleanup can see what was running.
type Manifest struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Cwd       string    `json:"cwd"`
	PID       int       `json:"pid"`
	JSONLFile string    `json:"jsonlFile,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// WriteManifest persists the manifest with 0600 permissions.
func WriteManifest(paths home.Paths, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(paths.SessionManifest(m.ID), data, 0o600)
}

// SetManifestTranscript records the located transcript path on an existing
// manifest without touching the fields written at spawn (pid, argv, start).
func SetManifestTranscript(paths home.Paths, id, jsonlFile string) error {
	data, err := os.ReadFile(paths.SessionManifest(id))
	if err != nil {
		return err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	m.JSONLFile = jsonlFile
	return WriteManifest(paths, m)
}

// RemoveManifest deletes the manifest; missing files are fine.
func RemoveManifest(paths home.Paths, id string) {
	_ = os.Remove(paths.SessionManifest(id))
}

// ReadManifests lists every manifest under the sessions dir.
func ReadManifests(paths home.Paths) []Manifest {
	entries, err := os.ReadDir(paths.SessionsDir)
	if err != nil {
		return nil
	}
	var out []Manifest
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(paths.SessionsDir, e.Name()))
		if err != nil {
			continue
		}
		var m Manifest
		if json.Unmarshal(data, &m) == nil && m.ID != "" {
			out = append(out, m)
		}
	}
	return out
}
