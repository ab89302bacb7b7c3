// Package home resolves the touchgrass home directory and the well-known
// files that live under it. Paths is the only process-wide state the daemon
// and wrapper share besides the logger.
package home

import (
	"os"
	"path/filepath"
	"runtime"
)

// EnvHome overrides the default ~/.touchgrass root.
const EnvHome = "TOUCHGRASS_HOME"

// Paths bundles every file location derived from the home directory.
type Paths struct {
	Root        string
	ConfigFile  string
	PidFile     string
	LockFile    string
	SocketFile  string // unix domain socket (non-Windows)
	PortFile    string // TCP port file (Windows)
	AuthFile    string
	LogDir      string
	LogFile     string
	SessionsDir string
	UploadsDir  string
	HooksDir    string
	HookScript  string
	BoardsFile  string
}

// Resolve builds the Paths bundle, honoring TOUCHGRASS_HOME.
func Resolve() Paths {
	root := os.Getenv(EnvHome)
	if root == "" {
		if h, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(h, ".touchgrass")
		} else {
			root = ".touchgrass"
		}
	}
	return At(root)
}

// At builds the Paths bundle rooted at an explicit directory.
func At(root string) Paths {
	return Paths{
		Root:        root,
		ConfigFile:  filepath.Join(root, "config.json"),
		PidFile:     filepath.Join(root, "daemon.pid"),
		LockFile:    filepath.Join(root, "daemon.lock"),
		SocketFile:  filepath.Join(root, "daemon.sock"),
		PortFile:    filepath.Join(root, "daemon.port"),
		AuthFile:    filepath.Join(root, "daemon.auth"),
		LogDir:      filepath.Join(root, "logs"),
		LogFile:     filepath.Join(root, "logs", "daemon.log"),
		SessionsDir: filepath.Join(root, "sessions"),
		UploadsDir:  filepath.Join(root, "uploads"),
		HooksDir:    filepath.Join(root, "hooks"),
		HookScript:  filepath.Join(root, "hooks", "claude-hooks.sh"),
		BoardsFile:  filepath.Join(root, "status-boards.json"),
	}
}

// EnsureDirs creates the directories the daemon writes into.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, p.LogDir, p.SessionsDir, p.UploadsDir, p.HooksDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// UseSocket reports whether the daemon listens on a unix socket
// (everywhere except Windows, which gets a loopback TCP port file).
func (p Paths) UseSocket() bool {
	return runtime.GOOS != "windows"
}

// SessionManifest returns the manifest path for a session id.
func (p Paths) SessionManifest(id string) string {
	return filepath.Join(p.SessionsDir, id+".json")
}
