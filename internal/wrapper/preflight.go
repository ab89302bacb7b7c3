package wrapper

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// minVersions are the oldest tool releases whose transcript formats the
// parser understands.
var minVersions = map[string]string{
	transcript.ToolClaude: "1.0.0",
	transcript.ToolCodex:  "0.20.0",
	transcript.ToolPI:     "0.5.0",
	transcript.ToolKimi:   "0.1.0",
}

// Preflight validates the environment before anything is spawned: a
// wrappable tool, a configured channel, a paired user, and a recent enough
// tool binary. Error messages are user-facing.
func Preflight(cfg *config.Config, toolName string) error {
	if !transcript.KnownTool(toolName) {
		return fmt.Errorf("unsupported tool %q (supported: claude, codex, pi, kimi)", toolName)
	}
	if !hasChannelToken(cfg) {
		return fmt.Errorf("Telegram setup is incomplete: no bot token configured. Run `tg setup` first")
	}
	if !cfg.HasPairedUser() {
		return fmt.Errorf("Telegram setup is incomplete: no paired user. Run `tg pair` and send the code to your bot")
	}
	if err := checkToolVersion(toolName); err != nil {
		return err
	}
	return nil
}

func hasChannelToken(cfg *config.Config) bool {
	for _, name := range cfg.ChannelNames() {
		if e, ok := cfg.ChannelEntryByName(name); ok && e.Credentials.BotToken != "" {
			return true
		}
	}
	return false
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// checkToolVersion runs `tool --version` and enforces the minimum. A binary
// that prints no recognizable version passes; only a provably old one fails.
func checkToolVersion(toolName string) error {
	path, err := exec.LookPath(toolName)
	if err != nil {
		return fmt.Errorf("%s is not installed or not on PATH", toolName)
	}
	out, err := exec.Command(path, "--version").CombinedOutput()
	if err != nil {
		return nil
	}
	got := versionRe.FindString(string(out))
	if got == "" {
		return nil
	}
	min := minVersions[toolName]
	if compareVersions(got, min) < 0 {
		return fmt.Errorf("%s %s is too old; touchgrass needs %s or newer", toolName, got, min)
	}
	return nil
}

// compareVersions compares dotted numeric versions: -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
