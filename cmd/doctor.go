package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/touchgrasshq/touchgrass/internal/client"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/wrapper"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the touchgrass installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := runDoctor(cmd.Context())
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func runDoctor(ctx context.Context) (failed int) {
	check := func(name string, ok bool, detail string) {
		mark := "ok"
		if !ok {
			mark = "FAIL"
			failed++
		}
		fmt.Printf("%-4s  %-28s %s\n", mark, name, detail)
	}

	// home + config
	if _, err := os.Stat(paths.Root); err != nil {
		check("home directory", false, paths.Root+" missing; run `tg setup`")
	} else {
		check("home directory", true, paths.Root)
	}

	cfg, err := config.LoadOrDefault(paths.ConfigFile)
	if err != nil {
		check("config", false, err.Error())
		return failed
	}
	hasToken := false
	for _, name := range cfg.ChannelNames() {
		e, ok := cfg.ChannelEntryByName(name)
		if !ok || e.Credentials.BotToken == "" {
			continue
		}
		hasToken = true
		if e.Type == config.ChannelTelegram {
			check("token: "+name, true, probeTelegramToken(ctx, e.Credentials.BotToken))
		}
	}
	if !hasToken {
		check("channel token", false, "none; run `tg setup`")
	}
	check("paired user", cfg.HasPairedUser(), pick(cfg.HasPairedUser(), "yes", "none; run `tg pair`"))

	// daemon
	if cli, err := client.New(paths); err != nil {
		check("daemon", false, err.Error())
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		h, err := cli.Health(probeCtx)
		cancel()
		if err != nil {
			check("daemon", false, "not running (starts automatically with `tg <tool>`)")
		} else {
			up := time.Since(time.UnixMilli(h.StartedAt)).Round(time.Second)
			check("daemon", true, fmt.Sprintf("pid %d, up %s", h.PID, up))
		}
	}

	// tools
	for _, tool := range wrappedTools {
		path, err := exec.LookPath(tool)
		if err != nil {
			fmt.Printf("%-4s  %-28s not on PATH\n", "--", "tool: "+tool)
			continue
		}
		version := toolVersion(ctx, path)
		check("tool: "+tool, true, strings.TrimSpace(path+"  "+version))
	}

	// leftover manifests from crashed wrappers
	stale := 0
	for _, m := range wrapper.ReadManifests(paths) {
		if proc, err := os.FindProcess(m.PID); err != nil || proc.Signal(syscall.Signal(0)) != nil {
			stale++
		}
	}
	check("session manifests", stale == 0, pick(stale == 0, "clean", fmt.Sprintf("%d stale manifest(s) under %s", stale, paths.SessionsDir)))
	return failed
}

// probeTelegramToken calls getMe so a revoked token shows up here instead of
// as a silent dead poller later.
func probeTelegramToken(ctx context.Context, token string) string {
	bot, err := telego.NewBot(token)
	if err != nil {
		return "invalid: " + err.Error()
	}
	meCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	me, err := bot.GetMe(meCtx)
	if err != nil {
		return "unverified (" + err.Error() + ")"
	}
	return "@" + me.Username
}

func toolVersion(ctx context.Context, path string) string {
	vctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(vctx, path, "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return line
}

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
