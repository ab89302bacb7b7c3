// Package daemon is the long-lived background process: it owns the channel
// adapters, the session manager, the output pipeline, and the local control
// API that wrappers and CLI subcommands talk to.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/pairing"
	"github.com/touchgrasshq/touchgrass/internal/router"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/telemetry"
)

const (
	reapInterval    = time.Minute
	staleSessionAge = 10 * time.Minute
	flowTTL         = 30 * time.Minute
	uploadsTTL      = 24 * time.Hour
	janitorInterval = time.Hour
)

// Run boots the daemon and blocks until ctx is cancelled or /shutdown is
// called. It returns after all channels and the control server have stopped.
func Run(ctx context.Context, paths home.Paths, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("ensure home dirs: %w", err)
	}
	if err := claimPidFile(paths.PidFile, log); err != nil {
		return err
	}
	defer os.Remove(paths.PidFile)
	defer os.Remove(paths.SocketFile)
	defer os.Remove(paths.PortFile)

	authToken, err := LoadOrCreateAuthToken(paths.AuthFile)
	if err != nil {
		return err
	}
	if err := InstallHookScript(paths.HookScript); err != nil {
		log.Warn("hook script install failed", "error", err)
	}

	cfg, err := config.LoadOrDefault(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	telemetryShutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn("telemetry setup failed", "error", err)
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = telemetryShutdown(flushCtx)
		}()
	}

	sessions := session.NewManager(log)
	flows := session.NewFlowStore()
	peek := session.NewPeekBuffer()
	codes := pairing.NewCodes()
	registry := NewRegistry(cfg, paths, log)
	pipeline := output.NewPipeline(sessions, flows, peek, cfg, registry, paths.BoardsFile, log)
	userHome, _ := os.UserHomeDir()
	rt := router.New(cfg, paths.ConfigFile, sessions, flows, pipeline, registry, codes, userHome, log)

	registry.Start(ctx,
		func(msg channel.InboundMessage) { rt.Route(ctx, msg) },
		func(ans channel.PollAnswer) { rt.HandlePollAnswer(ctx, ans) },
		rt.HandleDeadChat,
	)
	defer registry.Stop()

	srv := NewServer(paths, cfg, sessions, flows, peek, pipeline, rt, registry, codes, authToken, shutdown, log)

	go runScheduledTasks(ctx, paths, sessions, flows, peek, codes, registry, log)

	log.Info("daemon up", "pid", os.Getpid(), "home", paths.Root, "channels", registry.Count())
	return srv.Start(ctx)
}

// claimPidFile takes over the pid file, terminating any live predecessor.
// Two daemons polling the same bot token would split updates between them.
func claimPidFile(path string, log *slog.Logger) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 && pid != os.Getpid() {
			if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
				log.Warn("terminating previous daemon", "pid", pid)
				_ = proc.Signal(syscall.SIGTERM)
				time.Sleep(200 * time.Millisecond)
				if proc.Signal(syscall.Signal(0)) == nil {
					_ = proc.Kill()
				}
			}
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

// runScheduledTasks drives the periodic sweeps: stale-session reaping,
// pairing-code expiry, abandoned flow expiry, and the uploads janitor.
func runScheduledTasks(ctx context.Context, paths home.Paths, sessions *session.Manager, flows *session.FlowStore, peek *session.PeekBuffer, codes *pairing.Codes, registry *Registry, log *slog.Logger) {
	reap := time.NewTicker(reapInterval)
	janitor := time.NewTicker(janitorInterval)
	defer reap.Stop()
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reap.C:
			codes.Sweep()
			flows.Expire(flowTTL)
			for _, reaped := range sessions.ReapStale(staleSessionAge) {
				id := reaped.Session.ID
				log.Info("reaped stale session", "session", id, "lastSeen", reaped.Session.LastSeenAt)
				flows.DropSession(id)
				peek.Drop(id)
				if reaped.BoundChatID == "" {
					continue
				}
				if ch, ok := registry.ChannelFor(reaped.BoundChatID); ok {
					sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
					notice := ch.Formatter().Italic("Session went quiet and was cleaned up.")
					if err := ch.Send(sendCtx, reaped.BoundChatID, notice); err != nil {
						log.Warn("reap notice failed", "chat", reaped.BoundChatID, "error", err)
					}
					cancel()
				}
			}
		case <-janitor.C:
			sweepUploads(paths.UploadsDir, uploadsTTL, log)
		}
	}
}

// sweepUploads deletes downloaded attachments older than the TTL.
func sweepUploads(dir string, ttl time.Duration, log *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-ttl)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Debug("upload sweep failed", "file", e.Name(), "error", err)
		}
	}
}
