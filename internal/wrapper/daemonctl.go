package wrapper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/client"
	"github.com/touchgrasshq/touchgrass/internal/home"
)

// EnsureDaemon returns a client for a healthy daemon, spawning one if none
// answers. When the installed binary is newer than the running daemon and no
// sessions are active, the old daemon is restarted so new code takes effect.
func EnsureDaemon(ctx context.Context, paths home.Paths, log *slog.Logger) (*client.Client, error) {
	cli, err := client.New(paths)
	if err != nil {
		return nil, err
	}

	probe, cancel := context.WithTimeout(ctx, 2*time.Second)
	h, err := cli.Health(probe)
	cancel()
	if err == nil {
		if daemonIsStale(h.StartedAt) {
			st, stErr := cli.Status(ctx)
			if stErr == nil && len(st.Sessions) == 0 {
				log.Info("daemon binary updated, restarting daemon", "pid", h.PID)
				_ = cli.Shutdown(ctx)
				waitGone(ctx, cli)
				return spawnDaemon(ctx, paths, cli, log)
			}
			log.Debug("daemon is stale but has active sessions, keeping it")
		}
		return cli, nil
	}
	return spawnDaemon(ctx, paths, cli, log)
}

// daemonIsStale compares the daemon's start time with the executable mtime.
func daemonIsStale(startedAtMillis int64) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	info, err := os.Stat(exe)
	if err != nil {
		return false
	}
	return info.ModTime().After(time.UnixMilli(startedAtMillis))
}

func waitGone(ctx context.Context, cli *client.Client) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		probe, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		_, err := cli.Health(probe)
		cancel()
		if err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// spawnDaemon launches `tg daemon` detached and waits for it to answer.
func spawnDaemon(ctx context.Context, paths home.Paths, cli *client.Client, log *slog.Logger) (*client.Client, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate own binary: %w", err)
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, "daemon")
	cmd.Env = append(os.Environ(), home.EnvHome+"="+paths.Root)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}
	_ = cmd.Process.Release()
	log.Info("daemon spawned", "pid", cmd.Process.Pid)

	if _, err := cli.WaitHealthy(ctx, 10*time.Second); err != nil {
		return nil, err
	}
	return cli, nil
}
