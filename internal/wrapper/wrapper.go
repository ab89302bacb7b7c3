// Package wrapper implements `tg <tool>`: it spawns the coding tool in a
// PTY, registers the session with the daemon, tails the tool's transcript,
// and bridges queued chat input back into the terminal.
package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/touchgrasshq/touchgrass/internal/client"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/resume"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// inputPollTimeout bounds one long-poll round trip; the daemon holds the
// request up to 25 s.
const inputPollTimeout = 35 * time.Second

// Options configure one wrapper run.
type Options struct {
	Tool        string
	Args        []string
	ChannelSpec string // --channel value; "" binds the owner DM
	Paths       home.Paths
	Log         *slog.Logger
}

// Runner is one `tg <tool>` invocation, possibly spanning several tool
// processes when /restart relaunches with a resume ref.
type Runner struct {
	opts Options
	cli  *client.Client
	log  *slog.Logger

	sessionID   string
	ownerUserID string
	boundChat   string

	mu            sync.Mutex
	pendingResume string
}

// Run executes the wrapper end to end and returns the tool's exit code.
func Run(ctx context.Context, opts Options) (int, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	cfg, err := config.LoadOrDefault(opts.Paths.ConfigFile)
	if err != nil {
		return 1, err
	}
	if err := Preflight(cfg, opts.Tool); err != nil {
		return 1, err
	}

	cli, err := EnsureDaemon(ctx, opts.Paths, log)
	if err != nil {
		return 1, err
	}

	r := &Runner{
		opts:        opts,
		cli:         cli,
		log:         log,
		ownerUserID: firstPairedUser(cfg),
	}

	if !strings.EqualFold(opts.ChannelSpec, "none") {
		chats, err := cli.Channels(ctx)
		if err != nil {
			log.Debug("channel listing failed", "error", err)
		}
		chatID, err := PickChannel(chats, opts.ChannelSpec, r.ownerUserID)
		if err != nil {
			return 1, err
		}
		r.boundChat = chatID
	}

	cwd, err := os.Getwd()
	if err != nil {
		return 1, err
	}

	command := opts.Tool
	if len(opts.Args) > 0 {
		command += " " + strings.Join(opts.Args, " ")
	}
	sessionID, err := cli.Register(ctx, "", command, cwd, r.boundChat, r.ownerUserID)
	if err != nil {
		return 1, fmt.Errorf("register session: %w", err)
	}
	r.sessionID = sessionID
	if r.boundChat != "" {
		if err := cli.BindChat(ctx, sessionID, r.boundChat); err != nil {
			log.Warn("bind chat failed", "chat", r.boundChat, "error", err)
		}
	}

	args := opts.Args
	resumeRef, _ := resume.ExtractRef(opts.Tool, args)
	exitCode := 0
	for {
		exitCode, err = r.runOnce(ctx, cwd, args, resumeRef)
		if err != nil {
			break
		}
		ref := r.takePendingResume()
		if ref == "" {
			break
		}
		rewritten, rwErr := resume.BuildResumeCommandArgs(opts.Tool, args, ref)
		if rwErr != nil {
			log.Error("resume rewrite failed", "ref", ref, "error", rwErr)
			break
		}
		log.Info("relaunching with resume", "ref", ref)
		args = rewritten
		resumeRef = ref
	}

	exitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if exitErr := cli.Exit(exitCtx, sessionID, exitCode); exitErr != nil {
		log.Debug("exit report failed", "error", exitErr)
	}
	cancel()
	RemoveManifest(opts.Paths, sessionID)
	return exitCode, err
}

// runOnce spawns the tool once and bridges it until it exits.
func (r *Runner) runOnce(ctx context.Context, cwd string, args []string, resumeRef string) (int, error) {
	toolPath, err := exec.LookPath(r.opts.Tool)
	if err != nil {
		return 1, err
	}

	snapshot := transcript.Snapshot(r.opts.Tool, cwd, userHomeDir())

	cmd := exec.Command(toolPath, args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TOUCHGRASS_SESSION_ID="+r.sessionID,
		home.EnvHome+"="+r.opts.Paths.Root,
	)

	size := &pty.Winsize{Cols: 80, Rows: 24}
	if cols, rows, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
		size = &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return 1, fmt.Errorf("start %s: %w", r.opts.Tool, err)
	}
	defer ptmx.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// keep the laptop awake while the tool runs unattended
	if runtime.GOOS == "darwin" {
		caffeinate := exec.Command("caffeinate", "-dims", "-w", fmt.Sprint(cmd.Process.Pid))
		if err := caffeinate.Start(); err == nil {
			go func() { _ = caffeinate.Wait() }()
		}
	}

	if err := WriteManifest(r.opts.Paths, Manifest{
		ID:        r.sessionID,
		Command:   strings.Join(append([]string{r.opts.Tool}, args...), " "),
		Cwd:       cwd,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}); err != nil {
		r.log.Debug("manifest write failed", "error", err)
	}

	// window resizes follow the local terminal
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()

	// raw local TTY so keys pass through unmangled
	if term.IsTerminal(int(os.Stdin.Fd())) {
		if oldState, err := term.MakeRaw(int(os.Stdin.Fd())); err == nil {
			defer term.Restore(int(os.Stdin.Fd()), oldState)
		}
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()

	buffer := &rollingBuffer{}
	scanner := newApprovalScanner(r.opts.Tool, func(sctx context.Context, prompt string, options []string) {
		postCtx, pcancel := context.WithTimeout(sctx, 5*time.Second)
		defer pcancel()
		if err := r.cli.ApprovalNeeded(postCtx, r.sessionID, prompt, options); err != nil {
			r.log.Debug("approval post failed", "error", err)
		}
	}, r.log)

	go r.pumpPTY(runCtx, ptmx, buffer, scanner)
	go r.tailTranscript(runCtx, cwd, resumeRef, snapshot)
	go r.inputLoop(runCtx, ptmx, cmd, scanner)

	err = cmd.Wait()
	cancel()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return 1, err
	}
}

// pumpPTY mirrors tool output to the local terminal and the rolling buffer.
func (r *Runner) pumpPTY(ctx context.Context, ptmx io.Reader, buffer *rollingBuffer, scanner *approvalScanner) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			_, _ = os.Stdout.Write(buf[:n])
			_, _ = buffer.Write(buf[:n])
			if scanner != nil {
				scanner.Scan(ctx, buffer.String())
			}
		}
		if err != nil {
			return
		}
	}
}

// tailTranscript locates the jsonl file and streams its events to the daemon.
func (r *Runner) tailTranscript(ctx context.Context, cwd, resumeRef string, snapshot map[string]bool) {
	userHome := userHomeDir()
	path, err := LocateTranscript(ctx, r.opts.Tool, cwd, userHome, resumeRef, snapshot)
	if err != nil {
		r.log.Warn("transcript not found, chat output disabled", "error", err)
		return
	}
	r.log.Info("tailing transcript", "path", path)

	if err := SetManifestTranscript(r.opts.Paths, r.sessionID, path); err != nil {
		r.log.Debug("manifest update failed", "error", err)
	}

	tailer := NewTailer(r.opts.Tool, cwd, userHome, path, func(ev transcript.Event) {
		r.pushEvent(ctx, ev)
	}, r.log)
	if err := tailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Debug("tailer stopped", "error", err)
	}
}

// pushEvent forwards one parsed transcript event to the daemon.
func (r *Runner) pushEvent(ctx context.Context, ev transcript.Event) {
	postCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	id := r.sessionID
	if ev.AssistantText != "" {
		r.report(r.cli.Assistant(postCtx, id, ev.AssistantText))
	}
	if ev.Thinking != "" {
		r.report(r.cli.Thinking(postCtx, id, ev.Thinking))
	}
	for _, tc := range ev.ToolCalls {
		r.report(r.cli.ToolCall(postCtx, id, tc))
	}
	for _, tr := range ev.ToolResults {
		r.report(r.cli.ToolResult(postCtx, id, tr))
	}
	if len(ev.Questions) > 0 {
		r.report(r.cli.Question(postCtx, id, ev.Questions))
	}
	for _, job := range ev.Jobs {
		r.report(r.cli.BackgroundJob(postCtx, id, job))
	}
}

func (r *Runner) report(err error) {
	if err != nil {
		r.log.Debug("event push failed", "error", err)
	}
}

// inputLoop long-polls the daemon for queued input and control actions.
func (r *Runner) inputLoop(ctx context.Context, ptmx io.Writer, cmd *exec.Cmd, scanner *approvalScanner) {
	rec := newRecoveryController(r.cli, r.sessionID, r.opts.Tool, cmd.Dir, r.ownerUserID, r.boundChat, r.log)
	signalTool := func(kill bool) {
		if cmd.Process == nil {
			return
		}
		if kill {
			_ = cmd.Process.Kill()
		} else {
			_ = cmd.Process.Signal(syscall.SIGINT)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		pollCtx, cancel := context.WithTimeout(ctx, inputPollTimeout)
		resp, err := r.cli.Input(pollCtx, r.sessionID)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !rec.Recovering() {
				r.log.Debug("input poll failed", "error", err)
			}
			rec.Recover(ctx)
			continue
		}
		if resp.Unknown {
			rec.Recover(ctx)
			continue
		}
		rec.setGroups(resp.Groups)

		if resp.ControlAction != nil {
			if outcome := r.applyControl(ctx, resp.ControlAction, ptmx, signalTool); outcome != nil {
				if outcome.resumeRef != "" {
					r.setPendingResume(outcome.resumeRef)
				}
				return
			}
		}
		for _, line := range resp.Input {
			if err := writeInputLine(ptmx, line); err != nil {
				r.log.Debug("pty write failed", "error", err)
			}
			if scanner != nil {
				scanner.Reset()
			}
		}
	}
}

func (r *Runner) setPendingResume(ref string) {
	r.mu.Lock()
	r.pendingResume = ref
	r.mu.Unlock()
}

func (r *Runner) takePendingResume() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := r.pendingResume
	r.pendingResume = ""
	return ref
}

// firstPairedUser returns the earliest-paired user across all channels.
func firstPairedUser(cfg *config.Config) string {
	best := ""
	var bestAt time.Time
	for _, name := range cfg.ChannelNames() {
		entry, ok := cfg.ChannelEntryByName(name)
		if !ok {
			continue
		}
		for _, u := range entry.PairedUsers {
			if best == "" || u.PairedAt.Before(bestAt) {
				best, bestAt = u.UserID, u.PairedAt
			}
		}
	}
	return best
}

func userHomeDir() string {
	h, _ := os.UserHomeDir()
	return h
}
