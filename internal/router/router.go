// Package router interprets inbound chat messages: pairing, linking, session
// commands, pickers, and free-form stdin input for the attached session.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/pairing"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

// Router is the single entry point for inbound chat traffic.
type Router struct {
	cfg        *config.Config
	configPath string
	sessions   *session.Manager
	flows      *session.FlowStore
	pipeline   *output.Pipeline
	resolver   output.Resolver
	codes      *pairing.Codes
	homeDir    string
	log        *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // per-user /pair rate limit
}

// New assembles a router.
func New(cfg *config.Config, configPath string, sessions *session.Manager, flows *session.FlowStore, pipeline *output.Pipeline, resolver output.Resolver, codes *pairing.Codes, homeDir string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		configPath: configPath,
		sessions:   sessions,
		flows:      flows,
		pipeline:   pipeline,
		resolver:   resolver,
		codes:      codes,
		homeDir:    homeDir,
		log:        log,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Route handles one inbound message end to end.
func (r *Router) Route(ctx context.Context, msg channel.InboundMessage) {
	cmd, rest := splitCommand(msg.Text)

	// pairing is open to everyone, rate-limited
	if cmd == "/pair" {
		r.handlePair(ctx, msg, rest)
		return
	}
	if cmd == "/start" || cmd == "/help" {
		r.reply(ctx, msg.ChatID, helpText(r.isPaired(msg)))
		return
	}
	if !r.isPaired(msg) {
		r.reply(ctx, msg.ChatID, "This chat isn't paired yet. Run `tg pair` on your machine, then send /pair <code> here.")
		return
	}

	// groups must be linked before anything else works in them
	if msg.IsGroup && !r.isLinked(msg.ChatID) && cmd != "/link" {
		r.reply(ctx, msg.ChatID, "This group isn't linked. Send /link to connect it.")
		return
	}

	switch cmd {
	case "/link":
		r.handleLink(ctx, msg, rest)
	case "/unlink":
		r.handleUnlink(ctx, msg)
	case "/sessions":
		r.handleSessions(ctx, msg)
	case "/attach", "/session":
		r.handleAttach(ctx, msg, rest)
	case "/detach":
		r.handleDetach(ctx, msg)
	case "/stop":
		r.handleControl(ctx, msg, session.ControlStop)
	case "/kill":
		r.handleControl(ctx, msg, session.ControlKill)
	case "/restart":
		r.handleRestart(ctx, msg)
	case "/resume":
		r.handleResumePicker(ctx, msg)
	case "/files":
		r.handleFilePicker(ctx, msg, rest)
	case "/output_mode":
		r.handleOutputMode(ctx, msg)
	case "/thinking":
		r.handleThinking(ctx, msg)
	case "/background_jobs":
		r.handleBackgroundJobs(ctx, msg)
	default:
		r.handleStdinInput(ctx, msg)
	}
}

// handlePair redeems a pairing code. Always allowed, but a token bucket
// throttles guessing.
func (r *Router) handlePair(ctx context.Context, msg channel.InboundMessage, code string) {
	if !r.pairLimiter(msg.UserID).Allow() {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		r.reply(ctx, msg.ChatID, "Usage: /pair <code> — get a code with `tg pair` on your machine.")
		return
	}
	if !r.codes.Redeem(code) {
		r.reply(ctx, msg.ChatID, "That code didn't match. Codes expire after 10 minutes; run `tg pair` again for a fresh one.")
		return
	}

	addr, err := address.Parse(msg.UserID)
	if err != nil {
		r.log.Error("unparseable user id on pair", "user", msg.UserID, "error", err)
		return
	}
	channelName := r.channelNameFor(addr)
	r.cfg.AddPairedUser(channelName, config.PairedUser{
		UserID:   msg.UserID,
		Username: msg.Username,
		PairedAt: time.Now(),
	})
	r.saveConfig()
	r.log.Info("user paired", "user", msg.UserID, "channel", channelName)
	r.reply(ctx, msg.ChatID, "Paired. Start a session with `tg claude` (or codex, pi, kimi) and drive it from here.")
	r.syncMenu(ctx, msg)
}

// channelNameFor picks the config entry matching a user's address: its named
// account when set, otherwise the first entry of its type.
func (r *Router) channelNameFor(addr address.Address) string {
	if addr.ChannelName != "" {
		return addr.ChannelName
	}
	if name, _, ok := r.cfg.FirstChannelOfType(addr.Type); ok {
		return name
	}
	return addr.Type
}

func (r *Router) pairLimiter(userID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[userID]
	if !ok {
		// 5 attempts, refilling one per 30 s
		l = rate.NewLimiter(rate.Every(30*time.Second), 5)
		r.limiters[userID] = l
	}
	return l
}

func (r *Router) isPaired(msg channel.InboundMessage) bool {
	addr, err := address.Parse(msg.UserID)
	if err != nil {
		return false
	}
	return r.cfg.IsPaired(addr.Type, msg.UserID)
}

func (r *Router) isLinked(chatID string) bool {
	if r.cfg.IsLinkedGroup(chatID) {
		return true
	}
	// a linked parent covers its topics for the gate; topics still /link
	// themselves to subscribe
	return r.cfg.IsLinkedGroup(address.ParentChatID(chatID))
}

// targetSession resolves which session a chat message drives: the attached
// session first, else the sole session owned by the user in a DM.
func (r *Router) targetSession(msg channel.InboundMessage) (string, bool) {
	if id, ok := r.sessions.AttachedSession(msg.ChatID); ok {
		return id, true
	}
	if !msg.IsGroup {
		owned := r.sessions.OwnedSessions(msg.UserID)
		if len(owned) == 1 {
			return owned[0], true
		}
	}
	return "", false
}

func (r *Router) reply(ctx context.Context, chatID, text string) {
	ch, ok := r.resolver.ChannelFor(chatID)
	if !ok {
		r.log.Warn("no channel for reply", "chat", chatID)
		return
	}
	if err := ch.Send(ctx, chatID, ch.Formatter().FromMarkdown(text)); err != nil {
		r.log.Warn("reply failed", "chat", chatID, "error", err)
	}
}

func (r *Router) saveConfig() {
	if r.configPath == "" {
		return
	}
	if err := config.Save(r.configPath, r.cfg); err != nil {
		r.log.Error("config save failed", "error", err)
	}
}

func (r *Router) syncMenu(ctx context.Context, msg channel.InboundMessage) {
	ch, ok := r.resolver.ChannelFor(msg.ChatID)
	if !ok {
		return
	}
	_, hasSession := r.sessions.AttachedSession(msg.ChatID)
	state := channel.MenuState{
		Paired:        r.isPaired(msg),
		IsGroup:       msg.IsGroup,
		IsLinkedGroup: msg.IsGroup && r.isLinked(msg.ChatID),
		ActiveSession: hasSession,
	}
	if err := ch.SyncCommandMenu(ctx, msg.ChatID, msg.UserID, state); err != nil {
		r.log.Debug("menu sync failed", "chat", msg.ChatID, "error", err)
	}
}

// splitCommand separates a leading /command from its arguments.
func splitCommand(text string) (cmd, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(parts[0])
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return cmd, rest
}

func helpText(paired bool) string {
	if !paired {
		return "touchgrass bridges your local coding agents to this chat.\n\n" +
			"/pair <code> — pair with the daemon (`tg pair` prints the code)\n" +
			"/help — this message"
	}
	return "Session commands:\n" +
		"/sessions — list running sessions\n" +
		"/attach — attach this chat to a session\n" +
		"/detach — detach this chat\n" +
		"/stop — interrupt the current turn (Ctrl-C)\n" +
		"/kill — kill the session\n" +
		"/restart — restart the tool resuming this conversation\n" +
		"/resume — pick a past conversation to resume\n" +
		"/files [query] — mention repo files in your next message\n" +
		"/output_mode — simple or verbose tool output\n" +
		"/thinking — toggle reasoning output\n" +
		"/background_jobs — running background jobs\n" +
		"/link, /unlink — connect or disconnect a group chat\n\n" +
		"Anything else you type goes to the session as input."
}
