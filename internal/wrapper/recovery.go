package wrapper

import (
	"context"
	"log/slog"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/client"
)

// recovery states. The controller sits between the input loop and the
// daemon: when the daemon forgets us (restart, reap) it re-registers with
// the same session id and rebinds the chat, then goes back to idle.
const (
	recoveryIdle = iota
	recoveryActive
)

const (
	recoveryBackoffMin = 500 * time.Millisecond
	recoveryBackoffMax = 10 * time.Second
)

type recoveryController struct {
	cli         *client.Client
	sessionID   string
	command     string
	cwd         string
	ownerUserID string
	boundChat   string
	log         *slog.Logger

	state   int
	backoff time.Duration
	// groups the daemon last reported for this session; only the input loop
	// goroutine touches this
	groups []string
}

func newRecoveryController(cli *client.Client, sessionID, command, cwd, ownerUserID, boundChat string, log *slog.Logger) *recoveryController {
	return &recoveryController{
		cli:         cli,
		sessionID:   sessionID,
		command:     command,
		cwd:         cwd,
		ownerUserID: ownerUserID,
		boundChat:   boundChat,
		log:         log,
		backoff:     recoveryBackoffMin,
	}
}

// Recovering reports whether ordinary logging should be suppressed.
func (rc *recoveryController) Recovering() bool { return rc.state == recoveryActive }

// setGroups remembers the session's group subscriptions as of the latest
// successful poll, so a later Recover can restore them.
func (rc *recoveryController) setGroups(groups []string) { rc.groups = groups }

// Recover re-registers the session, rebinds the chat, and re-subscribes the
// previously known groups. It blocks through its backoff and returns true once
// registration succeeded. Registration is idempotent on id, so a daemon that
// never lost us ends up unchanged.
func (rc *recoveryController) Recover(ctx context.Context) bool {
	if rc.state == recoveryIdle {
		rc.state = recoveryActive
		rc.backoff = recoveryBackoffMin
		rc.log.Warn("daemon lost this session, recovering", "session", rc.sessionID)
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(rc.backoff):
	}
	rc.backoff = min(rc.backoff*2, recoveryBackoffMax)

	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	id, err := rc.cli.Register(regCtx, rc.sessionID, rc.command, rc.cwd, rc.boundChat, rc.ownerUserID)
	if err != nil {
		return false
	}
	if rc.boundChat != "" {
		if err := rc.cli.BindChat(regCtx, id, rc.boundChat); err != nil {
			rc.log.Debug("rebind failed", "error", err)
		}
	}
	for _, g := range rc.groups {
		if err := rc.cli.SubscribeGroup(regCtx, id, g); err != nil {
			rc.log.Debug("group resubscribe failed", "chat", g, "error", err)
		}
	}
	rc.state = recoveryIdle
	rc.log.Info("session recovered", "session", rc.sessionID)
	return true
}
