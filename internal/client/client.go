// Package client is the HTTP client side of the daemon control API, shared
// by the wrapper and the CLI subcommands. It speaks over the unix socket
// (loopback TCP on Windows) with the shared-secret header on every request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/daemon"
	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// Client talks to one daemon instance.
type Client struct {
	http  *http.Client
	base  string
	token string
}

// New builds a client for the daemon at the given home. The auth file is
// created if absent so a client started before the first daemon run shares
// the same secret the daemon will load.
func New(paths home.Paths) (*Client, error) {
	token, err := daemon.LoadOrCreateAuthToken(paths.AuthFile)
	if err != nil {
		return nil, err
	}
	c := &Client{token: token}
	if paths.UseSocket() {
		sock := paths.SocketFile
		c.base = "http://daemon"
		c.http = &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sock)
				},
			},
		}
		return c, nil
	}
	data, err := os.ReadFile(paths.PortFile)
	if err != nil {
		return nil, fmt.Errorf("daemon port file: %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("daemon port file: %w", err)
	}
	c.base = fmt.Sprintf("http://127.0.0.1:%d", port)
	c.http = &http.Client{}
	return c, nil
}

// apiError is a non-2xx control API response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("daemon: %s (HTTP %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set(daemon.AuthHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Ok    bool   `json:"ok"`
		Error string `json:"error"`
	}
	raw, err := readAll(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("daemon: malformed response: %w", err)
	}
	if !envelope.Ok {
		msg := envelope.Error
		if msg == "" {
			msg = resp.Status
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func readAll(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// --- liveness / coordination ---

// Health describes a live daemon.
type Health struct {
	PID       int   `json:"pid"`
	StartedAt int64 `json:"startedAt"` // unix millis
}

// Health probes the daemon; an error means none is reachable.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	return h, err
}

// Status summarizes the daemon and its sessions.
type Status struct {
	PID       int                     `json:"pid"`
	StartedAt int64                   `json:"startedAt"`
	Channels  int                     `json:"channels"`
	Sessions  []session.RemoteSession `json:"sessions"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.get(ctx, "/status", &st)
	return st, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", nil, nil)
}

// GenerateCode mints a pairing code with its TTL in seconds.
func (c *Client) GenerateCode(ctx context.Context) (code string, expiresIn int, err error) {
	var resp struct {
		Code             string `json:"code"`
		ExpiresInSeconds int    `json:"expiresInSeconds"`
	}
	err = c.post(ctx, "/generate-code", nil, &resp)
	return resp.Code, resp.ExpiresInSeconds, err
}

// Channels lists chats visible to the daemon's adapters.
func (c *Client) Channels(ctx context.Context) ([]channel.VisibleChat, error) {
	var resp struct {
		Chats []channel.VisibleChat `json:"chats"`
	}
	err := c.get(ctx, "/channels", &resp)
	return resp.Chats, err
}

// --- session registration ---

// Register announces a wrapper session. An empty id asks the daemon to mint
// one; passing the previous id makes registration idempotent for recovery.
func (c *Client) Register(ctx context.Context, id, command, cwd, chatID, ownerUserID string) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	err := c.post(ctx, "/remote/register", map[string]string{
		"id": id, "command": command, "cwd": cwd, "chatId": chatID, "ownerUserId": ownerUserID,
	}, &resp)
	return resp.SessionID, err
}

func (c *Client) BindChat(ctx context.Context, sessionID, chatID string) error {
	return c.post(ctx, "/remote/bind-chat", map[string]string{
		"sessionId": sessionID, "chatId": chatID,
	}, nil)
}

// SubscribeGroup re-adds a group chat to the session's fan-out set without
// touching the chat attachment; used when recovering after a daemon restart.
func (c *Client) SubscribeGroup(ctx context.Context, sessionID, chatID string) error {
	return c.post(ctx, "/remote/subscribe-group", map[string]string{
		"sessionId": sessionID, "chatId": chatID,
	}, nil)
}

func (c *Client) Exit(ctx context.Context, sessionID string, exitCode int) error {
	return c.post(ctx, "/remote/"+sessionID+"/exit", map[string]int{"exitCode": exitCode}, nil)
}

// InputResponse is one long-poll result. Groups mirrors the session's current
// group subscriptions so the wrapper can restore them during recovery.
type InputResponse struct {
	Unknown       bool                   `json:"unknown"`
	Input         []string               `json:"input"`
	Groups        []string               `json:"groups"`
	ControlAction *session.ControlAction `json:"controlAction"`
}

// Input long-polls for queued input and control actions. The daemon holds the
// request up to ~25 s; callers should allow at least 30 s in ctx.
func (c *Client) Input(ctx context.Context, sessionID string) (InputResponse, error) {
	var resp InputResponse
	err := c.get(ctx, "/remote/"+sessionID+"/input", &resp)
	return resp, err
}

// --- event ingestion ---

func (c *Client) Assistant(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, "/remote/"+sessionID+"/assistant", map[string]string{"text": text}, nil)
}

func (c *Client) Thinking(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, "/remote/"+sessionID+"/thinking", map[string]string{"text": text}, nil)
}

func (c *Client) ToolCall(ctx context.Context, sessionID string, tc transcript.ToolCall) error {
	return c.post(ctx, "/remote/"+sessionID+"/tool-call", tc, nil)
}

func (c *Client) ToolResult(ctx context.Context, sessionID string, tr transcript.ToolResult) error {
	return c.post(ctx, "/remote/"+sessionID+"/tool-result", tr, nil)
}

func (c *Client) Question(ctx context.Context, sessionID string, questions []transcript.Question) error {
	return c.post(ctx, "/remote/"+sessionID+"/question", map[string]any{"questions": questions}, nil)
}

func (c *Client) ApprovalNeeded(ctx context.Context, sessionID, prompt string, options []string) error {
	return c.post(ctx, "/remote/"+sessionID+"/approval-needed", map[string]any{
		"prompt": prompt, "options": options,
	}, nil)
}

func (c *Client) BackgroundJob(ctx context.Context, sessionID string, ev transcript.JobEvent) error {
	return c.post(ctx, "/remote/"+sessionID+"/background-job", ev, nil)
}

func (c *Client) Typing(ctx context.Context, sessionID string, active bool) error {
	return c.post(ctx, "/remote/"+sessionID+"/typing", map[string]bool{"active": active}, nil)
}

// --- user-driven actions ---

func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/session/"+sessionID+"/stop", nil, nil)
}

func (c *Client) KillSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/session/"+sessionID+"/kill", nil, nil)
}

// RestartSession asks the wrapper to relaunch, resuming sessionRef ("" infers
// the ref from the session's own command line).
func (c *Client) RestartSession(ctx context.Context, sessionID, sessionRef string) error {
	body := map[string]string{}
	if sessionRef != "" {
		body["sessionRef"] = sessionRef
	}
	return c.post(ctx, "/session/"+sessionID+"/restart", body, nil)
}

func (c *Client) SendInput(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, "/remote/"+sessionID+"/send-input", map[string]string{"text": text}, nil)
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	return c.post(ctx, "/remote/"+sessionID+"/send-message", map[string]string{"text": text}, nil)
}

func (c *Client) SendFile(ctx context.Context, sessionID, path, caption string) error {
	return c.post(ctx, "/remote/"+sessionID+"/send-file", map[string]string{
		"path": path, "caption": caption,
	}, nil)
}

// RecentSessions lists resumable transcripts for the resume picker.
func (c *Client) RecentSessions(ctx context.Context, tool, cwd string) ([]transcript.Candidate, error) {
	var resp struct {
		Sessions []transcript.Candidate `json:"sessions"`
	}
	q := url.Values{"tool": {tool}, "cwd": {cwd}}
	err := c.get(ctx, "/sessions/recent?"+q.Encode(), &resp)
	return resp.Sessions, err
}

// BackgroundJobs lists jobs across sessions, optionally filtered by cwd.
func (c *Client) BackgroundJobs(ctx context.Context, cwd string) (map[string][]session.BackgroundJob, error) {
	var resp struct {
		Jobs map[string][]session.BackgroundJob `json:"jobs"`
	}
	path := "/background-jobs"
	if cwd != "" {
		path += "?cwd=" + url.QueryEscape(cwd)
	}
	err := c.get(ctx, path, &resp)
	return resp.Jobs, err
}

// Peek returns recent outbound events, optionally for one session.
func (c *Client) Peek(ctx context.Context, sessionID string, n int) ([]session.PeekEntry, error) {
	var resp struct {
		Events []session.PeekEntry `json:"events"`
	}
	q := url.Values{}
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if n > 0 {
		q.Set("n", strconv.Itoa(n))
	}
	path := "/peek"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	err := c.get(ctx, path, &resp)
	return resp.Events, err
}

// WaitHealthy polls /health until the daemon answers or the deadline passes.
func (c *Client) WaitHealthy(ctx context.Context, timeout time.Duration) (Health, error) {
	deadline := time.Now().Add(timeout)
	for {
		probe, cancel := context.WithTimeout(ctx, time.Second)
		h, err := c.Health(probe)
		cancel()
		if err == nil {
			return h, nil
		}
		if time.Now().After(deadline) {
			return Health{}, fmt.Errorf("daemon did not come up within %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return Health{}, ctx.Err()
		case <-time.After(150 * time.Millisecond):
		}
	}
}
