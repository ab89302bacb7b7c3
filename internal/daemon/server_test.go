package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/pairing"
	"github.com/touchgrasshq/touchgrass/internal/router"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

const testToken = "secret-token"

type testDaemon struct {
	srv      *httptest.Server
	sessions *session.Manager
	codes    *pairing.Codes
}

func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	paths := home.At(t.TempDir())
	if err := paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	sessions := session.NewManager(nil)
	flows := session.NewFlowStore()
	peek := session.NewPeekBuffer()
	codes := pairing.NewCodes()
	registry := NewRegistry(cfg, paths, nil)
	pipeline := output.NewPipeline(sessions, flows, peek, cfg, registry, paths.BoardsFile, nil)
	rt := router.New(cfg, paths.ConfigFile, sessions, flows, pipeline, registry, codes, t.TempDir(), nil)
	s := NewServer(paths, cfg, sessions, flows, peek, pipeline, rt, registry, codes, testToken, func() {}, nil)

	srv := httptest.NewServer(s.middleware(s.BuildMux()))
	t.Cleanup(srv.Close)
	return &testDaemon{srv: srv, sessions: sessions, codes: codes}
}

func (d *testDaemon) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, d.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(AuthHeader, testToken)
	resp, err := d.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("%s %s: bad JSON: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func TestAuthRequired(t *testing.T) {
	d := newTestDaemon(t)
	resp, err := d.srv.Client().Get(d.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != false {
		t.Errorf("envelope = %v", body)
	}
}

func TestHealth(t *testing.T) {
	d := newTestDaemon(t)
	status, body := d.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || body["ok"] != true {
		t.Fatalf("status=%d body=%v", status, body)
	}
	if body["pid"].(float64) <= 0 || body["startedAt"].(float64) <= 0 {
		t.Errorf("body = %v", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	d := newTestDaemon(t)
	status, body := d.do(t, http.MethodGet, "/no-such", nil)
	if status != http.StatusNotFound || body["ok"] != false {
		t.Errorf("status=%d body=%v", status, body)
	}
}

func TestRegisterIsIdempotentOnID(t *testing.T) {
	d := newTestDaemon(t)
	_, body := d.do(t, http.MethodPost, "/remote/register", map[string]any{
		"command": "claude", "cwd": "/proj", "ownerUserId": "telegram:7",
	})
	id := body["sessionId"].(string)
	if id == "" {
		t.Fatal("no session id")
	}
	_, body2 := d.do(t, http.MethodPost, "/remote/register", map[string]any{
		"id": id, "command": "claude", "cwd": "/proj", "ownerUserId": "telegram:7",
	})
	if body2["sessionId"] != id {
		t.Errorf("re-register changed id: %v vs %v", body2["sessionId"], id)
	}
	if d.sessions.Count() != 1 {
		t.Errorf("session count = %d", d.sessions.Count())
	}
}

func TestRegisterValidates(t *testing.T) {
	d := newTestDaemon(t)
	status, _ := d.do(t, http.MethodPost, "/remote/register", map[string]any{"command": "claude"})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d", status)
	}
}

func TestInputUnknownSession(t *testing.T) {
	d := newTestDaemon(t)
	status, body := d.do(t, http.MethodGet, "/remote/r-nope/input", nil)
	if status != http.StatusOK || body["unknown"] != true {
		t.Errorf("status=%d body=%v", status, body)
	}
}

func TestInputDrainsQueuedLinesAndControl(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")
	if err := d.sessions.QueueInput(s.ID, "hello", "world"); err != nil {
		t.Fatal(err)
	}
	d.sessions.RequestKill(s.ID)

	_, body := d.do(t, http.MethodGet, "/remote/"+s.ID+"/input", nil)
	input := body["input"].([]any)
	if len(input) != 2 || input[0] != "hello" || input[1] != "world" {
		t.Errorf("input = %v", input)
	}
	action := body["controlAction"].(map[string]any)
	if action["kind"] != session.ControlKill {
		t.Errorf("controlAction = %v", action)
	}

	// drain is destructive; pre-queue more work so the second poll returns fast
	if err := d.sessions.QueueInput(s.ID, "again"); err != nil {
		t.Fatal(err)
	}
	_, body = d.do(t, http.MethodGet, "/remote/"+s.ID+"/input", nil)
	input = body["input"].([]any)
	if len(input) != 1 || input[0] != "again" {
		t.Errorf("second input = %v", input)
	}
	if _, ok := body["controlAction"]; ok {
		t.Error("control action repeated after drain")
	}
}

func TestInputLongPollWakesOnQueue(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = d.sessions.QueueInput(s.ID, "wake up")
	}()
	start := time.Now()
	_, body := d.do(t, http.MethodGet, "/remote/"+s.ID+"/input", nil)
	if time.Since(start) > 5*time.Second {
		t.Fatal("long poll did not wake on queued input")
	}
	input := body["input"].([]any)
	if len(input) != 1 || input[0] != "wake up" {
		t.Errorf("input = %v", input)
	}
}

func TestInputCarriesGroupSubscriptions(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	status, _ := d.do(t, http.MethodPost, "/remote/subscribe-group", map[string]any{
		"sessionId": s.ID, "chatId": "-100987",
	})
	if status != http.StatusOK {
		t.Fatalf("subscribe status = %d", status)
	}
	status, _ = d.do(t, http.MethodPost, "/remote/subscribe-group", map[string]any{
		"sessionId": "r-nope", "chatId": "-100987",
	})
	if status != http.StatusNotFound {
		t.Errorf("unknown session subscribe status = %d", status)
	}

	if err := d.sessions.QueueInput(s.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	_, body := d.do(t, http.MethodGet, "/remote/"+s.ID+"/input", nil)
	groups := body["groups"].([]any)
	if len(groups) != 1 || groups[0] != "-100987" {
		t.Errorf("groups = %v", groups)
	}
}

func TestEventIngestionValidation(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	status, _ := d.do(t, http.MethodPost, "/remote/"+s.ID+"/assistant", map[string]any{"text": ""})
	if status != http.StatusBadRequest {
		t.Errorf("empty text status = %d", status)
	}
	status, _ = d.do(t, http.MethodPost, "/remote/r-nope/assistant", map[string]any{"text": "hi"})
	if status != http.StatusNotFound {
		t.Errorf("unknown session status = %d", status)
	}
	status, _ = d.do(t, http.MethodPost, "/remote/"+s.ID+"/assistant", map[string]any{"text": "hi"})
	if status != http.StatusOK {
		t.Errorf("valid assistant status = %d", status)
	}
	status, _ = d.do(t, http.MethodPost, "/remote/"+s.ID+"/background-job", map[string]any{"taskId": "bash_1"})
	if status != http.StatusBadRequest {
		t.Errorf("job without status = %d", status)
	}
}

func TestSessionControlEndpoints(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude --resume old-id", "", "telegram:7", "/proj", "")

	status, _ := d.do(t, http.MethodPost, "/session/"+s.ID+"/stop", nil)
	if status != http.StatusOK {
		t.Fatalf("stop status = %d", status)
	}
	a, _ := d.sessions.DrainControl(s.ID)
	if a == nil || a.Kind != session.ControlStop {
		t.Errorf("control = %+v", a)
	}

	// restart without a ref infers it from the command line
	status, _ = d.do(t, http.MethodPost, "/session/"+s.ID+"/restart", map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("restart status = %d", status)
	}
	a, _ = d.sessions.DrainControl(s.ID)
	if a == nil || a.Kind != session.ControlResume || a.SessionRef != "old-id" {
		t.Errorf("control = %+v", a)
	}

	status, _ = d.do(t, http.MethodPost, "/session/r-nope/kill", nil)
	if status != http.StatusNotFound {
		t.Errorf("kill unknown status = %d", status)
	}

	// hostile refs never reach the queue
	status, _ = d.do(t, http.MethodPost, "/session/"+s.ID+"/restart", map[string]any{"sessionRef": "x;rm -rf /"})
	if status != http.StatusBadRequest {
		t.Errorf("unsafe ref status = %d", status)
	}
}

func TestExitEndsSession(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	status, _ := d.do(t, http.MethodPost, "/remote/"+s.ID+"/exit", map[string]any{"exitCode": 0})
	if status != http.StatusOK {
		t.Fatalf("exit status = %d", status)
	}
	if _, ok := d.sessions.Get(s.ID); ok {
		t.Error("session survived exit")
	}
	status, body := d.do(t, http.MethodGet, "/remote/"+s.ID+"/input", nil)
	if status != http.StatusOK || body["unknown"] != true {
		t.Errorf("post-exit input: status=%d body=%v", status, body)
	}
}

func TestGenerateCodeRoundTrip(t *testing.T) {
	d := newTestDaemon(t)
	_, body := d.do(t, http.MethodPost, "/generate-code", nil)
	code := body["code"].(string)
	if code == "" {
		t.Fatal("no code")
	}
	if !d.codes.Redeem(strings.ToLower(code)) {
		t.Error("generated code did not redeem case-insensitively")
	}
}

func TestBodyLimits(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	big := strings.Repeat("a", maxBodyBytes+1)
	status, _ := d.do(t, http.MethodPost, "/remote/"+s.ID+"/assistant", map[string]any{"text": big})
	if status != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize status = %d", status)
	}

	req, _ := http.NewRequest(http.MethodPost, d.srv.URL+"/remote/"+s.ID+"/assistant", strings.NewReader("{not json"))
	req.Header.Set(AuthHeader, testToken)
	resp, err := d.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed status = %d", resp.StatusCode)
	}
}

func TestAgentSoulRoundTrip(t *testing.T) {
	d := newTestDaemon(t)
	cwd := t.TempDir()

	_, body := d.do(t, http.MethodGet, "/agent-soul?cwd="+cwd, nil)
	if body["exists"] != false {
		t.Fatalf("soul exists in fresh dir: %v", body)
	}
	status, _ := d.do(t, http.MethodPost, "/agent-soul", map[string]any{"cwd": cwd, "content": "# Soul\n"})
	if status != http.StatusOK {
		t.Fatalf("write status = %d", status)
	}
	_, body = d.do(t, http.MethodGet, "/agent-soul?cwd="+cwd, nil)
	if body["exists"] != true || body["content"] != "# Soul\n" {
		t.Errorf("soul = %v", body)
	}
}

func TestRecentSessionsValidates(t *testing.T) {
	d := newTestDaemon(t)
	status, _ := d.do(t, http.MethodGet, "/sessions/recent?tool=claude", nil)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d", status)
	}
}

func TestHookPermissionRequest(t *testing.T) {
	d := newTestDaemon(t)
	s := d.sessions.RegisterRemote("claude", "", "telegram:7", "/proj", "")

	status, _ := d.do(t, http.MethodPost, "/hook/r-nope", map[string]any{"hook_event_name": hookStop})
	if status != http.StatusNotFound {
		t.Errorf("unknown session status = %d", status)
	}
	status, _ = d.do(t, http.MethodPost, "/hook/"+s.ID, map[string]any{"hook_event_name": "Nonsense"})
	if status != http.StatusBadRequest {
		t.Errorf("unknown event status = %d", status)
	}
	// no bound chat: approval can't be posted anywhere, but the hook itself
	// must not fail the tool
	status, _ = d.do(t, http.MethodPost, "/hook/"+s.ID, map[string]any{"hook_event_name": hookStop})
	if status != http.StatusOK {
		t.Errorf("stop hook status = %d", status)
	}
}
