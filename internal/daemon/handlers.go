package daemon

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/touchgrasshq/touchgrass/internal/address"
	"github.com/touchgrasshq/touchgrass/internal/channel"
	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/resume"
	"github.com/touchgrasshq/touchgrass/internal/session"
	"github.com/touchgrasshq/touchgrass/internal/skills"
	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// --- liveness / coordination ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeOK(w, map[string]any{
		"pid":       os.Getpid(),
		"startedAt": s.startedAt.UnixMilli(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.List()
	s.writeOK(w, map[string]any{
		"pid":       os.Getpid(),
		"startedAt": s.startedAt.UnixMilli(),
		"channels":  s.registry.Count(),
		"sessions":  sessions,
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.writeOK(w, nil)
	s.log.Info("shutdown requested over control API")
	s.requestShutdown()
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, _ *http.Request) {
	s.writeOK(w, map[string]any{
		"code":             s.codes.Generate(),
		"expiresInSeconds": 600,
	})
}

// --- channel discovery / config ---

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	var chats []channel.VisibleChat
	for _, ch := range s.registry.All() {
		visible, err := ch.VisibleChats(ctx)
		if err != nil {
			s.log.Warn("visible chats failed", "channel", ch.Name(), "error", err)
			continue
		}
		chats = append(chats, visible...)
	}
	s.writeOK(w, map[string]any{"chats": chats})
}

func (s *Server) handleConfigChannels(w http.ResponseWriter, _ *http.Request) {
	entries := make(map[string]config.ChannelEntry)
	for _, name := range s.cfg.ChannelNames() {
		if e, ok := s.cfg.ChannelEntryByName(name); ok {
			entries[name] = e
		}
	}
	s.writeOK(w, map[string]any{"channels": entries})
}

func (s *Server) handlePutConfigChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var entry config.ChannelEntry
	if err := s.decode(w, r, &entry); err != nil {
		return
	}
	if entry.Type == "" {
		s.writeErr(w, http.StatusBadRequest, "channel type is required")
		return
	}
	s.cfg.SetChannelEntry(name, entry)
	s.saveConfig()
	s.writeOK(w, nil)
}

func (s *Server) handleDeleteConfigChannel(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DeleteChannelEntry(r.PathValue("name")) {
		s.writeErr(w, http.StatusNotFound, "no such channel entry")
		return
	}
	s.saveConfig()
	s.writeOK(w, nil)
}

func (s *Server) saveConfig() {
	if err := config.Save(s.paths.ConfigFile, s.cfg); err != nil {
		s.log.Error("config save failed", "error", err)
	}
}

// --- session registration ---

type registerRequest struct {
	ID          string `json:"id,omitempty"`
	Command     string `json:"command"`
	Cwd         string `json:"cwd"`
	ChatID      string `json:"chatId,omitempty"`
	OwnerUserID string `json:"ownerUserId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Command == "" || req.Cwd == "" {
		s.writeErr(w, http.StatusBadRequest, "command and cwd are required")
		return
	}
	sess := s.sessions.RegisterRemote(req.Command, req.ChatID, req.OwnerUserID, req.Cwd, req.ID)
	s.log.Info("session registered", "session", sess.ID, "command", req.Command, "cwd", req.Cwd)
	s.writeOK(w, map[string]any{"sessionId": sess.ID})
}

type bindChatRequest struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
}

func (s *Server) handleBindChat(w http.ResponseWriter, r *http.Request) {
	var req bindChatRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.SessionID == "" || req.ChatID == "" {
		s.writeErr(w, http.StatusBadRequest, "sessionId and chatId are required")
		return
	}
	if address.IsGroupChat(req.ChatID) {
		s.sessions.SubscribeGroup(req.SessionID, req.ChatID)
	}
	if !s.sessions.Attach(req.ChatID, req.SessionID) {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		ExitCode int `json:"exitCode"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	boundChat, ok := s.sessions.EndRemote(id)
	if !ok {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.pipeline.SessionEnded(id, boundChat, req.ExitCode)
	s.log.Info("session exited", "session", id, "exitCode", req.ExitCode)
	s.writeOK(w, nil)
}

// handleInput is the wrapper's long-poll: it blocks until input or a control
// action is queued, then drains both atomically. Unknown ids get
// {unknown:true} so the wrapper re-registers instead of erroring forever.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		s.writeOK(w, map[string]any{"unknown": true})
		return
	}
	s.sessions.WaitForWork(id, inputPollWait)
	lines, err := s.sessions.DrainInput(id)
	if err != nil {
		s.writeOK(w, map[string]any{"unknown": true})
		return
	}
	action, _ := s.sessions.DrainControl(id)
	// groups ride along so the wrapper can re-subscribe them after recovery
	resp := map[string]any{
		"input":  lines,
		"groups": s.sessions.SubscribedGroups(id),
	}
	if action != nil {
		resp["controlAction"] = action
	}
	s.writeOK(w, resp)
}

// handleSubscribeGroup re-adds a group chat to a session's fan-out set.
// Wrapper recovery calls this for each group it knew before a daemon restart.
func (s *Server) handleSubscribeGroup(w http.ResponseWriter, r *http.Request) {
	var req bindChatRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.SessionID == "" || req.ChatID == "" {
		s.writeErr(w, http.StatusBadRequest, "sessionId and chatId are required")
		return
	}
	if !s.sessions.SubscribeGroup(req.SessionID, req.ChatID) {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

// --- event ingestion ---

// knownSession maps a path id to 404 when the wrapper outlived its session.
func (s *Server) knownSession(w http.ResponseWriter, id string) bool {
	if _, ok := s.sessions.Get(id); !ok {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return false
	}
	return true
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeErr(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.Assistant(id, req.Text)
	s.writeOK(w, nil)
}

func (s *Server) handleThinking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeErr(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.Thinking(id, req.Text)
	s.writeOK(w, nil)
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var tc transcript.ToolCall
	if err := s.decode(w, r, &tc); err != nil {
		return
	}
	if tc.Name == "" {
		s.writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.ToolCall(id, tc)
	s.writeOK(w, nil)
}

func (s *Server) handleToolResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var tr transcript.ToolResult
	if err := s.decode(w, r, &tr); err != nil {
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.ToolResult(id, tr)
	s.writeOK(w, nil)
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Questions []transcript.Question `json:"questions"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if len(req.Questions) == 0 {
		s.writeErr(w, http.StatusBadRequest, "questions are required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	if err := s.pipeline.Question(id, req.Questions); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleApprovalNeeded(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Prompt  string   `json:"prompt"`
		Options []string `json:"options"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Prompt == "" || len(req.Options) == 0 {
		s.writeErr(w, http.StatusBadRequest, "prompt and options are required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	if err := s.pipeline.ApprovalNeeded(id, req.Prompt, req.Options); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleBackgroundJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var ev transcript.JobEvent
	if err := s.decode(w, r, &ev); err != nil {
		return
	}
	if ev.TaskID == "" || ev.Status == "" {
		s.writeErr(w, http.StatusBadRequest, "taskId and status are required")
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.BackgroundJob(id, ev)
	s.writeOK(w, nil)
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Active bool `json:"active"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if !s.knownSession(w, id) {
		return
	}
	s.pipeline.Typing(id, req.Active)
	s.writeOK(w, nil)
}

// --- user-driven actions ---

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.RequestStop(r.PathValue("id")) {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleSessionKill(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.RequestKill(r.PathValue("id")) {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleSessionRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		SessionRef string `json:"sessionRef,omitempty"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	ref := req.SessionRef
	if ref == "" {
		sess, ok := s.sessions.Get(id)
		if !ok {
			s.writeErr(w, http.StatusNotFound, "unknown session")
			return
		}
		tool, args := splitArgv(sess.Command)
		inferred, found := resume.ExtractRef(tool, args)
		if !found {
			s.writeErr(w, http.StatusBadRequest, "no resume reference on the session command line")
			return
		}
		ref = inferred
	}
	if !resume.SafeRef(ref) {
		s.writeErr(w, http.StatusBadRequest, "invalid session reference")
		return
	}
	if !s.sessions.RequestResume(id, ref) {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeErr(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.sessions.QueueInput(id, req.Text); err != nil {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return
	}
	s.writeOK(w, nil)
}

// handleSendMessage posts text straight to the session's bound chat,
// bypassing the PTY.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Text == "" {
		s.writeErr(w, http.StatusBadRequest, "text is required")
		return
	}
	ch, chatID, ok := s.boundChannel(w, id)
	if !ok {
		return
	}
	if err := ch.Send(r.Context(), chatID, ch.Formatter().FromMarkdown(req.Text)); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Path    string `json:"path"`
		Caption string `json:"caption,omitempty"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Path == "" {
		s.writeErr(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, err := os.Stat(req.Path); err != nil {
		s.writeErr(w, http.StatusBadRequest, "file not readable: "+req.Path)
		return
	}
	ch, chatID, ok := s.boundChannel(w, id)
	if !ok {
		return
	}
	if err := ch.SendDocument(r.Context(), chatID, req.Path, req.Caption); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) boundChannel(w http.ResponseWriter, id string) (channel.Channel, string, bool) {
	if _, ok := s.sessions.Get(id); !ok {
		s.writeErr(w, http.StatusNotFound, "unknown session")
		return nil, "", false
	}
	chatID, ok := s.sessions.BoundChat(id)
	if !ok {
		s.writeErr(w, http.StatusBadRequest, "session has no bound chat")
		return nil, "", false
	}
	ch, ok := s.registry.ChannelFor(chatID)
	if !ok {
		s.writeErr(w, http.StatusBadRequest, "no channel for chat "+chatID)
		return nil, "", false
	}
	return ch, chatID, true
}

// --- read-only queries ---

func (s *Server) handleRecentSessions(w http.ResponseWriter, r *http.Request) {
	tool := r.URL.Query().Get("tool")
	cwd := r.URL.Query().Get("cwd")
	if tool == "" || cwd == "" {
		s.writeErr(w, http.StatusBadRequest, "tool and cwd are required")
		return
	}
	userHome, _ := os.UserHomeDir()
	candidates, err := transcript.RecentSessions(tool, cwd, userHome, 40)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, map[string]any{"sessions": candidates})
}

func (s *Server) handleBackgroundJobs(w http.ResponseWriter, r *http.Request) {
	cwd := r.URL.Query().Get("cwd")
	s.writeOK(w, map[string]any{"jobs": s.sessions.AllJobs(cwd)})
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	var entries []session.PeekEntry
	if id := r.URL.Query().Get("session"); id != "" {
		entries = s.peek.Recent(id, n)
	} else {
		entries = s.peek.All(n)
	}
	s.writeOK(w, map[string]any{"events": entries})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	cwd := r.URL.Query().Get("cwd")
	if cwd == "" {
		s.writeErr(w, http.StatusBadRequest, "cwd is required")
		return
	}
	userHome, _ := os.UserHomeDir()
	s.writeOK(w, map[string]any{"skills": skills.List(cwd, userHome)})
}

func (s *Server) handleGetSoul(w http.ResponseWriter, r *http.Request) {
	cwd := r.URL.Query().Get("cwd")
	if cwd == "" {
		s.writeErr(w, http.StatusBadRequest, "cwd is required")
		return
	}
	content, ok := skills.ReadSoul(cwd)
	s.writeOK(w, map[string]any{"exists": ok, "content": content})
}

func (s *Server) handlePostSoul(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cwd     string `json:"cwd"`
		Content string `json:"content"`
	}
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if req.Cwd == "" {
		s.writeErr(w, http.StatusBadRequest, "cwd is required")
		return
	}
	if err := skills.WriteSoul(req.Cwd, req.Content); err != nil {
		s.writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeOK(w, nil)
}

// splitArgv splits a stored command line into tool and args on whitespace.
// Session commands are recorded from argv, so no quoting survives to here.
func splitArgv(command string) (tool string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
