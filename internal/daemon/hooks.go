package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Claude Code hook events the daemon understands.
const (
	hookPermissionRequest = "PermissionRequest"
	hookUserPromptSubmit  = "UserPromptSubmit"
	hookStop              = "Stop"
)

// defaultApprovalOptions mirror Claude's local permission prompt so the poll
// answer maps onto the same keypress positions.
var defaultApprovalOptions = []string{
	"Yes",
	"Yes, and don't ask again this session",
	"No, and tell Claude what to do differently",
}

type hookRequest struct {
	HookEventName         string          `json:"hook_event_name"`
	ToolName              string          `json:"tool_name,omitempty"`
	ToolInput             json.RawMessage `json:"tool_input,omitempty"`
	PermissionSuggestions []string        `json:"permission_suggestions,omitempty"`
	Prompt                string          `json:"prompt,omitempty"`
}

// handleHook ingests Claude Code hook callbacks. Claude is the one tool whose
// approval prompts arrive here instead of via PTY buffer scanning.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req hookRequest
	if err := s.decode(w, r, &req); err != nil {
		return
	}
	if !s.knownSession(w, id) {
		return
	}

	switch req.HookEventName {
	case hookPermissionRequest:
		prompt := "Claude wants to use a tool"
		if req.ToolName != "" {
			prompt = fmt.Sprintf("Claude wants to run %s", req.ToolName)
			if detail := toolInputSummary(req.ToolInput); detail != "" {
				prompt += ": " + detail
			}
		}
		options := req.PermissionSuggestions
		if len(options) == 0 {
			options = defaultApprovalOptions
		}
		if err := s.pipeline.ApprovalNeeded(id, prompt, options); err != nil {
			s.writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
	case hookUserPromptSubmit:
		// a turn is starting; show typing until output flows
		s.pipeline.Typing(id, true)
	case hookStop:
		s.pipeline.Typing(id, false)
	default:
		s.writeErr(w, http.StatusBadRequest, "unknown hook event "+req.HookEventName)
		return
	}
	s.writeOK(w, nil)
}

// toolInputSummary pulls the most descriptive field out of a tool_input blob.
func toolInputSummary(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return ""
	}
	for _, key := range []string{"command", "file_path", "path", "url", "pattern", "description"} {
		if v, ok := input[key].(string); ok && v != "" {
			if len(v) > 200 {
				v = v[:200] + "…"
			}
			return v
		}
	}
	return ""
}

// hookScript is the shell shim Claude Code invokes for each hook event. It
// forwards stdin untouched to the daemon, keyed by the session id the wrapper
// exports. Failures are swallowed so a dead daemon never blocks the tool.
const hookScript = `#!/bin/sh
# Installed by touchgrass. Forwards Claude Code hook events to the daemon.
[ -n "$TOUCHGRASS_SESSION_ID" ] || exit 0
AUTH_FILE="${TOUCHGRASS_HOME:-$HOME/.touchgrass}/daemon.auth"
SOCK="${TOUCHGRASS_HOME:-$HOME/.touchgrass}/daemon.sock"
[ -r "$AUTH_FILE" ] || exit 0
curl -s -m 5 --unix-socket "$SOCK" \
  -H "X-Touchgrass-Auth: $(cat "$AUTH_FILE")" \
  -H "Content-Type: application/json" \
  --data-binary @- \
  "http://daemon/hook/$TOUCHGRASS_SESSION_ID" >/dev/null 2>&1 || true
exit 0
`

// InstallHookScript writes the Claude hook shim if it is missing or stale.
func InstallHookScript(path string) error {
	if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == strings.TrimSpace(hookScript) {
		return nil
	}
	return os.WriteFile(path, []byte(hookScript), 0o755)
}
