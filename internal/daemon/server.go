package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/touchgrasshq/touchgrass/internal/config"
	"github.com/touchgrasshq/touchgrass/internal/home"
	"github.com/touchgrasshq/touchgrass/internal/output"
	"github.com/touchgrasshq/touchgrass/internal/pairing"
	"github.com/touchgrasshq/touchgrass/internal/router"
	"github.com/touchgrasshq/touchgrass/internal/session"
)

const (
	maxBodyBytes = 1 << 20 // 1 MiB
	// long-poll ceiling for GET /remote/:id/input; clients time out at 30 s
	inputPollWait = 25 * time.Second
)

// Server is the local control API: loopback TCP or a unix socket, shared
// secret auth, JSON only.
type Server struct {
	paths      home.Paths
	cfg        *config.Config
	sessions   *session.Manager
	flows      *session.FlowStore
	peek       *session.PeekBuffer
	pipeline   *output.Pipeline
	router     *router.Router
	registry   *Registry
	codes      *pairing.Codes
	authToken  string
	startedAt  time.Time
	log        *slog.Logger
	httpServer *http.Server

	// requestShutdown asks the daemon loop to wind down; set by New.
	requestShutdown context.CancelFunc
}

// NewServer wires the control API around already-constructed collaborators.
func NewServer(paths home.Paths, cfg *config.Config, sessions *session.Manager, flows *session.FlowStore, peek *session.PeekBuffer, pipeline *output.Pipeline, rt *router.Router, registry *Registry, codes *pairing.Codes, authToken string, shutdown context.CancelFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		paths:           paths,
		cfg:             cfg,
		sessions:        sessions,
		flows:           flows,
		peek:            peek,
		pipeline:        pipeline,
		router:          rt,
		registry:        registry,
		codes:           codes,
		authToken:       authToken,
		startedAt:       time.Now(),
		log:             log,
		requestShutdown: shutdown,
	}
}

// BuildMux registers every route.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	mux.HandleFunc("POST /generate-code", s.handleGenerateCode)

	mux.HandleFunc("GET /channels", s.handleChannels)
	mux.HandleFunc("GET /config/channels", s.handleConfigChannels)
	mux.HandleFunc("PUT /config/channels/{name}", s.handlePutConfigChannel)
	mux.HandleFunc("DELETE /config/channels/{name}", s.handleDeleteConfigChannel)

	mux.HandleFunc("POST /remote/register", s.handleRegister)
	mux.HandleFunc("POST /remote/bind-chat", s.handleBindChat)
	mux.HandleFunc("POST /remote/subscribe-group", s.handleSubscribeGroup)
	mux.HandleFunc("POST /remote/{id}/exit", s.handleExit)
	mux.HandleFunc("GET /remote/{id}/input", s.handleInput)

	mux.HandleFunc("POST /remote/{id}/assistant", s.handleAssistant)
	mux.HandleFunc("POST /remote/{id}/thinking", s.handleThinking)
	mux.HandleFunc("POST /remote/{id}/tool-call", s.handleToolCall)
	mux.HandleFunc("POST /remote/{id}/tool-result", s.handleToolResult)
	mux.HandleFunc("POST /remote/{id}/question", s.handleQuestion)
	mux.HandleFunc("POST /remote/{id}/approval-needed", s.handleApprovalNeeded)
	mux.HandleFunc("POST /remote/{id}/background-job", s.handleBackgroundJob)
	mux.HandleFunc("POST /remote/{id}/typing", s.handleTyping)

	mux.HandleFunc("POST /session/{id}/stop", s.handleSessionStop)
	mux.HandleFunc("POST /session/{id}/kill", s.handleSessionKill)
	mux.HandleFunc("POST /session/{id}/restart", s.handleSessionRestart)
	mux.HandleFunc("POST /remote/{id}/send-input", s.handleSendInput)
	mux.HandleFunc("POST /remote/{id}/send-message", s.handleSendMessage)
	mux.HandleFunc("POST /remote/{id}/send-file", s.handleSendFile)

	mux.HandleFunc("GET /sessions/recent", s.handleRecentSessions)
	mux.HandleFunc("GET /background-jobs", s.handleBackgroundJobs)
	mux.HandleFunc("GET /peek", s.handlePeek)
	mux.HandleFunc("GET /skills", s.handleSkills)
	mux.HandleFunc("GET /agent-soul", s.handleGetSoul)
	mux.HandleFunc("POST /agent-soul", s.handlePostSoul)

	mux.HandleFunc("POST /hook/{id}", s.handleHook)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeErr(w, http.StatusNotFound, "unknown route")
	})
	return mux
}

// Start listens on the platform transport and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.middleware(s.BuildMux()),
		ReadHeaderTimeout: 10 * time.Second,
		// no write timeout: input long-polls hold the connection
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shCtx)
	}()

	s.log.Info("control server listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// listen binds the unix socket, or loopback TCP plus a port file on Windows.
func (s *Server) listen() (net.Listener, error) {
	if s.paths.UseSocket() {
		_ = os.Remove(s.paths.SocketFile)
		ln, err := net.Listen("unix", s.paths.SocketFile)
		if err != nil {
			return nil, fmt.Errorf("bind socket: %w", err)
		}
		if err := os.Chmod(s.paths.SocketFile, 0o600); err != nil {
			ln.Close()
			return nil, err
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind loopback: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := os.WriteFile(s.paths.PortFile, []byte(strconv.Itoa(port)+"\n"), 0o600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

var tracer = otel.Tracer("touchgrass/daemon")

// middleware enforces auth and the body cap on every route, and opens a
// trace span per request (no-op unless telemetry is configured).
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authEqual(r.Header.Get(AuthHeader), s.authToken) {
			s.writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decode reads a JSON body into dst, mapping oversize and malformed bodies to
// the right status codes. A nil error means dst is populated.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		s.writeErr(w, http.StatusRequestEntityTooLarge, "body exceeds 1 MiB")
		return err
	}
	s.writeErr(w, http.StatusBadRequest, "invalid JSON body")
	return err
}

func (s *Server) writeOK(w http.ResponseWriter, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["ok"] = true
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
