// Command agentcored is a minimal demonstration front door for the agent
// runtime core: it exposes the §6 `POST /reply` (SSE) and
// `POST /action-required/tool-confirmation` contract over plain net/http.
// Routing, auth, and TLS remain out of scope per spec.md §1 — this is
// intentionally the smallest process that exercises C1-C8 end to end,
// not a production gateway.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/goose-run/agentcore/pkg/config"
	"github.com/goose-run/agentcore/pkg/events"
	"github.com/goose-run/agentcore/pkg/logger"
	"github.com/goose-run/agentcore/pkg/manager"
	"github.com/goose-run/agentcore/pkg/observability"
	"github.com/goose-run/agentcore/pkg/provider"
	"github.com/goose-run/agentcore/pkg/reply"
	"github.com/goose-run/agentcore/pkg/session"
	"github.com/goose-run/agentcore/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (zero-config if omitted)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	tracing := flag.Bool("tracing", false, "Emit OpenTelemetry spans as newline-delimited JSON to stderr")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(*logLevel)
	log := logger.New(logger.Config{Level: level})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error("agentcored: load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	observability.SetGlobalMetrics(observability.NewMetrics("agentcore"))
	tracer, err := observability.NewTracer(observability.TracerConfig{Enabled: *tracing, ServiceName: "agentcore", Output: os.Stderr})
	if err != nil {
		log.Error("agentcored: init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Error("agentcored: open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	httpProv := provider.NewHTTPJSON(cfg.Provider.BaseURL, cfg.APIKey())
	factory := provider.NewSingleBindingFactory(cfg.Provider.Name, httpProv)

	catalog := manager.NewCatalog()
	catalog.Init(cfg.Extensions)

	mgr := manager.New(st, factory, catalog, cfg.ModelConfig())
	mgr.Log = log

	srv := newServer(mgr, catalog)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: observability.HTTPMiddleware(observability.GlobalMetrics(), srv),
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("agentcored: shutting down")
		mgr.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("agentcored: listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("agentcored: serve", "error", err)
		os.Exit(1)
	}
}

// server implements the two §6 HTTP endpoints.
type server struct {
	mux     *http.ServeMux
	manager *manager.Manager
	catalog *manager.Catalog
}

func newServer(mgr *manager.Manager, catalog *manager.Catalog) *server {
	s := &server{mux: http.NewServeMux(), manager: mgr, catalog: catalog}
	s.mux.HandleFunc("/reply", s.handleReply)
	s.mux.HandleFunc("/action-required/tool-confirmation", s.handleConfirmation)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", observability.GlobalMetrics().Handler())
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type replyRequest struct {
	SessionID       string                          `json:"session_id"`
	WorkingDir      string                          `json:"working_dir"`
	Mode            string                          `json:"mode"`
	ParentSessionID string                          `json:"parent_session_id"`
	Extensions      []session.ExtensionDescriptor   `json:"extensions"`
	Text            string                          `json:"text"`
	MaxTurns        int                             `json:"max_turns"`
}

// handleReply implements `POST /reply`: it resolves or creates the named
// session, appends the caller's message, and streams every subsequent
// event back as SSE until the loop's terminal Finish event (§4.5, §6).
func (s *server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	mode := session.ExecutionInteractive
	if req.Mode != "" {
		mode = session.ExecutionMode(req.Mode)
	}
	extensions := req.Extensions
	if extensions == nil {
		extensions = s.catalog.List()
	}

	ctx := r.Context()
	if _, err := s.manager.GetOrCreate(ctx, req.SessionID, req.WorkingDir, mode, req.ParentSessionID, extensions); err != nil {
		http.Error(w, fmt.Sprintf("session: %v", err), http.StatusInternalServerError)
		return
	}

	msg := session.NewMessage(session.RoleUser, session.TextContent{Text: req.Text})
	bus, err := s.manager.Reply(ctx, req.SessionID, &msg, reply.Options{MaxTurns: req.MaxTurns})
	if err != nil {
		http.Error(w, fmt.Sprintf("reply: %v", err), http.StatusConflict)
		return
	}

	stream, err := events.NewStreamWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	_ = stream.Pump(bus.Events(), ctx.Done(), events.DefaultPingInterval)
}

type confirmationRequest struct {
	SessionID  string `json:"session_id"`
	ToolCallID string `json:"tool_call_id"`
	Permission string `json:"permission"`
}

// handleConfirmation implements
// `POST /action-required/tool-confirmation`: it resolves a pending
// ToolApprovalRequested wait for one call id (§4.5.f, §6). A stale or
// unknown id maps to 409, mirroring ApprovalWaiter.Resolve's contract.
func (s *server) handleConfirmation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req confirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	waiter, ok := s.manager.ApprovalWaiter(req.SessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if err := waiter.Resolve(req.ToolCallID, reply.Permission(req.Permission)); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
