// Package api implements the platform-facing HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/despensa-ai/despensa/internal/agent"
	"github.com/despensa-ai/despensa/internal/buildinfo"
	"github.com/despensa-ai/despensa/internal/events"
	"github.com/despensa-ai/despensa/internal/memory"
	"github.com/despensa-ai/despensa/internal/relay"
)

// turnTimeout bounds a detached turn accepted via send_message. A turn
// that runs this long is stuck on a provider, not still working.
const turnTimeout = 5 * time.Minute

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	handler *agent.Handler
	store   *memory.Store
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, handler *agent.Handler, store *memory.Store, bus *events.Bus, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		handler: handler,
		store:   store,
		bus:     bus,
		logger:  logger,
	}
}

// routes builds the request mux. Split from Start so tests can serve
// the full route table through httptest.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Turn processing
	mux.HandleFunc("POST /api/v1/send_message", s.handleSendMessage)
	mux.HandleFunc("POST /api/v1/send_message/stream", s.handleSendMessageStream)

	// Health and ops endpoints
	mux.HandleFunc("GET /api/v1/{$}", s.handleRoot)
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/version", s.handleVersion)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Thread administration
	mux.HandleFunc("GET /api/v1/threads/{id}/history", s.handleThreadHistory)
	mux.HandleFunc("GET /api/v1/threads/{id}/transcript", s.handleThreadTranscript)
	mux.HandleFunc("DELETE /api/v1/threads/{id}", s.handleThreadClear)

	// Event feed
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or [Server.Shutdown] is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// decodeMessage parses and validates an inbound turn message. On
// failure it writes the error response and returns ok=false.
func (s *Server) decodeMessage(w http.ResponseWriter, r *http.Request) (*relay.Message, bool) {
	var msg relay.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if msg.ThreadID == "" {
		s.errorResponse(w, http.StatusBadRequest, "thread_id is required")
		return nil, false
	}
	if msg.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return nil, false
	}
	return &msg, true
}

// handleSendMessage accepts a turn for asynchronous processing. The
// turn's output is delivered to the message's stream_url; the HTTP
// response only acknowledges acceptance.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.decodeMessage(w, r)
	if !ok {
		return
	}
	if msg.StreamURL == "" {
		s.errorResponse(w, http.StatusUnprocessableEntity, "stream_url is required")
		return
	}
	if msg.ResponseID == "" {
		msg.ResponseID = uuid.New().String()
	}

	sink := relay.NewCallbackSink(s.logger)

	// Once accepted, the turn runs to completion detached from the
	// request context; the platform has already been told 202.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
		defer cancel()
		if err := s.handler.Process(ctx, msg, sink); err != nil {
			s.logger.Error("async turn failed",
				"thread", msg.ThreadID,
				"response_uuid", msg.ResponseID,
				"error", err,
			)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"status":        "accepted",
		"response_uuid": msg.ResponseID,
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"name":    "Despensa",
		"version": buildinfo.Version,
		"status":  "ok",
		"endpoints": []string{
			"POST /api/v1/send_message",
			"POST /api/v1/send_message/stream",
			"GET /api/v1/health",
			"GET /api/v1/version",
			"GET /api/v1/stats",
			"GET /api/v1/threads/{id}/history",
			"GET /api/v1/threads/{id}/transcript",
			"DELETE /api/v1/threads/{id}",
			"GET /api/v1/events",
		},
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":  "healthy",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"agent":      s.handler.Stats(),
		"memory":     s.store.Stats(),
		"uptime":     buildinfo.Uptime().String(),
		"goroutines": runtime.NumGoroutine(),
	}, s.logger)
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns := s.store.History(id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"thread_id": id,
		"count":     len(turns),
		"turns":     turns,
	}, s.logger)
}

func (s *Server) handleThreadClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.store.Clear(id)
	s.logger.Info("thread cleared", "thread", id)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"status":    "cleared",
		"thread_id": id,
	}, s.logger)
}
