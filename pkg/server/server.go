// Package server exposes the webhook HTTP surface of the assistant.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/donnahq/donna/pkg/config"
	"github.com/donnahq/donna/pkg/memory"
	"github.com/donnahq/donna/pkg/observability"
	"github.com/donnahq/donna/pkg/protocol"
)

// Handler is the pipeline surface the server drives. Implemented by
// pipeline.Orchestrator.
type Handler interface {
	HandleMessage(ctx context.Context, inbound *protocol.InboundMessage) (*protocol.Outcome, error)
}

// Server is the webhook HTTP server.
type Server struct {
	cfg     config.ServerConfig
	handler Handler
	memory  *memory.ConversationMemory
	metrics *observability.Metrics
	logger  *slog.Logger

	httpServer *http.Server
}

// New creates the server. metrics may be nil.
func New(cfg config.ServerConfig, handler Handler, mem *memory.ConversationMemory, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		memory:  mem,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(s.requireSecret).Post("/webhook", s.handleWebhook)
		r.Get("/users/{userID}/memory/stats", s.handleMemoryStats)
	})
	return r
}

// Start serves until ctx is canceled, then drains with a short grace
// period.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var inbound protocol.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&inbound); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if inbound.UserID == "" || inbound.Text == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}

	outcome, err := s.handler.HandleMessage(r.Context(), &inbound)
	if err != nil {
		s.logger.Error("Webhook handling failed", "user", inbound.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}
	writeJSON(w, http.StatusOK, s.memory.GetStats(userID))
}

// requireSecret enforces the shared webhook secret when configured.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebhookSecret != "" {
			got := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid webhook secret")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
