// Package httpapi exposes the sync protocol over HTTP: paged change pulls,
// idempotent pushes and a WebSocket change feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/server/auth"
	"github.com/ddanilov/podvault/internal/server/sync"
	"github.com/ddanilov/podvault/internal/syncwire"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// Server routes the sync endpoints to the service layer.
type Server struct {
	service  *sync.Service
	hub      *Hub
	secret   []byte
	logger   logging.Logger
	upgrader websocket.Upgrader
}

func NewServer(service *sync.Service, hub *Hub, secret []byte, logger logging.Logger) *Server {
	return &Server{
		service: service,
		hub:     hub,
		secret:  secret,
		logger:  logger.With("module", "httpapi"),
	}
}

// Handler returns the routed handler. All sync endpoints require a bearer
// token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/changes", auth.Middleware(s.secret, http.HandlerFunc(s.handleChanges)))
	mux.Handle("POST /v1/push", auth.Middleware(s.secret, http.HandlerFunc(s.handlePush)))
	mux.Handle("GET /v1/subscribe", auth.Middleware(s.secret, http.HandlerFunc(s.handleSubscribe)))
	return mux
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxPageSize)
	}

	cs, err := s.service.Pull(ctx, r.URL.Query().Get("since"), limit)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			http.Error(w, "invalid since token", http.StatusBadRequest)
			return
		}
		s.logger.Error(ctx, "pull failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, cs)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := syncwire.PushRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	results, err := s.service.Push(ctx, auth.DeviceIDFromContext(ctx), req.Items)
	if err != nil {
		s.logger.Error(ctx, "push failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, syncwire.PushResponse{Results: results})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}
	s.logger.Debug(r.Context(), "subscriber connected",
		"device_id", auth.DeviceIDFromContext(r.Context()))
	s.hub.Attach(conn)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "failed to encode response", "error", err)
	}
}
