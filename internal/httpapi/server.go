package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmverd/switchboard/internal/call"
	"github.com/jmverd/switchboard/internal/config"
	"github.com/jmverd/switchboard/internal/history"
	"github.com/jmverd/switchboard/internal/observability"
	"github.com/jmverd/switchboard/internal/protocol"
	"github.com/jmverd/switchboard/internal/registry"
	"github.com/jmverd/switchboard/internal/relay"
)

// Server exposes the websocket relay endpoint plus a small read-only REST
// surface for dashboards and health probes.
type Server struct {
	cfg      config.Config
	reg      *registry.Registry
	store    *call.Store
	coord    *relay.Coordinator
	sink     history.Sink
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, reg *registry.Registry, store *call.Store, coord *relay.Coordinator, sink history.Sink, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		coord:   coord,
		sink:    sink,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from our own origin unless
				// explicitly opened up; device clients omit Origin entirely.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Get("/v1/connections", s.handleListConnections)
	r.Get("/v1/history", s.handleHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"triage_provider":    s.cfg.TriageProvider,
		"active_connections": s.reg.Count(),
		"active_calls":       s.store.ActiveCount(),
	})
}

// handleWS upgrades the connection, registers it under a fresh id and pumps
// inbound messages into the relay until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	transport := newWSTransport(conn, s.cfg.OutboundQueueSize, s.metrics)

	if _, err := s.reg.Register(connID, transport); err != nil {
		_ = transport.Close()
		return
	}
	s.metrics.ActiveConnections.Set(float64(s.reg.Count()))
	go transport.writeLoop()

	defer func() {
		s.reg.Unregister(connID)
		s.metrics.ActiveConnections.Set(float64(s.reg.Count()))
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(timeNow().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(timeNow().Add(readIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(timeNow().Add(readIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.RouterErrors.WithLabelValues("invalid_client_message").Inc()
			_ = transport.WriteJSON(protocol.ErrorReply{
				Type:   protocol.TypeErrorReply,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		s.coord.HandleMessage(connID, parsed)
	}
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	sessions := s.store.ListActive()
	views := make([]protocol.CallView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, relay.ViewOf(sess))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"calls": views,
		"count": len(views),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			respondError(w, http.StatusNotFound, "call_not_found", "no active call with id "+id)
			return
		}
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, relay.ViewOf(sess))
}

func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.reg.ListActive()
	respondJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		respondError(w, http.StatusServiceUnavailable, "history_unavailable", "no history sink configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 200 {
		limit = 200
	}

	records, err := s.sink.RecentCalls(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"calls": records,
		"count": len(records),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
