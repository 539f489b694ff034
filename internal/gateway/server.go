// Package gateway exposes the operator HTTP surface: health, service
// snapshots, on-demand polls, and a WebSocket stream of polling events.
// Authentication is out of scope; bind to loopback unless fronted by a
// proxy.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/poller"
	"github.com/depsdash/depsdash/internal/store"
)

// Config holds gateway server configuration.
type Config struct {
	// Host is the network interface to bind to (e.g., "127.0.0.1").
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// Server is the operator-facing HTTP server. Safe for concurrent use.
type Server struct {
	config    *Config
	store     *store.Store
	scheduler *poller.Scheduler
	upgrader  websocket.Upgrader
	server    *http.Server
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates a gateway over the given store and scheduler. The
// server is not started until Start is called.
func NewServer(config *Config, st *store.Store, sched *poller.Scheduler) *Server {
	return &Server{
		config:    config,
		store:     st,
		scheduler: sched,
		logger:    logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				// Local origins only; external sites cannot connect.
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.running = true
	go func() {
		s.logger.Info("Gateway listening", slog.String("addr", addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Gateway server error", slog.Any("error", err))
		}
	}()
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/services", s.handleListServices)
	mux.HandleFunc("GET /api/services/{id}/dependencies", s.handleListDependencies)
	mux.HandleFunc("POST /api/services/{id}/poll", s.handlePollNow)
	mux.HandleFunc("GET /ws/events", s.handleEventsWebSocket)
	return mux
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_pollers": len(s.scheduler.ActivePollers()),
	})
}

// serviceView is the JSON shape of one service in the snapshot listing.
type serviceView struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	TeamID              string `json:"team_id,omitempty"`
	HealthEndpoint      string `json:"health_endpoint"`
	IsActive            bool   `json:"is_active"`
	IsExternal          bool   `json:"is_external"`
	LastPollSuccess     *bool  `json:"last_poll_success"`
	LastPollError       string `json:"last_poll_error,omitempty"`
	Tracked             bool   `json:"tracked"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.store.ListServices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}

	views := make([]serviceView, 0, len(services))
	for _, svc := range services {
		v := serviceView{
			ID:              svc.ID,
			Name:            svc.Name,
			TeamID:          svc.TeamID,
			HealthEndpoint:  svc.HealthEndpoint,
			IsActive:        svc.IsActive,
			IsExternal:      svc.IsExternal,
			LastPollSuccess: svc.LastPollSuccess,
			LastPollError:   svc.LastPollError,
		}
		if st := s.scheduler.GetPollState(svc.ID); st != nil {
			v.Tracked = true
			v.ConsecutiveFailures = st.ConsecutiveFailures
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetService(id); err != nil {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	deps, err := s.store.ListDependencies(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dependencies")
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.scheduler.PollNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	status := http.StatusOK
	if !result.Success && result.Error == "Service is currently being polled" {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
