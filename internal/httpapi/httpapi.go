// Package httpapi implements the tunnel server's HTTP front end: the
// /tun WebSocket upgrade gate, the /trace diagnostic endpoint, and the
// Prometheus /metrics exposition.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wstunnel/server/internal/manager"
	"github.com/wstunnel/server/internal/metrics"
)

// Server wires the documented HTTP routing table onto a Manager.
type Server struct {
	mgr        *manager.Manager
	upgrader   websocket.Upgrader
	tunnelPath string
	authSecret string
	log        *slog.Logger
}

// Config bundles the construction-time parameters of the HTTP front
// end.
type Config struct {
	TunnelPath string
	// AuthSecret, when non-empty, requires every /tun upgrade request
	// to carry a valid HMAC token (teacher's scheme, see auth.go).
	// Auth is named as an external-collaborator concern in the tunnel
	// engine's scope, so it is optional here rather than mandatory.
	AuthSecret string
}

// NewServer builds the HTTP front end around a Manager.
func NewServer(mgr *manager.Manager, cfg Config, log *slog.Logger) *Server {
	return &Server{
		mgr:        mgr,
		tunnelPath: cfg.TunnelPath,
		authSecret: cfg.AuthSecret,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Mux returns the configured *http.ServeMux implementing the routing
// table of spec §6: /tun, /trace, /metrics (if reg is non-nil), and a
// 404 default for everything else.
func (s *Server) Mux(metricsPath string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(s.tunnelPath, s.handleTunnel)
	mux.HandleFunc("/trace", s.handleTrace)
	if reg != nil {
		mux.Handle(metricsPath, metrics.Handler(reg))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return mux
}

// handleTunnel is the /tun upgrade gate. Non-upgrade requests receive
// 426; on upgrade, the resulting WebSocket is handed to the manager.
// A deferred recover guards the upgrade path: if anything panics after
// the WebSocket is already established, the client still receives a
// JSON error frame and a close with code 1011 rather than a silently
// dropped connection.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "Expected Upgrade: websocket", http.StatusUpgradeRequired)
		return
	}

	if s.authSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("X-Auth-Token")
		}
		if err := ValidateUpgradeToken(s.authSecret, token); err != nil {
			s.log.Warn("tunnel auth failed", "err", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic during tunnel accept", "panic", rec)
			payload, _ := json.Marshal(map[string]string{"error": "internal error"})
			conn.WriteMessage(websocket.TextMessage, payload)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
				time.Now().Add(time.Second))
			conn.Close()
		}
	}()

	s.mgr.Accept(conn)
}

// handleTrace implements the /trace diagnostic endpoint.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	for _, h := range []string{"Request-Nodes", "Request-Nodes-Timestamps", "User-Timestamp"} {
		if v := r.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Server-Timestamp", time.Now().UTC().Format(time.RFC3339))
	if r.Header.Get("Request-Id") == "" {
		w.Header().Set("Request-Id", uuid.NewString())
	} else {
		w.Header().Set("Request-Id", r.Header.Get("Request-Id"))
	}
	w.WriteHeader(http.StatusOK)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket" || r.Header.Get("Upgrade") == "Websocket"
}
