// Package manager implements the Tunnel Manager: the process-singleton
// registry mapping tunnel ids to Tunnels, accepting newly upgraded
// WebSockets, and driving the shared keepalive ticker.
package manager

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wstunnel/server/internal/egress"
	"github.com/wstunnel/server/internal/metrics"
	"github.com/wstunnel/server/internal/tunnel"
)

// Manager is the process-wide tunnel registry. The zero value is not
// usable; construct with New.
type Manager struct {
	cap            int
	keepaliveP     time.Duration
	maxMissedPings int
	dialer         *net.Dialer
	limiter        *rate.Limiter
	log            *slog.Logger
	metrics        *metrics.Collectors

	mu      sync.RWMutex
	tunnels map[string]*tunnel.Tunnel
	nextID  uint64

	tickerOnce sync.Once
}

// Config bundles the construction-time parameters a Manager needs to
// build each Tunnel it accepts.
type Config struct {
	Cap               int
	KeepaliveInterval time.Duration
	MaxMissedPings    int
	Dialer            *net.Dialer
	Limiter           *rate.Limiter
	Metrics           *metrics.Collectors
}

// New constructs an empty Manager. The shared keepalive ticker is not
// started until the first Accept, avoiding static-initialization-order
// hazards.
func New(cfg Config, log *slog.Logger) *Manager {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: egress.DefaultTimeout}
	}
	return &Manager{
		cap:            cfg.Cap,
		keepaliveP:     cfg.KeepaliveInterval,
		maxMissedPings: cfg.MaxMissedPings,
		dialer:         dialer,
		limiter:        cfg.Limiter,
		log:            log,
		metrics:        cfg.Metrics,
		tunnels:        make(map[string]*tunnel.Tunnel),
	}
}

// Accept wraps a freshly upgraded WebSocket connection in a new Tunnel,
// registers it, and — on the very first call — starts the shared
// keepalive ticker that periodically ticks every registered tunnel.
func (m *Manager) Accept(conn *websocket.Conn) *tunnel.Tunnel {
	m.mu.Lock()
	id := strconv.FormatUint(m.nextID, 10)
	m.nextID++
	m.mu.Unlock()

	t := tunnel.NewWithMetrics(id, conn, m.cap, m.dialer, m.limiter, m.onTunnelClosed, m.log, m.metrics, m.maxMissedPings)

	m.mu.Lock()
	m.tunnels[id] = t
	m.mu.Unlock()
	m.log.Info("tunnel accepted", "tunnel_id", id, "count", m.Count())
	if m.metrics != nil {
		m.metrics.TunnelAccepted()
	}

	m.tickerOnce.Do(func() {
		go m.keepaliveLoop()
	})

	return t
}

// onTunnelClosed removes a tunnel from the registry. Invoked exactly
// once per tunnel, by the tunnel itself during its close sequence.
func (m *Manager) onTunnelClosed(id string) {
	m.mu.Lock()
	delete(m.tunnels, id)
	count := len(m.tunnels)
	m.mu.Unlock()
	m.log.Info("tunnel removed", "tunnel_id", id, "count", count)
	if m.metrics != nil {
		m.metrics.TunnelClosed()
	}
}

// Count returns the number of currently registered tunnels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tunnels)
}

// keepaliveLoop is the one process-wide ticker; it ticks every
// registered tunnel once per period.
func (m *Manager) keepaliveLoop() {
	ticker := time.NewTicker(m.keepaliveP)
	defer ticker.Stop()
	for now := range ticker.C {
		m.mu.RLock()
		snapshot := make([]*tunnel.Tunnel, 0, len(m.tunnels))
		for _, t := range m.tunnels {
			snapshot = append(snapshot, t)
		}
		m.mu.RUnlock()

		for _, t := range snapshot {
			t.Keepalive(now, m.keepaliveP)
		}
	}
}
