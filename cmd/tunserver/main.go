// Command tunserver runs the WebSocket-carried TCP tunnel server.
package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/wstunnel/server/internal/config"
	"github.com/wstunnel/server/internal/httpapi"
	"github.com/wstunnel/server/internal/manager"
	"github.com/wstunnel/server/internal/metrics"
)

func main() {
	configPath := flag.String("config", "configs/tunserver.yaml", "path to tunnel server configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if cfg.Egress.DialRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Egress.DialRatePerSec), cfg.Egress.DialBurst)
	}

	reg := metrics.NewRegistry()
	var collectors *metrics.Collectors
	var exposedReg *prometheus.Registry
	if cfg.Metrics.Enabled {
		collectors = metrics.New(reg)
		exposedReg = reg
	}

	mgr := manager.New(manager.Config{
		Cap:               cfg.Tunnel.Cap,
		KeepaliveInterval: cfg.Tunnel.KeepaliveInterval,
		MaxMissedPings:    cfg.Tunnel.MaxMissedPings,
		Dialer:            &net.Dialer{Timeout: cfg.Egress.DialTimeout},
		Limiter:           limiter,
		Metrics:           collectors,
	}, slog.Default())

	api := httpapi.NewServer(mgr, httpapi.Config{
		TunnelPath: cfg.Tunnel.Path,
		AuthSecret: cfg.Auth.Secret,
	}, slog.Default())

	mux := api.Mux(cfg.Metrics.Path, exposedReg)

	ln, err := net.Listen("tcp", cfg.Listen.Addr)
	if err != nil {
		slog.Error("failed to bind listen address", "addr", cfg.Listen.Addr, "err", err)
		os.Exit(1)
	}
	if cfg.Limits.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Limits.MaxConnections)
	}

	slog.Info("tunnel server starting", "addr", cfg.Listen.Addr, "path", cfg.Tunnel.Path)
	if err := http.Serve(ln, mux); err != nil {
		slog.Error("tunnel server exited with error", "err", err)
		os.Exit(1)
	}
}
