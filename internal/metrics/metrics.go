// Package metrics exports Prometheus counters and gauges for the
// tunnel server: tunnel lifecycle, slot allocation, relayed bytes, and
// keepalive liveness.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns an HTTP handler serving the registry's exposition
// format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Collectors holds every metric the tunnel server reports.
type Collectors struct {
	tunnelsOpen     prometheus.Gauge
	tunnelsTotal    *prometheus.CounterVec
	slotsAllocated  prometheus.Gauge
	slotsTotal      *prometheus.CounterVec
	bytesRelayed    *prometheus.CounterVec
	dialLatency     prometheus.Histogram
	dialFailures    prometheus.Counter
	pingsSent       prometheus.Counter
	keepaliveClosed prometheus.Counter
}

// New constructs and registers the full metric set on reg.
func New(reg *prometheus.Registry) *Collectors {
	c := &Collectors{
		tunnelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wstunnel_tunnels_open",
			Help: "Currently open tunnels.",
		}),
		tunnelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wstunnel_tunnels_total",
			Help: "Tunnels accepted or closed, by event.",
		}, []string{"event"}),
		slotsAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wstunnel_slots_allocated",
			Help: "Currently allocated request slots across all tunnels.",
		}),
		slotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wstunnel_slots_total",
			Help: "Request slot allocations or frees, by event.",
		}, []string{"event"}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wstunnel_bytes_relayed_total",
			Help: "Bytes relayed between tunnel and egress, by direction.",
		}, []string{"direction"}),
		dialLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wstunnel_egress_dial_latency_seconds",
			Help:    "Latency of outbound egress dials.",
			Buckets: prometheus.DefBuckets,
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wstunnel_egress_dial_failures_total",
			Help: "Outbound egress dial failures.",
		}),
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wstunnel_keepalive_pings_sent_total",
			Help: "Keepalive pings sent to peers.",
		}),
		keepaliveClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wstunnel_keepalive_timeouts_total",
			Help: "Tunnels closed due to keepalive timeout.",
		}),
	}
	reg.MustRegister(
		c.tunnelsOpen,
		c.tunnelsTotal,
		c.slotsAllocated,
		c.slotsTotal,
		c.bytesRelayed,
		c.dialLatency,
		c.dialFailures,
		c.pingsSent,
		c.keepaliveClosed,
	)
	return c
}

// TunnelAccepted records a newly accepted tunnel.
func (c *Collectors) TunnelAccepted() {
	c.tunnelsOpen.Inc()
	c.tunnelsTotal.WithLabelValues("accepted").Inc()
}

// TunnelClosed records a tunnel's teardown.
func (c *Collectors) TunnelClosed() {
	c.tunnelsOpen.Dec()
	c.tunnelsTotal.WithLabelValues("closed").Inc()
}

// SlotAllocated records a successful Request Table allocation.
func (c *Collectors) SlotAllocated() {
	c.slotsAllocated.Inc()
	c.slotsTotal.WithLabelValues("allocated").Inc()
}

// SlotFreed records a Request Table free.
func (c *Collectors) SlotFreed() {
	c.slotsAllocated.Dec()
	c.slotsTotal.WithLabelValues("freed").Inc()
}

// BytesToEgress records bytes written toward an egress socket.
func (c *Collectors) BytesToEgress(n int) {
	c.bytesRelayed.WithLabelValues("to_egress").Add(float64(n))
}

// BytesFromEgress records bytes read from an egress socket.
func (c *Collectors) BytesFromEgress(n int) {
	c.bytesRelayed.WithLabelValues("from_egress").Add(float64(n))
}

// DialAttempt records the outcome and latency of one egress dial.
func (c *Collectors) DialAttempt(d time.Duration, err error) {
	c.dialLatency.Observe(d.Seconds())
	if err != nil {
		c.dialFailures.Inc()
	}
}

// PingSent records one keepalive ping enqueued toward a peer.
func (c *Collectors) PingSent() {
	c.pingsSent.Inc()
}

// KeepaliveTimeout records a tunnel closed for exceeding missed pings.
func (c *Collectors) KeepaliveTimeout() {
	c.keepaliveClosed.Inc()
}
