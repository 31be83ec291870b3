package metrics_test

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/wstunnel/server/internal/metrics"
)

func gaugeValue(t *testing.T, reg interface {
	Gather() ([]*dto.MetricFamily, error)
}, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		if len(f.Metric) == 0 {
			return 0
		}
		m := f.Metric[0]
		if m.Gauge != nil {
			return m.Gauge.GetValue()
		}
		if m.Counter != nil {
			return m.Counter.GetValue()
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func Test_tunnel_lifecycle_counters(t *testing.T) {
	reg := metrics.NewRegistry()
	c := metrics.New(reg)

	c.TunnelAccepted()
	c.TunnelAccepted()
	c.TunnelClosed()

	if got := gaugeValue(t, reg, "wstunnel_tunnels_open"); got != 1 {
		t.Errorf("expected 1 open tunnel, got %v", got)
	}
}

func Test_slot_counters(t *testing.T) {
	reg := metrics.NewRegistry()
	c := metrics.New(reg)

	c.SlotAllocated()
	c.SlotAllocated()
	c.SlotFreed()

	if got := gaugeValue(t, reg, "wstunnel_slots_allocated"); got != 1 {
		t.Errorf("expected 1 allocated slot, got %v", got)
	}
}

func Test_dial_attempt_records_latency_and_failure(t *testing.T) {
	reg := metrics.NewRegistry()
	c := metrics.New(reg)

	c.DialAttempt(5*time.Millisecond, nil)
	c.DialAttempt(5*time.Millisecond, errAlways)

	if got := gaugeValue(t, reg, "wstunnel_egress_dial_failures_total"); got != 1 {
		t.Errorf("expected 1 dial failure, got %v", got)
	}
}

var errAlways = &staticError{"dial failed"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }
