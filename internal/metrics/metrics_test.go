package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsRouted.WithLabelValues("new_order", "primary").Inc()
	m.EventsDuplicate.WithLabelValues("new_order", "fallback").Inc()
	m.ReconnectAttempts.Add(3)

	if got := testutil.ToFloat64(m.ReconnectAttempts); got != 3 {
		t.Errorf("ReconnectAttempts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EventsDuplicate.WithLabelValues("new_order", "fallback")); got != 1 {
		t.Errorf("EventsDuplicate = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}

func TestOrNop(t *testing.T) {
	m := OrNop(nil)
	if m == nil || m.StreamErrors == nil {
		t.Fatal("OrNop(nil) should return usable collectors")
	}

	existing := New(nil)
	if OrNop(existing) != existing {
		t.Error("OrNop should return the given metrics")
	}
}
