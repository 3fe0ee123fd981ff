package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsReceived.Inc()
	m.EventsDropped.WithLabelValues(DropDuplicate).Inc()
	m.Mutations.WithLabelValues("ok").Inc()
	m.ActiveSubscriptions.Set(2)

	if got := testutil.ToFloat64(m.EventsDropped.WithLabelValues(DropDuplicate)); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSubscriptions); got != 2 {
		t.Fatalf("active = %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	// events_merged_total и reconnects_total без наблюдений тоже экспортируются
	if len(mfs) != 6 {
		t.Fatalf("expected 6 metric families, got %d", len(mfs))
	}
}

func TestNew_NilRegistererIsIsolated(t *testing.T) {
	a, b := New(nil), New(nil)
	a.Reconnects.Inc()
	if testutil.ToFloat64(b.Reconnects) != 0 {
		t.Fatalf("metrics leaked between instances")
	}
}
