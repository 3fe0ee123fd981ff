// Package metrics: счётчики клиента чата (prometheus).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chat_client"

// Причины отброшенных событий подписки
const (
	DropEmptyPayload  = "empty_payload"
	DropDuplicate     = "duplicate"
	DropNotCached     = "not_cached"
	DropShapeMismatch = "shape_mismatch"
	DropDecode        = "decode"
)

type Metrics struct {
	EventsReceived      prometheus.Counter
	EventsMerged        prometheus.Counter
	EventsDropped       *prometheus.CounterVec // reason
	Reconnects          prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	Mutations           *prometheus.CounterVec // result: ok|<errs.Kind>
}

// New регистрирует коллекторы в reg. при nil создаётся отдельный реестр, удобно в тестах.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EventsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "events_received_total",
			Help:      "messageAdded deliveries read from subscriptions.",
		}),
		EventsMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "events_merged_total",
			Help:      "Deliveries merged into the cached chatroom result.",
		}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "events_dropped_total",
			Help:      "Deliveries left out of the cache, by reason.",
		}, []string{"reason"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "reconnects_total",
			Help:      "Resubscribe attempts after a transport failure.",
		}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Subscriptions currently in the Active state.",
		}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "addMessage mutations by result.",
		}, []string{"result"}),
	}
}
