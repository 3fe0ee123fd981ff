// Package http содержит диагностический HTTP-сервер клиента: health, метрики,
// состояния подписок.
package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-client/internal/subscription"
	"github.com/cwrk-planet/chat-client/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StateSource interface {
	Statuses() map[int]subscription.Status
}

type Deps struct {
	Subscriptions StateSource
	Gatherer      prometheus.Gatherer
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/debug", func(r chi.Router) {
		r.Get("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
			statuses := map[int]subscription.Status{}
			if d.Subscriptions != nil {
				statuses = d.Subscriptions.Statuses()
			}
			httputil.OK(w, statuses)
		})
	})

	return r
}
