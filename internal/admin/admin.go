// Package admin exposes the relay's ambient ops surface: a liveness
// check and a Prometheus scrape endpoint. It carries no chat protocol
// semantics — it exists because every deployable service in the example
// pack ships one — grounded on other_examples/openchat-backend's
// github.com/go-chi/chi/v5 router usage.
package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer builds the admin HTTP server. It is not started until the
// caller invokes ListenAndServe.
func NewServer(addr string, promReg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	return &http.Server{Addr: addr, Handler: r}
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
