package metrics

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the decision control plane.
type Registry struct {
	registry *prometheus.Registry

	ModeSwitches      *prometheus.CounterVec
	EmergencyReverts  prometheus.Counter
	BreakerState      prometheus.Gauge
	PreTradeRejects   *prometheus.CounterVec
	DuplicatesBlocked prometheus.Counter
	RetryAttempts     *prometheus.CounterVec
	SubmitLatency     *prometheus.HistogramVec
	DecisionCycle     prometheus.Histogram
}

// NewRegistry creates and registers all control-plane metrics on a dedicated
// Prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ModeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_mode_switches_total",
				Help: "Mode transitions by from/to mode",
			},
			[]string{"from", "to"},
		),
		EmergencyReverts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradecore_emergency_reverts_total",
				Help: "Emergency reverts to mode 0",
			},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradecore_breaker_tripped",
				Help: "Drawdown circuit breaker state (1 = tripped)",
			},
		),
		PreTradeRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_pretrade_rejections_total",
				Help: "Pre-trade rejections by rule",
			},
			[]string{"rule"},
		),
		DuplicatesBlocked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradecore_duplicates_blocked_total",
				Help: "Orders blocked by the duplicate guard",
			},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_retry_attempts_total",
				Help: "Order submission attempts by outcome",
			},
			[]string{"outcome"},
		),
		SubmitLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradecore_submit_latency_seconds",
				Help:    "Broker operation round-trip latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"broker", "operation"},
		),
		DecisionCycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradecore_decision_cycle_seconds",
				Help:    "Duration of one full evaluation cycle",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
	}

	r.registry.MustRegister(
		r.ModeSwitches,
		r.EmergencyReverts,
		r.BreakerState,
		r.PreTradeRejects,
		r.DuplicatesBlocked,
		r.RetryAttempts,
		r.SubmitLatency,
		r.DecisionCycle,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Router returns the observability HTTP routes: /metrics and /health.
func (r *Registry) Router() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", r.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	return router
}

// Serve blocks serving the observability endpoints.
func (r *Registry) Serve(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("metrics: serving /metrics and /health")
	return srv.ListenAndServe()
}
