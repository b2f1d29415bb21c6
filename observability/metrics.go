// Package observability exposes Prometheus metrics for the rewards engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/rewards-engine/generic"
)

// Metrics wraps the collectors tracking ledger and HTTP activity. It
// implements generic.Observer so the ledger reports every unit.
type Metrics struct {
	units        *prometheus.CounterVec
	transactions *prometheus.CounterVec
	amounts      *prometheus.CounterVec
	drift        *prometheus.CounterVec
	claims       prometheus.Counter
	streaks      prometheus.Histogram
	adjustments  *prometheus.CounterVec
	throttles    *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "units_total",
			Help:      "Ledger units segmented by outcome (committed or the failure reason).",
		}, []string{"outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Committed ledger transactions segmented by kind and type.",
		}, []string{"kind", "type"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "amount_total",
			Help:      "Absolute committed amounts segmented by kind and direction.",
		}, []string{"kind", "direction"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "ledger",
			Name:      "drift_detected_total",
			Help:      "Balances found not equal to the sum of their ledger during reconciliation.",
		}, []string{"kind"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "claims",
			Name:      "committed_total",
			Help:      "Committed daily claims.",
		}),
		streaks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "claims",
			Name:      "streak_days",
			Help:      "Streak reached by committed daily claims.",
			Buckets:   []float64{1, 2, 3, 7, 14, 30, 60, 100, 365},
		}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "admin",
			Name:      "adjustments_total",
			Help:      "Committed admin adjustments segmented by action.",
		}, []string{"action"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "throttles_total",
			Help:      "Requests rejected due to throttling policies.",
		}, []string{"route", "reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.units,
			m.transactions,
			m.amounts,
			m.drift,
			m.claims,
			m.streaks,
			m.adjustments,
			m.throttles,
			m.requests,
			m.latency,
		)
	}
	return m
}

// UnitCommitted records a committed ledger unit.
func (m *Metrics) UnitCommitted(out generic.Outcome) {
	if m == nil {
		return
	}
	m.units.WithLabelValues("committed").Inc()
	for _, tx := range out.Transactions {
		m.transactions.WithLabelValues(string(tx.Kind), string(tx.Type)).Inc()
		if tx.IsCredit() {
			m.amounts.WithLabelValues(string(tx.Kind), "credit").Add(float64(tx.Amount))
		} else {
			m.amounts.WithLabelValues(string(tx.Kind), "debit").Add(float64(-tx.Amount))
		}
	}
	if out.Claim != nil {
		m.claims.Inc()
		m.streaks.Observe(float64(out.Claim.Streak))
	}
	for _, e := range out.Audit {
		m.adjustments.WithLabelValues(e.Action).Inc()
	}
}

// UnitFailed records a rejected or failed ledger unit.
func (m *Metrics) UnitFailed(_ generic.UserID, err error) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(generic.Reason(err)).Inc()
}

// RecordDrift counts one inconsistent ledger found by reconciliation.
func (m *Metrics) RecordDrift(kind string) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(kind).Inc()
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *Metrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// Observe records the outcome of one HTTP request.
func (m *Metrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Middleware observes every request under its chi route pattern so user IDs
// never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Observe(route, r.Method, status, time.Since(start))
	})
}

var _ generic.Observer = (*Metrics)(nil)
