package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	movements   *prometheus.CounterVec
	issuerCalls *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

// New registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_movements_total",
			Help: "Ledger-affecting operations by transaction type and resulting status.",
		}, []string{"type", "status"}),
		issuerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "issuer_calls_total",
			Help: "Card issuer API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by rate limiting, by policy.",
		}, []string{"policy"}),
	}
	m.registry.MustRegister(m.movements, m.issuerCalls, m.rateLimited)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Movement counts a ledger-affecting operation.
func (m *Metrics) Movement(typ, status string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(typ, status).Inc()
}

// IssuerCall counts an issuer call classified by its error.
func (m *Metrics) IssuerCall(op string, err error) {
	if m == nil {
		return
	}
	m.issuerCalls.WithLabelValues(op, outcome(err)).Inc()
}

// RateLimited counts a throttled request.
func (m *Metrics) RateLimited(policy string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(policy).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrIndeterminate):
		return "indeterminate"
	default:
		return "failed"
	}
}
