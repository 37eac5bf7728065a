// Package metrics holds the Prometheus registry for the OI/liquidation/
// cascade pipeline: one struct of vectors/gauges built once at startup,
// registered with the default registerer, and exposed through
// promhttp.Handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the pipeline emits.
type Registry struct {
	OIFetchDuration   *prometheus.HistogramVec
	OIFetchErrors     *prometheus.CounterVec
	OIDiscrepancies   *prometheus.CounterVec

	LiquidationsIngested *prometheus.CounterVec
	LiquidationsFiltered *prometheus.CounterVec
	LiquidationSynthetic *prometheus.CounterVec

	CascadeSignals   *prometheus.CounterVec
	CascadeBackpressure *prometheus.CounterVec

	ProviderErrorRate *prometheus.GaugeVec
	StreamState       *prometheus.GaugeVec

	AlertsDispatched *prometheus.CounterVec
	AlertsDeduped    *prometheus.CounterVec
	AlertsRateLimited *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec
}

// NewRegistry constructs and registers every metric with the default
// Prometheus registerer. Call once at process startup.
func NewRegistry() *Registry {
	r := &Registry{
		OIFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "derivintel_oi_fetch_duration_seconds",
			Help:    "Per-exchange OI snapshot fetch duration.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"venue"}),

		OIFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_oi_fetch_errors_total",
			Help: "Total OI fetch errors by venue and error kind.",
		}, []string{"venue", "kind"}),

		OIDiscrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_oi_discrepancies_total",
			Help: "Total discrepancy flags raised by symbol and flag kind.",
		}, []string{"symbol", "flag"}),

		LiquidationsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_liquidations_ingested_total",
			Help: "Liquidation events that passed the floor filter, by venue.",
		}, []string{"venue"}),

		LiquidationsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_liquidations_filtered_total",
			Help: "Liquidation events dropped below the USD floor, by venue.",
		}, []string{"venue"}),

		LiquidationSynthetic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_liquidations_synthetic_timestamp_total",
			Help: "Liquidation events whose timestamp was replaced due to clock skew.",
		}, []string{"venue"}),

		CascadeSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_cascade_signals_total",
			Help: "Cascade signals emitted, by severity.",
		}, []string{"symbol", "severity"}),

		CascadeBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_cascade_backpressure_total",
			Help: "Times the cascade detector fell more than the lag threshold behind the live feed.",
		}, []string{"symbol"}),

		ProviderErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "derivintel_provider_error_rate_1m",
			Help: "Rolling 1-minute error rate per provider.",
		}, []string{"venue"}),

		StreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "derivintel_stream_state",
			Help: "Liquidation stream connection state (0=disconnected,1=connected,2=degraded).",
		}, []string{"venue"}),

		AlertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_alerts_dispatched_total",
			Help: "Alerts successfully dispatched, by kind.",
		}, []string{"kind"}),

		AlertsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_alerts_deduped_total",
			Help: "Alerts suppressed by the dedup window, by kind.",
		}, []string{"kind"}),

		AlertsRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "derivintel_alerts_rate_limited_total",
			Help: "Alerts dropped by the token-bucket rate limiter, by kind.",
		}, []string{"kind"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "derivintel_http_request_duration_seconds",
			Help:    "HTTP handler duration by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	prometheus.MustRegister(
		r.OIFetchDuration, r.OIFetchErrors, r.OIDiscrepancies,
		r.LiquidationsIngested, r.LiquidationsFiltered, r.LiquidationSynthetic,
		r.CascadeSignals, r.CascadeBackpressure,
		r.ProviderErrorRate, r.StreamState,
		r.AlertsDispatched, r.AlertsDeduped, r.AlertsRateLimited,
		r.HTTPRequestDuration,
	)

	log.Info().Msg("metrics registry initialized")
	return r
}

// Handler exposes the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// StreamStateValue maps a wsconn.Feed state string to the gauge's
// numeric encoding.
func StreamStateValue(state string) float64 {
	switch state {
	case "CONNECTED":
		return 1
	case "DEGRADED":
		return 2
	default:
		return 0
	}
}

// ObserveHTTPRequest records one handler call's duration.
func (r *Registry) ObserveHTTPRequest(route, statusClass string, d time.Duration) {
	r.HTTPRequestDuration.WithLabelValues(route, statusClass).Observe(d.Seconds())
}
