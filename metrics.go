package interceptor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of a server.
type Metrics struct {
	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	phaseErrors      *prometheus.CounterVec
	stalls           *prometheus.CounterVec
	fetchSkipped     prometheus.Counter
	forwardErrors    *prometheus.CounterVec
	tunnels          *prometheus.CounterVec
	activeTunnels    prometheus.Gauge
	certsForged      prometheus.Counter
	certCacheHits    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "exchanges_total",
			Help:      "Total number of exchanges run through the pipeline.",
		}, []string{"method", "protocol"}),

		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "interceptor",
			Name:      "exchange_duration_seconds",
			Help:      "Time from reading the request to the end of the response-sent phase.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "status"}),

		phaseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "phase_errors_total",
			Help:      "Interceptor failures per phase.",
		}, []string{"phase"}),

		stalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "stalled_intercepts_total",
			Help:      "Interceptor invocations that exceeded the stall timeout.",
		}, []string{"phase"}),

		fetchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "fetch_skipped_total",
			Help:      "Exchanges answered by an interceptor without contacting the origin.",
		}),

		forwardErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "forward_errors_total",
			Help:      "Failed origin fetches by response status sent to the client.",
		}, []string{"status"}),

		tunnels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "tunnels_total",
			Help:      "CONNECT and transparent tunnels by handling mode.",
		}, []string{"mode"}),

		activeTunnels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "interceptor",
			Name:      "active_tunnels",
			Help:      "Number of open tunnels.",
		}),

		certsForged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "certs_forged_total",
			Help:      "Number of leaf certificates generated.",
		}),

		certCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "interceptor",
			Name:      "cert_cache_hits_total",
			Help:      "Number of handshakes served from the certificate cache.",
		}),

		registry: reg,
	}

	reg.MustRegister(
		m.exchanges,
		m.exchangeDuration,
		m.phaseErrors,
		m.stalls,
		m.fetchSkipped,
		m.forwardErrors,
		m.tunnels,
		m.activeTunnels,
		m.certsForged,
		m.certCacheHits,
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordExchange(method, protocol string) {
	m.exchanges.WithLabelValues(method, protocol).Inc()
}

func (m *Metrics) recordExchangeDuration(method string, status int, d time.Duration) {
	m.exchangeDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) recordPhaseError(p Phase) {
	m.phaseErrors.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) recordStall(p Phase) {
	m.stalls.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) recordFetchSkipped() {
	m.fetchSkipped.Inc()
}

func (m *Metrics) recordForwardError(status int) {
	m.forwardErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) tunnelOpened(mode string) {
	m.tunnels.WithLabelValues(mode).Inc()
	m.activeTunnels.Inc()
}

func (m *Metrics) tunnelClosed() {
	m.activeTunnels.Dec()
}

func (m *Metrics) recordCertForged() {
	m.certsForged.Inc()
}

func (m *Metrics) recordCertCacheHit() {
	m.certCacheHits.Inc()
}
