// Package metrics owns the Prometheus registry served on the ops listener.
//
// Labels are kept to bounded sets (method, route pattern, status, limiter,
// outcome, channel). Client IPs, user agents and guest names never become
// label values.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invitation-dn/guestgate/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	ratelimitDenied   *prometheus.CounterVec
	ratelimitCapacity prometheus.Counter

	gateDecisions   *prometheus.CounterVec
	suspiciousTotal *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	notifyDuration  *prometheus.HistogramVec
	geoLookups      *prometheus.CounterVec
}

// New builds an isolated registry with Go and process collectors plus the
// service metrics.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_ratelimit_denied_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"limiter"}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guestgate_ratelimit_capacity_total",
			Help: "Requests from new IPs rejected because the flood guard was full",
		}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_gate_decisions_total",
			Help: "Gate outcomes by endpoint",
		}, []string{"endpoint", "outcome"}),
		suspiciousTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_suspicious_total",
			Help: "Suspicious classifications by reason kind",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_notifications_total",
			Help: "Notification deliveries by channel, target and result",
		}, []string{"channel", "target", "result"}),
		notifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guestgate_notification_duration_seconds",
			Help:    "Latency of outbound Telegram and Discord calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"target"}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guestgate_geo_lookups_total",
			Help: "IP intelligence lookups by result (hit, miss, skipped, error)",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDenied,
		m.ratelimitCapacity,
		m.gateDecisions,
		m.suspiciousTotal,
		m.notifications,
		m.notifyDuration,
		m.geoLookups,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncRateLimitDenied counts a rejection by the named limiter ("global",
// "gate" or "notify").
func (m *ServerMetrics) IncRateLimitDenied(limiter string) {
	m.ratelimitDenied.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

func (m *ServerMetrics) ObserveDecision(endpoint, outcome string) {
	m.gateDecisions.WithLabelValues(endpoint, outcome).Inc()
}

func (m *ServerMetrics) IncSuspicious(reason string) {
	m.suspiciousTotal.WithLabelValues(reason).Inc()
}

// ObserveNotification records one delivery attempt. err decides the result
// label.
func (m *ServerMetrics) ObserveNotification(channel, target string, seconds float64, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, target, result).Inc()
	m.notifyDuration.WithLabelValues(target).Observe(seconds)
}

func (m *ServerMetrics) IncGeoLookup(result string) {
	m.geoLookups.WithLabelValues(result).Inc()
}

// TrackVisitors exposes fn as the guestgate_visitors_tracked gauge. Call it
// once.
func (m *ServerMetrics) TrackVisitors(fn func() int) {
	m.registerSize("guestgate_visitors_tracked", "Visitor fingerprints currently held in memory", fn)
}

// TrackGeoCache exposes fn as the guestgate_geo_cache_entries gauge. Call it
// once.
func (m *ServerMetrics) TrackGeoCache(fn func() int) {
	m.registerSize("guestgate_geo_cache_entries", "IP lookups currently cached", fn)
}

func (m *ServerMetrics) registerSize(name, help string, fn func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(fn()) }))
}
