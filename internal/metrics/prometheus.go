// Package metrics provides a Prometheus metrics registry for the proxy.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded elsewhere. The
// /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// powerproxy_inflight_requests
	inFlight prometheus.Gauge

	// powerproxy_http_requests_total{status}
	httpRequestsTotal *prometheus.CounterVec

	// powerproxy_http_request_duration_seconds
	httpDuration prometheus.Histogram

	// powerproxy_dispatch_attempts_total{target,outcome}
	dispatchAttempts *prometheus.CounterVec

	// powerproxy_dispatch_backoff_total{target,reason}
	dispatchBackoff *prometheus.CounterVec

	// powerproxy_target_blocked{target} — 1 while a target is backed off
	targetBlocked *prometheus.GaugeVec

	// powerproxy_plugin_events_total{plugin,event}
	pluginEvents *prometheus.CounterVec

	// powerproxy_ratelimit_total{client,result}
	rateLimitTotal *prometheus.CounterVec

	// powerproxy_tokens_total{client,direction}
	tokensTotal *prometheus.CounterVec

	// powerproxy_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powerproxy_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the proxy",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_http_requests_total",
				Help: "Total number of HTTP requests handled by the proxy",
			},
			[]string{"status"},
		),

		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powerproxy_http_request_duration_seconds",
			Help:    "End-to-end HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),

		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_dispatch_attempts_total",
				Help: "Total dispatch attempts per target and outcome",
			},
			[]string{"target", "outcome"},
		),

		dispatchBackoff: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_dispatch_backoff_total",
				Help: "Total times a target was placed into backoff",
			},
			[]string{"target", "reason"},
		),

		targetBlocked: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "powerproxy_target_blocked",
				Help: "1 while a target is backed off, 0 otherwise",
			},
			[]string{"target"},
		),

		pluginEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_plugin_events_total",
				Help: "Total plugin bus lifecycle events fired, by plugin and event",
			},
			[]string{"plugin", "event"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_ratelimit_total",
				Help: "LimitUsage admit/reject decisions by client",
			},
			[]string{"client", "result"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powerproxy_tokens_total",
				Help: "Token counts observed per client and direction",
			},
			[]string{"client", "direction"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "powerproxy_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.dispatchAttempts,
		r.dispatchBackoff,
		r.targetBlocked,
		r.pluginEvents,
		r.rateLimitTotal,
		r.tokensTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

func (r *Registry) ObserveHTTP(statusCode int, dur time.Duration) {
	r.httpRequestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	r.httpDuration.Observe(dur.Seconds())
}

func (r *Registry) RecordDispatchAttempt(target, outcome string) {
	r.dispatchAttempts.WithLabelValues(target, outcome).Inc()
}

func (r *Registry) RecordBackoff(target, reason string) {
	r.dispatchBackoff.WithLabelValues(target, reason).Inc()
	r.targetBlocked.WithLabelValues(target).Set(1)
}

func (r *Registry) ClearBlocked(target string) {
	r.targetBlocked.WithLabelValues(target).Set(0)
}

func (r *Registry) RecordPluginEvent(plugin, event string) {
	r.pluginEvents.WithLabelValues(plugin, event).Inc()
}

func (r *Registry) RecordRateLimit(client, result string) {
	r.rateLimitTotal.WithLabelValues(client, result).Inc()
}

func (r *Registry) AddTokens(client string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		r.tokensTotal.WithLabelValues(client, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokensTotal.WithLabelValues(client, "completion").Add(float64(completionTokens))
	}
}

func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
