package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pixelfx"

type metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	jobsEnqueued      *prometheus.CounterVec

	// Synchronous /v1/process traffic.
	effectsApplied *prometheus.CounterVec
	effectSeconds  *prometheus.HistogramVec
	inputBytes     prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name: "requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name:    "request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "queue",
			Name: "jobs_enqueued_total",
			Help: "Effect jobs handed to the queue.",
		}, []string{"queue", "effect"}),
		effectsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name: "effects_applied_total",
			Help: "Synchronous effect requests by effect and outcome code.",
		}, []string{"effect", "code"}),
		effectSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name:    "effect_duration_seconds",
			Help:    "Decode, resize, effect and encode time for synchronous requests.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"effect"}),
		inputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: "api",
			Name:    "input_bytes",
			Help:    "Size of images accepted by /v1/process.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 7),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.rateLimitRejected,
		m.jobsEnqueued,
		m.effectsApplied,
		m.effectSeconds,
		m.inputBytes,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observeEffect records one /v1/process outcome. code is "ok" or the error
// code sent to the client.
func (m *metrics) observeEffect(effect, code string, inputBytes int, elapsed time.Duration) {
	m.effectsApplied.WithLabelValues(effect, code).Inc()
	if code != "ok" {
		return
	}
	m.effectSeconds.WithLabelValues(effect).Observe(elapsed.Seconds())
	m.inputBytes.Observe(float64(inputBytes))
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		labels := []string{r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status)}
		m.requests.WithLabelValues(labels...).Inc()
		m.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps label cardinality bounded: job ids collapse to {id} and
// unknown paths share one label.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/jobs/"); ok && rest != "" {
		if strings.HasSuffix(rest, "/start") {
			return "/v1/jobs/{id}/start"
		}
		return "/v1/jobs/{id}"
	}
	switch path {
	case "/v1/jobs", "/v1/process", "/v1/effects", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.status = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
