package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dunamismax/pixelfx/internal/domain"
)

const namespace = "pixelfx"

type metrics struct {
	registry *prometheus.Registry

	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	retriesTotal         *prometheus.CounterVec
	webhookFailuresTotal *prometheus.CounterVec

	pixelsProcessedTotal *prometheus.CounterVec
	outputBytesTotal     prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	worker := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "worker", Name: name, Help: help}
	}
	usage := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: namespace, Subsystem: "usage", Name: name, Help: help}
	}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts(worker("jobs_total",
			"Effect job attempts by effect and outcome.")), []string{"effect", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Fetch, effect and emit duration for each job attempt.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"effect", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts(worker("active_jobs",
			"Jobs currently holding an engine slot."))),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts(worker("retries_total",
			"Job attempts that failed and were handed back to the queue.")), []string{"effect"}),
		webhookFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts(worker("webhook_failures_total",
			"Webhook deliveries that failed after all attempts.")), []string{"event"}),
		pixelsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts(usage("pixels_processed_total",
			"Output pixels produced by successful jobs.")), []string{"effect"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts(usage("output_bytes_total",
			"Encoded bytes written by successful jobs."))),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts(usage("compute_time_ms_total",
			"Compute time in milliseconds across successful jobs."))),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.retriesTotal,
		m.webhookFailuresTotal,
		m.pixelsProcessedTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) observeJob(effect, status string, elapsed time.Duration) {
	m.jobDuration.WithLabelValues(effect, status).Observe(elapsed.Seconds())
	m.jobsTotal.WithLabelValues(effect, status).Inc()
}

func (m *metrics) observeUsage(usage domain.UsageLog) {
	m.pixelsProcessedTotal.WithLabelValues(usage.Effect).Add(float64(usage.PixelsProcessed))
	m.outputBytesTotal.Add(float64(usage.OutputBytes))
	m.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
