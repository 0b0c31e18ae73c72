package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	conversionFailures   *prometheus.CounterVec
	progressEvents       prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	inputBytesTotal      prometheus.Counter
	outputBytesTotal     prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertflow_worker_jobs_total",
			Help: "Total conversion jobs by output format and final status.",
		}, []string{"output_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convertflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"output_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convertflow_worker_active_jobs",
			Help: "Current number of conversions running in the worker.",
		}),
		conversionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convertflow_worker_conversion_failures_total",
			Help: "Failed conversion attempts by error code.",
		}, []string{"code"}),
		progressEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertflow_worker_progress_events_total",
			Help: "Progress checkpoints reported by conversions.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertflow_usage_pixels_processed_total",
			Help: "Total output pixels across all successful jobs.",
		}),
		inputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertflow_usage_input_bytes_total",
			Help: "Total source bytes across all successful jobs.",
		}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertflow_usage_output_bytes_total",
			Help: "Total converted bytes across all successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convertflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.conversionFailures,
		m.progressEvents,
		m.pixelsProcessedTotal,
		m.inputBytesTotal,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
