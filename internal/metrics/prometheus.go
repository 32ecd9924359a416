// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

const namespace = "rdio_vox"

// Metrics contains all Prometheus metrics for the monitor.
type Metrics struct {
	// Monitoring loop
	MonitorRunning prometheus.Gauge
	DeviceErrors   prometheus.Counter
	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	Level          prometheus.Gauge
	Recording      prometheus.Gauge

	// Recordings
	RecordingsStarted   prometheus.Counter
	RecordingsFinished  *prometheus.CounterVec
	RecordingsDiscarded prometheus.Counter
	RecordingDuration   prometheus.Histogram

	// Uploads
	UploadResults *prometheus.CounterVec
	UploadBytes   prometheus.Counter

	// HTTP API
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MonitorRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "Whether the monitoring loop is running (1) or stopped (0)",
		}),
		DeviceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Total number of capture failures that stopped monitoring",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of audio blocks processed",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent processing one audio block",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8), // 10µs to ~160ms
		}),
		Level: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_level",
			Help:      "Normalized RMS level of the latest block",
		}),
		Recording: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording",
			Help:      "Whether a recording is open (1) or not (0)",
		}),

		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "Total number of recordings opened by the trigger",
		}),
		RecordingsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_finished_total",
			Help:      "Total number of recordings handed to the uploader, by end reason",
		}, []string{"reason"}),
		RecordingsDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_discarded_total",
			Help:      "Total number of recordings dropped before upload",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of finished recordings",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 11), // 0.5s to ~8.5 minutes
		}),

		UploadResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_results_total",
			Help:      "Total number of upload dispatcher results, by outcome",
		}, []string{"outcome"}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total WAV bytes accepted by the server",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RegisterUploadQueue exports the dispatcher's queue depth, read at scrape time.
func RegisterUploadQueue(reg prometheus.Registerer, stats func() types.UploadStats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_pending",
		Help:      "Recordings waiting for an upload worker",
	}, func() float64 { return float64(stats().Pending) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_in_flight",
		Help:      "Recordings currently being uploaded",
	}, func() float64 { return float64(stats().InFlight) })
}

// ObserveTick records one processed block.
func (m *Metrics) ObserveTick(elapsed time.Duration, level float64, recording bool) {
	m.Ticks.Inc()
	m.TickDuration.Observe(elapsed.Seconds())
	m.Level.Set(level)
	m.Recording.Set(boolGauge(recording))
}

// ObserveRecording records a finished recording.
func (m *Metrics) ObserveRecording(reason string, d time.Duration) {
	m.RecordingsFinished.WithLabelValues(reason).Inc()
	m.RecordingDuration.Observe(d.Seconds())
}

// SetMonitorRunning updates the running gauge.
func (m *Metrics) SetMonitorRunning(running bool) {
	m.MonitorRunning.Set(boolGauge(running))
	if !running {
		m.Recording.Set(0)
	}
}

// Middleware counts and times requests. endpoint is a fixed label so that
// arbitrary paths cannot grow the label set.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
