package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hyperstream"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of stream sessions in the registry.",
	})

	PieceWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "piece_wait_seconds",
		Help:      "Time spent waiting for a torrent piece to become available.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	PieceWaitTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "piece_wait_timeouts_total",
		Help:      "Total number of piece waits that exceeded their bound.",
	})

	TranscodeActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transcode_active_jobs",
		Help:      "Number of running per-request transcode processes.",
	})

	TranscodeStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcode_starts_total",
		Help:      "Total number of transcode processes started.",
	})

	TranscodeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcode_failures_total",
		Help:      "Total number of transcode failures by reason.",
	}, []string{"reason"})

	ConversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversions_total",
		Help:      "Total number of whole-file background conversions by result.",
	}, []string{"result"})

	RetentionFilesRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_files_removed_total",
		Help:      "Total number of media files removed by the retention sweeper.",
	})

	RetentionBytesFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_bytes_freed_total",
		Help:      "Total bytes reclaimed by the retention sweeper.",
	})

	RetentionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_errors_total",
		Help:      "Total number of per-file or per-directory sweep failures.",
	})

	DiskFreeBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "disk_free_bytes",
		Help:      "Free bytes on the filesystem of each retention root, sampled after a sweep.",
	}, []string{"root"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		PieceWaitSeconds,
		PieceWaitTimeouts,
		TranscodeActiveJobs,
		TranscodeStartsTotal,
		TranscodeFailuresTotal,
		ConversionsTotal,
		RetentionFilesRemoved,
		RetentionBytesFreed,
		RetentionErrors,
		DiskFreeBytes,
	)
}
