// Package metrics exposes Prometheus collectors for an external HTTP
// collaborator to scrape; nothing in this module reads them back.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks how many files sit in each status.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcode_queue_depth",
		Help: "Number of files currently in a given status",
	}, []string{"status"})

	// EncodeDuration tracks wall-clock time spent per completed encode attempt.
	EncodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcode_encode_duration_seconds",
		Help:    "Duration of transcode pipeline runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to 8192s (~2.3h)
	}, []string{"outcome"})

	// BytesSaved tracks cumulative space reclaimed by finished encodes.
	BytesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcode_bytes_saved_total",
		Help: "Total bytes reclaimed by finished transcodes",
	})

	// BusDroppedTotal tracks in-memory bus backpressure drops.
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_bus_dropped_total",
		Help: "Total number of in-memory bus message drops by topic and reason",
	}, []string{"topic", "reason"})

	// ScanFilesDiscovered tracks files seen per scan pass.
	ScanFilesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_scan_files_discovered_total",
		Help: "Total files discovered during library scans",
	}, []string{"library"})

	// ProcTerminateTotal tracks how subprocess termination concluded: whether
	// the child exited on its own, needed SIGTERM, or needed a SIGKILL.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcode_proc_terminate_total",
		Help: "Total subprocess termination outcomes by method",
	}, []string{"outcome"})
)

// IncBusDropReason records a dropped bus message with a concrete reason.
func IncBusDropReason(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}
