package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckpointMetricsProvider provides access to checkpoint-related Prometheus metrics.
type CheckpointMetricsProvider interface {
	GetCheckpointsSavedCounter() prometheus.Counter
	GetFilesUploadedCounter() prometheus.Counter
	GetUploadedBytesCounter() prometheus.Counter
	GetRegistrationsLaunchedCounter() prometheus.Counter
	GetSaveLatencySecondsHistogram() prometheus.Histogram
}

// CheckpointMetrics registers and serves the Prometheus metrics published by
// the checkpointer callback.
type CheckpointMetrics struct {
	// CheckpointsSavedCounter counts completed checkpoint cycles on the
	// coordinator rank.
	CheckpointsSavedCounter prometheus.Counter

	// FilesUploadedCounter counts files transferred to remote storage.
	FilesUploadedCounter prometheus.Counter

	// UploadedBytesCounter counts bytes transferred to remote storage.
	UploadedBytesCounter prometheus.Counter

	// RegistrationsLaunchedCounter counts detached registration tasks spawned.
	RegistrationsLaunchedCounter prometheus.Counter

	// SaveLatencySecondsHistogram records the latency of each full
	// checkpoint cycle (gather through upload), in seconds.
	SaveLatencySecondsHistogram prometheus.Histogram
}

// NewCheckpointMetrics registers the checkpoint metrics with the given
// registerer (pass prometheus.DefaultRegisterer outside of tests).
func NewCheckpointMetrics(registerer prometheus.Registerer) *CheckpointMetrics {
	factory := promauto.With(registerer)

	return &CheckpointMetrics{
		CheckpointsSavedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpointer_checkpoints_saved_total",
			Help: "Number of checkpoint cycles completed by the coordinator rank.",
		}),
		FilesUploadedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpointer_files_uploaded_total",
			Help: "Number of checkpoint files uploaded to remote storage.",
		}),
		UploadedBytesCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpointer_uploaded_bytes_total",
			Help: "Number of bytes uploaded to remote storage.",
		}),
		RegistrationsLaunchedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpointer_registrations_launched_total",
			Help: "Number of detached model-registration tasks spawned.",
		}),
		SaveLatencySecondsHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpointer_save_latency_seconds",
			Help:    "Latency of a full checkpoint cycle, gather through upload.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func (m *CheckpointMetrics) GetCheckpointsSavedCounter() prometheus.Counter {
	return m.CheckpointsSavedCounter
}

func (m *CheckpointMetrics) GetFilesUploadedCounter() prometheus.Counter {
	return m.FilesUploadedCounter
}

func (m *CheckpointMetrics) GetUploadedBytesCounter() prometheus.Counter {
	return m.UploadedBytesCounter
}

func (m *CheckpointMetrics) GetRegistrationsLaunchedCounter() prometheus.Counter {
	return m.RegistrationsLaunchedCounter
}

func (m *CheckpointMetrics) GetSaveLatencySecondsHistogram() prometheus.Histogram {
	return m.SaveLatencySecondsHistogram
}
