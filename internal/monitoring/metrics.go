package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector exported by the sync front-end. It is kept
// separate from the default registry so tests can create modules freely.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// FramesTotal counts processed frames by synchronisation status.
	FramesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imusync",
		Name:      "frames_total",
		Help:      "Frames processed by the synchronizer, by status.",
	}, []string{"status"})

	// IMUSamplesTotal counts IMU samples offered to the buffer, by result.
	IMUSamplesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imusync",
		Name:      "imu_samples_total",
		Help:      "IMU samples offered to the buffer, by result.",
	}, []string{"result"})

	// WaitSessionsTotal counts synchronize calls that had to wait for IMU data.
	WaitSessionsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "imusync",
		Name:      "wait_sessions_total",
		Help:      "Synchronize calls that waited for IMU data to arrive.",
	})

	// WindowSamples observes the number of samples in delivered windows.
	WindowSamples = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "imusync",
		Name:      "window_samples",
		Help:      "Number of IMU samples per delivered window.",
		Buckets:   prometheus.LinearBuckets(0, 4, 12),
	})

	// CoarseOffsetNanos is the coarse IMU-to-frame clock offset in use.
	CoarseOffsetNanos = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "imusync",
		Name:      "coarse_offset_nanos",
		Help:      "Coarse IMU minus frame clock offset in nanoseconds.",
	})

	// FineTimeShiftNanos is the externally tuned fine time shift.
	FineTimeShiftNanos = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "imusync",
		Name:      "fine_time_shift_nanos",
		Help:      "Fine IMU time shift applied on top of the coarse offset.",
	})
)
