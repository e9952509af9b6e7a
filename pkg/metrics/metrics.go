package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Booking metrics
	BookingsCreated  prometheus.Counter
	AdmissionDenied  *prometheus.CounterVec
	CapacityRejected prometheus.Counter
	SessionLockWait  prometheus.Histogram

	// Queue metrics
	QueueMutations       *prometheus.CounterVec
	QueueVersionConflict prometheus.Counter
	QueueOrderWriteFails prometheus.Counter
	QueueBuildLatency    prometheus.Histogram

	// Live stream metrics
	StreamConnections prometheus.Gauge
	ActiveBreaks      prometheus.Gauge
}

// New creates and registers all application metrics on reg
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BookingsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "appointments_created_total",
			Help:      "Total number of appointments created by the booking path",
		}),
		AdmissionDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "admission_denied_total",
			Help:      "Total number of booking requests rejected by the admission gate",
		}, []string{"code"}),
		CapacityRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "capacity_rejected_total",
			Help:      "Total number of booking requests rejected for lack of free slots",
		}),
		SessionLockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "session_lock_wait_seconds",
			Help:      "Time spent waiting for the per-session booking lock",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		QueueMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "mutations_total",
			Help:      "Total number of queue mutations",
		}, []string{"operation", "status"}),
		QueueVersionConflict: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "version_conflicts_total",
			Help:      "Total number of reorders rejected because the queue version moved",
		}),
		QueueOrderWriteFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "order_write_failures_total",
			Help:      "Total number of individual queue order writes that failed during a reorder",
		}),
		QueueBuildLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "build_duration_seconds",
			Help:      "Time spent loading and ordering a provider's queue",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),

		StreamConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "stream_connections",
			Help:      "Current number of open live queue streams",
		}),
		ActiveBreaks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "doctor",
			Name:      "active_breaks",
			Help:      "Number of providers currently on break",
		}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry(), "clinic")
}

// Status labels for QueueMutations
const (
	StatusOK    = "ok"
	StatusError = "error"
)
