package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mineru", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mineru", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// GPUPending tracks the number of tasks queued on each GPU executor.
	GPUPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "mineru", Subsystem: "gpu", Name: "pending_tasks", Help: "Pending tasks per GPU executor."},
		[]string{"gpu_id"},
	)

	// GPUSubmitted and GPUTimedOut count scheduler dispatch outcomes.
	GPUSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mineru", Subsystem: "gpu", Name: "submitted_total", Help: "Tasks submitted to the GPU scheduler."},
		[]string{"gpu_id"},
	)
	GPUTimedOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mineru", Subsystem: "gpu", Name: "timed_out_total", Help: "Tasks that exceeded the hard timeout."},
		[]string{"gpu_id"},
	)

	// TaskStateTransitions counts task queue state changes (pending/started/success/failure/revoked).
	TaskStateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "mineru", Subsystem: "queue", Name: "state_transitions_total", Help: "Task queue state transitions."},
		[]string{"state", "queue"},
	)

	// VisionCallDuration measures latency of a single vision completion call.
	VisionCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "mineru", Subsystem: "vision", Name: "call_duration_seconds", Help: "Vision provider call latency.", Buckets: prometheus.DefBuckets},
		[]string{"provider", "outcome"},
	)

	// ObjectStoreUploadDuration measures latency of bundle uploads to the object store.
	ObjectStoreUploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "mineru", Subsystem: "objectstore", Name: "upload_duration_seconds", Help: "Object-store upload latency.", Buckets: prometheus.DefBuckets},
		[]string{"kind"},
	)
)

// RegisterCollectors registers every package-level collector with reg.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(GPUPending)
	reg.MustRegister(GPUSubmitted)
	reg.MustRegister(GPUTimedOut)
	reg.MustRegister(TaskStateTransitions)
	reg.MustRegister(VisionCallDuration)
	reg.MustRegister(ObjectStoreUploadDuration)
}
