package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSucceeded      = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_jobs_succeeded_total", Help: "Jobs completed successfully"})
	JobsRetried        = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_jobs_retried_total", Help: "Jobs that failed and were requeued with backoff"})
	JobsDeadLettered   = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_jobs_dead_letter_total", Help: "Jobs moved to the dead letter state"})
	JobsRecycled       = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_jobs_recycled_total", Help: "Dead-lettered jobs recycled back to the queue by triage"})
	ChallengesDetected = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_challenges_total", Help: "Platform challenges detected"})
	CircuitOpens       = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_circuit_opens_total", Help: "Circuit breaker opens from consecutive failures"})
	OutboxDelivered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_outbox_delivered_total", Help: "Outbox events delivered to the sink"})
	OutboxFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_outbox_failed_total", Help: "Outbox delivery attempts that failed"})
	OutboxPermanent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_outbox_permanent_failures_total", Help: "Outbox events marked permanently failed"})
	MirrorFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "leadpilot_mirror_failures_total", Help: "Mirror side-channel writes that failed"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "leadpilot_queue_depth", Help: "Queued jobs awaiting execution"})
	OutboxBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "leadpilot_outbox_backlog", Help: "Undelivered outbox events"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSucceeded,
			JobsRetried,
			JobsDeadLettered,
			JobsRecycled,
			ChallengesDetected,
			CircuitOpens,
			OutboxDelivered,
			OutboxFailed,
			OutboxPermanent,
			MirrorFailures,
			QueueDepthGauge,
			OutboxBacklogGauge,
		)
	})
	return promhttp.Handler()
}
