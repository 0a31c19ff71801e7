package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// WebhooksReceived counts ingress deliveries by provider and outcome
	// (stored, duplicate, rejected).
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pos_webhooks_received_total", Help: "Webhook deliveries by provider and outcome."},
		[]string{"provider", "outcome"},
	)
	// JobsProcessed counts worker job outcomes by provider and result
	// (succeeded, retried, failed).
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pos_webhook_jobs_total", Help: "Webhook job outcomes by provider and result."},
		[]string{"provider", "result"},
	)
	// TicketTransitions counts applied kitchen ticket status changes.
	TicketTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pos_ticket_transitions_total", Help: "Applied kitchen ticket transitions by target status."},
		[]string{"status"},
	)
	// WorkerPassDuration tracks how long each worker pass takes.
	WorkerPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pos_worker_pass_duration_seconds", Help: "Worker pass duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	// HTTPRequestDuration tracks request latency per route pattern.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request latency by route.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(WebhooksReceived)
		Registry.MustRegister(JobsProcessed)
		Registry.MustRegister(TicketTransitions)
		Registry.MustRegister(WorkerPassDuration)
		Registry.MustRegister(HTTPRequestDuration)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
