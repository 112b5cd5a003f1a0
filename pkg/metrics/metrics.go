package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LeadsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_leads_received_total",
			Help: "Total number of leads received at the ingestion boundary (count)",
		},
		[]string{"source", "status"},
	)

	NormalizationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_normalization_errors_total",
			Help: "Total number of payloads rejected during normalization (count)",
		},
		[]string{"source", "kind"},
	)

	ComplianceRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_rejections_total",
			Help: "Total number of leads rejected by the compliance gate (count)",
		},
		[]string{"tenant", "reason"},
	)

	IngestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestion_processing_duration_ms",
			Help:    "End-to-end ingestion processing duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"source", "status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of items currently queued per tenant and priority class (count)",
		},
		[]string{"tenant", "priority_class"},
	)

	EnqueueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of enqueue attempts (count)",
		},
		[]string{"status"},
	)

	DequeueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of dequeue attempts (count)",
		},
		[]string{"outcome"},
	)

	QueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_wait_duration_ms",
			Help:    "Time items spend queued before being claimed in milliseconds",
			Buckets: []float64{10, 100, 1000, 5000, 30000, 60000, 300000, 1800000},
		},
		[]string{"priority_class"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of admission decisions by scope and outcome (count)",
		},
		[]string{"scope", "kind", "outcome"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of HTTP requests checked against the per-IP limiter (count)",
		},
		[]string{"status"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_commands_total",
			Help: "Total number of dispatch commands emitted (count)",
		},
		[]string{"status"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_ms",
			Help:    "Duration of dispatch command emission in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	RetryScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_scheduled_total",
			Help: "Total number of retries scheduled by error kind (count)",
		},
		[]string{"error_kind"},
	)

	DeadLetterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_total",
			Help: "Total number of items moved to the dead-letter store (count)",
		},
		[]string{"error_kind"},
	)

	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_total",
			Help: "Total number of alert escalations for repeated system errors (count)",
		},
		[]string{"tenant"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	BrokerRetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_retry_attempts_total",
			Help: "Total number of broker-level consume retries (count)",
		},
		[]string{"service", "topic"},
	)

	BrokerDLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_dlq_messages_total",
			Help: "Total number of messages parked on the broker DLQ topic (count)",
		},
		[]string{"service", "topic", "reason"},
	)
)

func RegisterIngestionMetrics() {
	prometheus.MustRegister(LeadsReceivedTotal)
	prometheus.MustRegister(NormalizationErrorsTotal)
	prometheus.MustRegister(ComplianceRejectionsTotal)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(EnqueueTotal)
	prometheus.MustRegister(RateLimitDecisionsTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterDispatchMetrics() {
	prometheus.MustRegister(DequeueTotal)
	prometheus.MustRegister(QueueWaitDuration)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(RetryScheduledTotal)
	prometheus.MustRegister(DeadLetterTotal)
	prometheus.MustRegister(EscalationsTotal)
}

func RegisterAdminMetrics() {
	prometheus.MustRegister(QueueDepth)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(BrokerRetryAttemptsTotal)
	prometheus.MustRegister(BrokerDLQMessagesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func ObserveIngestionDuration(source, status string, duration time.Duration) {
	IngestionDuration.WithLabelValues(source, status).Observe(float64(duration.Milliseconds()))
}

func ObserveQueueWait(priorityClass string, duration time.Duration) {
	QueueWaitDuration.WithLabelValues(priorityClass).Observe(float64(duration.Milliseconds()))
}

func ObserveDispatchDuration(status string, duration time.Duration) {
	DispatchDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetQueueDepth(tenant, priorityClass string, depth int) {
	QueueDepth.WithLabelValues(tenant, priorityClass).Set(float64(depth))
}

func IncRateLimitDecision(scope, kind, outcome string) {
	RateLimitDecisionsTotal.WithLabelValues(scope, kind, outcome).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
