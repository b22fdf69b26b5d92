package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks consumer throughput and outcomes, grounded on the
// CounterVec/GaugeVec shape used throughout the pack's service metrics
// collectors, trimmed to what a broker consumer (not an HTTP server)
// needs.
type Metrics struct {
	messagesReceived  prometheus.Counter
	messagesProcessed prometheus.Counter
	messagesRequeued  prometheus.Counter
	messagesRejected  prometheus.Counter
	batchesProcessed  prometheus.Counter
	batchSize         prometheus.Histogram
}

// NewMetrics registers and returns a Metrics collector scoped to one
// queue name.
func NewMetrics(queueName string) *Metrics {
	labels := prometheus.Labels{"queue": queueName}

	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_consumer_messages_received_total",
			Help:        "Total number of deliveries received from the broker.",
			ConstLabels: labels,
		}),
		messagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_consumer_messages_processed_total",
			Help:        "Total number of deliveries acked as successfully processed.",
			ConstLabels: labels,
		}),
		messagesRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_consumer_messages_requeued_total",
			Help:        "Total number of deliveries nacked with requeue.",
			ConstLabels: labels,
		}),
		messagesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_consumer_messages_rejected_total",
			Help:        "Total number of deliveries rejected without requeue (routed to the DLQ).",
			ConstLabels: labels,
		}),
		batchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "billing_consumer_batches_processed_total",
			Help:        "Total number of batches flushed.",
			ConstLabels: labels,
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "billing_consumer_batch_size",
			Help:        "Size of each flushed batch.",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(0, 10, 10),
		}),
	}

	prometheus.MustRegister(
		m.messagesReceived,
		m.messagesProcessed,
		m.messagesRequeued,
		m.messagesRejected,
		m.batchesProcessed,
		m.batchSize,
	)
	return m
}
