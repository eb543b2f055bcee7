// queue.go Prometheus collectors for the message queue consumer
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for the SQS consumer
type QueueMetrics struct {
	messagesTotal *prometheus.CounterVec
	receiveErrors prometheus.Counter
	batchSizeHist prometheus.Histogram
}

// NewQueueMetrics creates and registers the consumer collectors.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Total number of consumed queue messages by result",
		}, []string{"result"}),
		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_receive_errors_total",
			Help: "Total number of queue polling errors",
		}),
		batchSizeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queue_batch_size",
			Help:    "Number of messages received per poll",
			Buckets: []float64{0, 1, 2, 5, 10},
		}),
	}

	for _, c := range []prometheus.Collector{m.messagesTotal, m.receiveErrors, m.batchSizeHist} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordMessage counts one consumed message with its processing result.
func (m *QueueMetrics) RecordMessage(result string) {
	m.messagesTotal.WithLabelValues(result).Inc()
}

// RecordReceiveError counts one queue polling failure.
func (m *QueueMetrics) RecordReceiveError() {
	m.receiveErrors.Inc()
}

// RecordBatchSize records the size of one received batch.
func (m *QueueMetrics) RecordBatchSize(size int) {
	m.batchSizeHist.Observe(float64(size))
}
