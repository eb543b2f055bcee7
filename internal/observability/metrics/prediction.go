// Package metrics provides the Prometheus collectors for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PredictionMetrics contains Prometheus metrics for the ingestion pipeline
type PredictionMetrics struct {
	predictionsTotal   *prometheus.CounterVec
	detectionCountHist prometheus.Histogram
	inferenceDuration  prometheus.Histogram
	pipelineDuration   *prometheus.HistogramVec
}

// NewPredictionMetrics creates and registers the pipeline collectors.
func NewPredictionMetrics(registry *prometheus.Registry) (*PredictionMetrics, error) {
	m := &PredictionMetrics{
		predictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of prediction pipeline runs by source and status",
		}, []string{"source", "status"}),
		detectionCountHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_detection_count",
			Help:    "Number of detections per prediction",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_inference_duration_seconds",
			Help:    "Model inference duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prediction_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds by source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}

	collectors := []prometheus.Collector{
		m.predictionsTotal,
		m.detectionCountHist,
		m.inferenceDuration,
		m.pipelineDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordPrediction counts one pipeline run.
func (m *PredictionMetrics) RecordPrediction(source, status string) {
	m.predictionsTotal.WithLabelValues(source, status).Inc()
}

// RecordDetectionCount records the number of detections in one run.
func (m *PredictionMetrics) RecordDetectionCount(count int) {
	m.detectionCountHist.Observe(float64(count))
}

// ObserveInference records one inference duration.
func (m *PredictionMetrics) ObserveInference(d time.Duration) {
	m.inferenceDuration.Observe(d.Seconds())
}

// ObservePipeline records one end-to-end pipeline duration.
func (m *PredictionMetrics) ObservePipeline(source string, d time.Duration) {
	m.pipelineDuration.WithLabelValues(source).Observe(d.Seconds())
}
