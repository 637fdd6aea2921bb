package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// PipelineMetrics exports per-request outcomes to Prometheus.
//
// Metrics:
//   - credit_pipeline_processed_total{method, success}
//   - credit_pipeline_processing_seconds{method}
//   - credit_pipeline_confidence{method}
//   - credit_pipeline_alerts_total{type}
//   - credit_pipeline_mirror_dropped_total{queue}
type PipelineMetrics struct {
	Processed     *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Confidence    *prometheus.HistogramVec
	Alerts        *prometheus.CounterVec
	MirrorDropped *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics with reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		Processed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_pipeline_processed_total",
				Help: "Processed documents by extraction method and outcome",
			},
			[]string{"method", "success"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_pipeline_processing_seconds",
				Help:    "End-to-end processing time",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
			},
			[]string{"method"},
		),
		Confidence: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_pipeline_confidence",
				Help:    "Blended confidence score of completed documents",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"method"},
		),
		Alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_pipeline_alerts_total",
				Help: "Alerts raised by type",
			},
			[]string{"type"},
		),
		MirrorDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_pipeline_mirror_dropped_total",
				Help: "Items dropped from a full mirror queue",
			},
			[]string{"queue"},
		),
	}
}

// Observe records one metrics record.
func (m *PipelineMetrics) Observe(rec model.ProcessingMetricsRecord) {
	if m == nil {
		return
	}
	method := methodLabel(rec.Method)
	m.Processed.WithLabelValues(method, strconv.FormatBool(rec.Success)).Inc()
	m.Duration.WithLabelValues(method).Observe(float64(rec.ProcessingTimeMs) / 1000)
	if rec.Success {
		m.Confidence.WithLabelValues(method).Observe(rec.Confidence)
	}
}

func (m *PipelineMetrics) alert(t model.AlertType) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(string(t)).Inc()
}

func (m *PipelineMetrics) dropped(queue string) func() {
	if m == nil {
		return nil
	}
	c := m.MirrorDropped.WithLabelValues(queue)
	return c.Inc
}

func methodLabel(m model.Method) string {
	if m == model.MethodNone {
		return "none"
	}
	return string(m)
}
