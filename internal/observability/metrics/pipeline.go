package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver on a private registry.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	stageTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageInFlight   prometheus.Gauge
	ocrConfidence   prometheus.Histogram
	redactionsTotal *prometheus.CounterVec
	documentsTotal  *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetrecord",
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Total stage executions by stage and outcome.",
		},
		[]string{"service", "stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vetrecord",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "stage"},
	)
	stageInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "vetrecord",
			Subsystem:   "pipeline",
			Name:        "stage_in_flight",
			Help:        "Number of stage executions in progress.",
			ConstLabels: constLabels,
		},
	)
	ocrConfidence := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "vetrecord",
			Subsystem:   "ocr",
			Name:        "confidence",
			Help:        "Distribution of document OCR confidence.",
			Buckets:     []float64{0.01, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
			ConstLabels: constLabels,
		},
	)
	redactionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetrecord",
			Subsystem: "pii",
			Name:      "redactions_total",
			Help:      "Total redacted spans by label.",
		},
		[]string{"service", "label"},
	)
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vetrecord",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Total documents finished by outcome.",
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(stageTotal, stageDuration, stageInFlight, ocrConfidence, redactionsTotal, documentsTotal)

	return &PipelineMetrics{
		registry:        registry,
		service:         service,
		stageTotal:      stageTotal,
		stageDuration:   stageDuration,
		stageInFlight:   stageInFlight,
		ocrConfidence:   ocrConfidence,
		redactionsTotal: redactionsTotal,
		documentsTotal:  documentsTotal,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) StageStarted(domain.Stage) {
	m.stageInFlight.Inc()
}

// StageFinished records the outcome under the failure reason, or "success".
func (m *PipelineMetrics) StageFinished(stage domain.Stage, duration time.Duration, err error) {
	m.stageInFlight.Dec()

	status := "success"
	if err != nil {
		status = string(domain.ReasonOf(err))
	}
	m.stageTotal.WithLabelValues(m.service, string(stage), status).Inc()
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveOCRConfidence(confidence float64) {
	if confidence < 0 {
		return
	}
	m.ocrConfidence.Observe(confidence)
}

func (m *PipelineMetrics) AddRedactions(label string, count int) {
	if count <= 0 {
		return
	}
	if label == "" {
		label = "unknown"
	}
	m.redactionsTotal.WithLabelValues(m.service, label).Add(float64(count))
}

func (m *PipelineMetrics) DocumentFinished(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.documentsTotal.WithLabelValues(m.service, outcome).Inc()
}
