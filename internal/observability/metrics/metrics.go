package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for voice booking turns.
type ConversationMetrics struct {
	turnsTotal         *prometheus.CounterVec
	extractionTotal    *prometheus.CounterVec
	stageLatency       *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Completed conversation turns by intent",
		}, []string{"intent"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "conversation",
			Name:      "extraction_total",
			Help:      "Appointment block extraction outcomes",
		}, []string{"outcome"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "conversation",
			Name:      "stage_latency_seconds",
			Help:      "Latency of each turn stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"stage", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "notify",
			Name:      "confirmations_total",
			Help:      "Appointment confirmation emails by result",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.extractionTotal, m.stageLatency, m.notificationsTotal)
	return m
}

func (m *ConversationMetrics) ObserveTurn(intent string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent).Inc()
}

func (m *ConversationMetrics) ObserveExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveStage(stage string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageLatency.WithLabelValues(stage, status).Observe(seconds)
}

func (m *ConversationMetrics) ObserveNotification(sent bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !sent {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}
