package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTurn("book_appointment")
	m.ObserveTurn("book_appointment")
	m.ObserveTurn("conversation")
	m.ObserveExtraction("booking_ready")
	m.ObserveStage("generating", 0.8, nil)
	m.ObserveStage("synthesizing", 0.2, errors.New("polly"))
	m.ObserveNotification(false)

	snap := TakeSnapshot(reg)
	if snap.TurnsByIntent["book_appointment"] != 2 || snap.TurnsByIntent["conversation"] != 1 {
		t.Fatalf("unexpected turns %v", snap.TurnsByIntent)
	}
	if snap.ExtractionOutcomes["booking_ready"] != 1 {
		t.Fatalf("unexpected extraction outcomes %v", snap.ExtractionOutcomes)
	}
	if snap.Notifications["failed"] != 1 {
		t.Fatalf("unexpected notifications %v", snap.Notifications)
	}
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveTurn("conversation")
	m.ObserveExtraction("conversational")
	m.ObserveStage("generating", 0.1, nil)
	m.ObserveNotification(true)
}

func TestTakeSnapshot_LLMLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dental",
		Subsystem: "conversation",
		Name:      "llm_latency_seconds",
		Buckets:   []float64{1, 2, 4},
	}, []string{"model", "status"})
	reg.MustRegister(hist)

	for i := 0; i < 10; i++ {
		hist.WithLabelValues("gemini", "ok").Observe(1.5)
	}
	hist.WithLabelValues("gemini", "error").Observe(30)

	snap := TakeSnapshot(reg)
	if snap.LLMLatency.Total != 10 {
		t.Fatalf("expected only ok samples, got %d", snap.LLMLatency.Total)
	}
	if snap.LLMLatency.P90Ms <= 1000 || snap.LLMLatency.P90Ms > 2000 {
		t.Fatalf("expected p90 within the 1-2s bucket, got %v", snap.LLMLatency.P90Ms)
	}
}

func TestStatsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewConversationMetrics(reg).ObserveTurn("conversation")

	rec := httptest.NewRecorder()
	StatsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TurnsByIntent["conversation"] != 1 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
