package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	turnsFamily      = "dental_conversation_turns_total"
	extractionFamily = "dental_conversation_extraction_total"
	notifyFamily     = "dental_notify_confirmations_total"
	llmLatencyFamily = "dental_conversation_llm_latency_seconds"
)

// LatencySnapshot summarizes successful LLM completions.
type LatencySnapshot struct {
	Total int64   `json:"total"`
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// Snapshot is the operational summary served at /api/stats.
type Snapshot struct {
	TurnsByIntent      map[string]int64 `json:"turns_by_intent"`
	ExtractionOutcomes map[string]int64 `json:"extraction_outcomes"`
	Notifications      map[string]int64 `json:"notifications"`
	LLMLatency         LatencySnapshot  `json:"llm_latency"`
}

// TakeSnapshot reads the current values out of gatherer.
func TakeSnapshot(gatherer prometheus.Gatherer) Snapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	out := Snapshot{
		TurnsByIntent:      map[string]int64{},
		ExtractionOutcomes: map[string]int64{},
		Notifications:      map[string]int64{},
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case turnsFamily:
			sumCounterBy(mf, "intent", out.TurnsByIntent)
		case extractionFamily:
			sumCounterBy(mf, "outcome", out.ExtractionOutcomes)
		case notifyFamily:
			sumCounterBy(mf, "status", out.Notifications)
		case llmLatencyFamily:
			out.LLMLatency = latencySnapshot(mf)
		}
	}
	return out
}

// StatsHandler serves TakeSnapshot as JSON.
func StatsHandler(gatherer prometheus.Gatherer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TakeSnapshot(gatherer))
	}
}

func sumCounterBy(mf *dto.MetricFamily, label string, into map[string]int64) {
	for _, metric := range mf.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		into[labelValue(metric, label)] += int64(metric.GetCounter().GetValue())
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// latencySnapshot aggregates histograms across models, keeping only status="ok".
func latencySnapshot(mf *dto.MetricFamily) LatencySnapshot {
	cumulativeByUpper := map[float64]uint64{}
	var sampleCount uint64

	for _, metric := range mf.Metric {
		if metric == nil || labelValue(metric, "status") != "ok" {
			continue
		}
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		sampleCount += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b != nil {
				cumulativeByUpper[b.GetUpperBound()] += b.GetCumulativeCount()
			}
		}
	}
	if sampleCount == 0 || len(cumulativeByUpper) == 0 {
		return LatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulativeByUpper))
	for upper := range cumulativeByUpper {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	return LatencySnapshot{
		Total: int64(sampleCount),
		P50Ms: histogramQuantile(0.50, sampleCount, uppers, cumulativeByUpper) * 1000,
		P90Ms: histogramQuantile(0.90, sampleCount, uppers, cumulativeByUpper) * 1000,
		P95Ms: histogramQuantile(0.95, sampleCount, uppers, cumulativeByUpper) * 1000,
	}
}

// histogramQuantile interpolates linearly inside the bucket holding the target rank.
func histogramQuantile(q float64, total uint64, uppers []float64, cumulativeByUpper map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}
	target := q * float64(total)
	var prevUpper, prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulativeByUpper[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}
		if math.IsInf(upper, 1) {
			return prevUpper
		}
		bucketCount := cum - prevCum
		if bucketCount <= 0 {
			return upper
		}
		fraction := math.Min(math.Max((target-prevCum)/bucketCount, 0), 1)
		return prevUpper + fraction*(upper-prevUpper)
	}
	return prevUpper
}
