package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	Mode      string        `json:"mode"`
	HTTP      httpSummary   `json:"http"`
	Queries   querySummary  `json:"queries"`
	Upstream  upstreamInfo  `json:"upstream"`
	Budget    budgetInfo    `json:"budget"`
	Collector collectorInfo `json:"collector"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type querySummary struct {
	Total            float64 `json:"total"`
	Active           float64 `json:"active"`
	SparksCharged    float64 `json:"sparksCharged"`
	FallbackAdvances float64 `json:"fallbackAdvances"`
}

type upstreamInfo struct {
	TotalCalls        float64 `json:"totalCalls"`
	Errors            float64 `json:"errors"`
	BreakerRejections float64 `json:"breakerRejections"`
	P50Duration       float64 `json:"p50Duration"`
	P95Duration       float64 `json:"p95Duration"`
}

type budgetInfo struct {
	Rejections float64 `json:"rejections"`
	Overdrafts float64 `json:"overdrafts"`
}

type collectorInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Charges      float64 `json:"charges"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	summary := Summary{
		Mode: "live",
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["sparkgate_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["sparkgate_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["sparkgate_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["sparkgate_http_request_duration_seconds"], 0.95),
			P99Latency:    histogramPercentile(fam["sparkgate_http_request_duration_seconds"], 0.99),
		},
		Queries: querySummary{
			Total:            sumCounter(fam["sparkgate_queries_total"]),
			Active:           gaugeValue(fam["sparkgate_active_queries"]),
			SparksCharged:    sumCounter(fam["sparkgate_query_sparks_total"]),
			FallbackAdvances: sumCounter(fam["sparkgate_fallback_advances_total"]),
		},
		Upstream: upstreamInfo{
			TotalCalls:        sumCounter(fam["sparkgate_upstream_calls_total"]),
			Errors:            sumCounter(fam["sparkgate_upstream_errors_total"]),
			BreakerRejections: sumCounter(fam["sparkgate_breaker_rejections_total"]),
			P50Duration:       histogramPercentile(fam["sparkgate_upstream_call_duration_seconds"], 0.50),
			P95Duration:       histogramPercentile(fam["sparkgate_upstream_call_duration_seconds"], 0.95),
		},
		Budget: budgetInfo{
			Rejections: sumCounter(fam["sparkgate_budget_rejections_total"]),
			Overdrafts: counterValue(fam["sparkgate_overdrafts_total"]),
		},
		Collector: collectorInfo{
			BufferSize:   gaugeValue(fam["sparkgate_collector_buffer_size"]),
			TotalFlushes: sumCounter(fam["sparkgate_collector_flushes_total"]),
			FlushErrors:  counterWithLabel(fam["sparkgate_collector_flushes_total"], "status", "error"),
			Charges:      counterValue(fam["sparkgate_collector_charges_total"]),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["sparkgate_auth_failures_total"]),
			Successes: sumCounter(fam["sparkgate_auth_successes_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["sparkgate_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["sparkgate_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["sparkgate_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["sparkgate_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["sparkgate_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName && lp.GetValue() == labelValue {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile estimates a percentile from the merged buckets of all
// series in the family.
func histogramPercentile(f *dto.MetricFamily, percentile float64) float64 {
	if f == nil {
		return 0
	}

	merged := make(map[float64]uint64)
	var totalCount uint64
	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			merged[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if totalCount == 0 {
		return 0
	}

	bounds := make([]float64, 0, len(merged))
	for ub := range merged {
		bounds = append(bounds, ub)
	}
	sort.Float64s(bounds)

	target := uint64(math.Ceil(percentile * float64(totalCount)))
	for _, ub := range bounds {
		if merged[ub] >= target {
			return ub
		}
	}
	if len(bounds) > 0 {
		return bounds[len(bounds)-1]
	}
	return 0
}
