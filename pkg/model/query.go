// Copyright 2026 AgentTrace Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"encoding/json"
	"time"
)

// SearchFilter is one predicate of an advanced search. Field and Operator
// are validated against whitelists by the storage layer.
type SearchFilter struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// SortConfig orders search results.
type SortConfig struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
}

// SearchParams are the simple-search parameters. Nil fields are not
// filtered on. Query matches operation names and previews.
type SearchParams struct {
	Query       *string
	Service     *string
	Model       *string
	Status      *SpanStatus
	MinDuration *float64
	MaxDuration *float64
	MinCost     *float64
	MaxCost     *float64
	Since       *time.Time
	Until       *time.Time
	SortBy      string
	SortDesc    bool
	Limit       int64
	Offset      int64
}

// TraceSummary aggregates one trace: root-span identity plus rollups over
// all of its spans.
type TraceSummary struct {
	TraceID       string    `json:"trace_id"`
	RootOperation string    `json:"root_operation"`
	ServiceName   string    `json:"service_name"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    *float64  `json:"duration_ms,omitempty"`
	SpanCount     int64     `json:"span_count"`
	ErrorCount    int64     `json:"error_count"`
	TotalTokens   int64     `json:"total_tokens"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
}

// MetricsSummary is the aggregate metrics response for a time range.
type MetricsSummary struct {
	TotalSpans   int64   `json:"total_spans"`
	TotalTraces  int64   `json:"total_traces"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	ErrorCount   int64   `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P50LatencyMS float64 `json:"p50_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
	P99LatencyMS float64 `json:"p99_latency_ms"`
}

// CostMetric is one group of a cost breakdown (by model, provider or
// service).
type CostMetric struct {
	Group        string  `json:"group"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int64   `json:"total_tokens"`
	CallCount    int64   `json:"call_count"`
}

// LatencyMetric is one time bucket of latency percentiles.
type LatencyMetric struct {
	Timestamp time.Time `json:"timestamp"`
	AvgMS     float64   `json:"avg_ms"`
	P50MS     float64   `json:"p50_ms"`
	P95MS     float64   `json:"p95_ms"`
	P99MS     float64   `json:"p99_ms"`
	Count     int64     `json:"count"`
}

// ErrorMetric is one time bucket of error counts.
type ErrorMetric struct {
	Timestamp  time.Time `json:"timestamp"`
	ErrorCount int64     `json:"error_count"`
	TotalCount int64     `json:"total_count"`
	ErrorRate  float64   `json:"error_rate"`
}

// ErrorStats is the windowed error aggregate the alert evaluator consumes.
type ErrorStats struct {
	ErrorCount     int64
	Total          int64
	SampleTraceIDs []string
}
