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

package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
)

const maxSearchLimit = 1000

type ingestSpanResponse struct {
	Success bool   `json:"success"`
	SpanID  string `json:"span_id"`
}

func (s *Server) handleIngestSpan(w http.ResponseWriter, r *http.Request) {
	var input model.SpanInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, errs.Validationf("invalid span payload: %v", err))
		return
	}

	span := input.ToSpan()
	if err := span.Validate(); err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.cfg.Pipeline.Submit(r.Context(), span); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, ingestSpanResponse{Success: true, SpanID: span.SpanID})
}

type ingestBatchRequest struct {
	Spans []model.SpanInput `json:"spans"`
}

type ingestBatchResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req ingestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errs.Validationf("invalid batch payload: %v", err))
		return
	}

	spans := make([]*model.Span, 0, len(req.Spans))
	for i := range req.Spans {
		span := req.Spans[i].ToSpan()
		if err := span.Validate(); err != nil {
			continue
		}
		spans = append(spans, span)
	}

	accepted, err := s.cfg.Pipeline.SubmitBatch(r.Context(), spans)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusAccepted, ingestBatchResponse{
		Accepted: accepted,
		Rejected: len(req.Spans) - accepted,
	})
}

type listSpansResponse struct {
	Spans []*model.Span `json:"spans"`
	Total int           `json:"total"`
}

func (s *Server) handleListSpans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		spans []*model.Span
		err   error
	)
	if traceID := q.Get("trace_id"); traceID != "" {
		spans, err = s.cfg.Spans.GetByTraceID(r.Context(), traceID)
	} else {
		spans, err = s.cfg.Spans.GetRecent(r.Context(), queryInt(q, "limit", 100))
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	if spans == nil {
		spans = []*model.Span{}
	}
	s.respond(w, http.StatusOK, listSpansResponse{Spans: spans, Total: len(spans)})
}

func (s *Server) handleGetSpan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("span_id"))
	if err != nil {
		s.respondError(w, errs.Validationf("invalid span id"))
		return
	}

	span, err := s.cfg.Spans.GetByID(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, span)
}

type searchResponse struct {
	Spans  []*model.Span `json:"spans"`
	Total  int64         `json:"total"`
	Limit  int64         `json:"limit"`
	Offset int64         `json:"offset"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := model.SearchParams{
		Query:       queryStr(q, "q"),
		Service:     queryStr(q, "service"),
		Model:       queryStr(q, "model"),
		MinDuration: queryFloat(q, "min_duration"),
		MaxDuration: queryFloat(q, "max_duration"),
		MinCost:     queryFloat(q, "min_cost"),
		MaxCost:     queryFloat(q, "max_cost"),
		SortBy:      q.Get("sort_by"),
		SortDesc:    q.Get("sort_order") != "asc",
		Limit:       min(queryInt(q, "limit", 50), maxSearchLimit),
		Offset:      queryInt(q, "offset", 0),
	}
	if status := q.Get("status"); status != "" {
		st := model.SpanStatus(status)
		params.Status = &st
	}
	var err error
	if params.Since, err = queryTime(q, "since"); err != nil {
		s.respondError(w, err)
		return
	}
	if params.Until, err = queryTime(q, "until"); err != nil {
		s.respondError(w, err)
		return
	}

	spans, total, err := s.cfg.Spans.Search(r.Context(), params)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if spans == nil {
		spans = []*model.Span{}
	}
	s.respond(w, http.StatusOK, searchResponse{
		Spans: spans, Total: total, Limit: params.Limit, Offset: params.Offset,
	})
}

type advancedSearchRequest struct {
	Filters []model.SearchFilter `json:"filters"`
	Sort    *model.SortConfig    `json:"sort,omitempty"`
	Limit   *int64               `json:"limit,omitempty"`
	Offset  *int64               `json:"offset,omitempty"`
}

func (s *Server) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	var req advancedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errs.Validationf("invalid search payload: %v", err))
		return
	}

	limit := int64(50)
	if req.Limit != nil {
		limit = min(*req.Limit, maxSearchLimit)
	}
	var offset int64
	if req.Offset != nil {
		offset = *req.Offset
	}

	spans, total, err := s.cfg.Spans.AdvancedSearch(r.Context(), req.Filters, req.Sort, limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if spans == nil {
		spans = []*model.Span{}
	}
	s.respond(w, http.StatusOK, searchResponse{Spans: spans, Total: total, Limit: limit, Offset: offset})
}

type listTracesResponse struct {
	Traces []*model.TraceSummary `json:"traces"`
	Total  int64                 `json:"total"`
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status *model.SpanStatus
	if v := q.Get("status"); v != "" {
		st := model.SpanStatus(v)
		status = &st
	}
	since, err := queryTime(q, "since")
	if err != nil {
		s.respondError(w, err)
		return
	}

	traces, err := s.cfg.Spans.ListTraces(r.Context(),
		queryStr(q, "service"), status, since, queryInt(q, "limit", 50))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if traces == nil {
		traces = []*model.TraceSummary{}
	}
	s.respond(w, http.StatusOK, listTracesResponse{Traces: traces, Total: int64(len(traces))})
}

type traceDetail struct {
	TraceID string             `json:"trace_id"`
	Spans   []*model.Span      `json:"spans"`
	Summary model.TraceSummary `json:"summary"`
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("trace_id")

	spans, err := s.cfg.Spans.GetByTraceID(r.Context(), traceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if len(spans) == 0 {
		s.respondError(w, errs.NotFoundErr("trace", traceID))
		return
	}

	s.respond(w, http.StatusOK, traceDetail{
		TraceID: traceID,
		Spans:   spans,
		Summary: summarizeTrace(traceID, spans),
	})
}

// summarizeTrace rolls a trace's spans up into a summary. The root span, if
// present, contributes the operation, service and timing.
func summarizeTrace(traceID string, spans []*model.Span) model.TraceSummary {
	summary := model.TraceSummary{
		TraceID:   traceID,
		StartedAt: time.Now().UTC(),
		SpanCount: int64(len(spans)),
	}

	var root *model.Span
	for _, span := range spans {
		if span.ParentSpanID == nil {
			root = span
			break
		}
	}
	if root != nil {
		summary.RootOperation = root.OperationName
		summary.ServiceName = root.ServiceName
		summary.StartedAt = root.StartedAt
		summary.DurationMS = root.DurationMS
	}

	for _, span := range spans {
		if span.Status == model.SpanStatusError {
			summary.ErrorCount++
		}
		if span.TokensIn != nil {
			summary.TotalTokens += int64(*span.TokensIn)
		}
		if span.TokensOut != nil {
			summary.TotalTokens += int64(*span.TokensOut)
		}
		if span.CostUSD != nil {
			summary.TotalCostUSD += *span.CostUSD
		}
	}
	return summary
}

func (s *Server) handleGetTraceSpans(w http.ResponseWriter, r *http.Request) {
	spans, err := s.cfg.Spans.GetByTraceID(r.Context(), r.PathValue("trace_id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if spans == nil {
		spans = []*model.Span{}
	}
	s.respond(w, http.StatusOK, spans)
}

// metricScope parses the shared service/model/since/until metric query
// parameters, defaulting the window to the given lookback.
func metricScope(q url.Values, lookback time.Duration) (storage.MetricScope, error) {
	scope := storage.MetricScope{
		Service: queryStr(q, "service"),
		Model:   queryStr(q, "model"),
		Until:   time.Now().UTC(),
	}
	scope.Since = scope.Until.Add(-lookback)

	if since, err := queryTime(q, "since"); err != nil {
		return scope, err
	} else if since != nil {
		scope.Since = *since
	}
	if until, err := queryTime(q, "until"); err != nil {
		return scope, err
	} else if until != nil {
		scope.Until = *until
	}
	return scope, nil
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	scope, err := metricScope(r.URL.Query(), time.Hour)
	if err != nil {
		s.respondError(w, err)
		return
	}

	summary, err := s.cfg.Spans.MetricsSummary(r.Context(), scope)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, summary)
}

type costMetricsResponse struct {
	Costs        []*model.CostMetric `json:"costs"`
	TotalCostUSD float64             `json:"total_cost_usd"`
}

func (s *Server) handleCostMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := metricScope(q, 7*24*time.Hour)
	if err != nil {
		s.respondError(w, err)
		return
	}
	groupBy := q.Get("group_by")
	if groupBy == "" {
		groupBy = "model"
	}

	costs, err := s.cfg.Spans.CostByGroup(r.Context(), scope.Service, groupBy, scope.Since, scope.Until)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if costs == nil {
		costs = []*model.CostMetric{}
	}

	var total float64
	for _, c := range costs {
		total += c.TotalCostUSD
	}
	s.respond(w, http.StatusOK, costMetricsResponse{Costs: costs, TotalCostUSD: total})
}

type latencyMetricsResponse struct {
	Metrics []*model.LatencyMetric `json:"metrics"`
}

func (s *Server) handleLatencyMetrics(w http.ResponseWriter, r *http.Request) {
	scope, err := metricScope(r.URL.Query(), 24*time.Hour)
	if err != nil {
		s.respondError(w, err)
		return
	}

	metrics, err := s.cfg.Spans.LatencyOverTime(r.Context(), scope)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if metrics == nil {
		metrics = []*model.LatencyMetric{}
	}
	s.respond(w, http.StatusOK, latencyMetricsResponse{Metrics: metrics})
}

type errorMetricsResponse struct {
	Metrics          []*model.ErrorMetric `json:"metrics"`
	OverallErrorRate float64              `json:"overall_error_rate"`
}

func (s *Server) handleErrorMetrics(w http.ResponseWriter, r *http.Request) {
	scope, err := metricScope(r.URL.Query(), 24*time.Hour)
	if err != nil {
		s.respondError(w, err)
		return
	}

	metrics, err := s.cfg.Spans.ErrorsOverTime(r.Context(), scope)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if metrics == nil {
		metrics = []*model.ErrorMetric{}
	}

	var totalErrors, totalCount int64
	for _, m := range metrics {
		totalErrors += m.ErrorCount
		totalCount += m.TotalCount
	}
	var overall float64
	if totalCount > 0 {
		overall = float64(totalErrors) / float64(totalCount) * 100.0
	}
	s.respond(w, http.StatusOK, errorMetricsResponse{Metrics: metrics, OverallErrorRate: overall})
}

func queryStr(q url.Values, key string) *string {
	if v := q.Get(key); v != "" {
		return &v
	}
	return nil
}

func queryInt(q url.Values, key string, def int64) int64 {
	v := q.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryFloat(q url.Values, key string) *float64 {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func queryTime(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errs.Validationf("invalid %s timestamp: %v", key, err)
	}
	return &t, nil
}
