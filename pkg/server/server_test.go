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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
	"github.com/agenttrace/agenttrace/pkg/stream"
)

func ptr[T any](v T) *T { return &v }

type fakePipeline struct {
	mu    sync.Mutex
	spans []*model.Span
}

func (f *fakePipeline) Submit(_ context.Context, span *model.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, span)
	return nil
}

func (f *fakePipeline) SubmitBatch(_ context.Context, spans []*model.Span) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spans...)
	return len(spans), nil
}

type stubSpanStore struct {
	storage.SpanStore

	recent  []*model.Span
	byTrace map[string][]*model.Span
	summary *model.MetricsSummary

	gotParams model.SearchParams
}

func (s *stubSpanStore) GetRecent(_ context.Context, limit int64) ([]*model.Span, error) {
	if int64(len(s.recent)) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *stubSpanStore) GetByTraceID(_ context.Context, traceID string) ([]*model.Span, error) {
	return s.byTrace[traceID], nil
}

func (s *stubSpanStore) GetByID(_ context.Context, id uuid.UUID) (*model.Span, error) {
	for _, span := range s.recent {
		if span.ID == id {
			return span, nil
		}
	}
	return nil, errs.NotFoundErr("span", id.String())
}

func (s *stubSpanStore) Search(_ context.Context, params model.SearchParams) ([]*model.Span, int64, error) {
	s.gotParams = params
	return s.recent, int64(len(s.recent)), nil
}

func (s *stubSpanStore) MetricsSummary(context.Context, storage.MetricScope) (*model.MetricsSummary, error) {
	return s.summary, nil
}

type stubAlertStore struct {
	storage.AlertStore

	rules        map[uuid.UUID]*model.AlertRule
	acknowledged []uuid.UUID
}

func newStubAlertStore() *stubAlertStore {
	return &stubAlertStore{rules: make(map[uuid.UUID]*model.AlertRule)}
}

func (s *stubAlertStore) CreateRule(_ context.Context, rule *model.AlertRule) error {
	s.rules[rule.ID] = rule
	return nil
}

func (s *stubAlertStore) GetRule(_ context.Context, id uuid.UUID) (*model.AlertRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, errs.NotFoundErr("alert rule", id.String())
	}
	return rule, nil
}

func (s *stubAlertStore) ListRules(context.Context) ([]*model.AlertRule, error) {
	var rules []*model.AlertRule
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	return rules, nil
}

func (s *stubAlertStore) AcknowledgeEvent(_ context.Context, id uuid.UUID) error {
	s.acknowledged = append(s.acknowledged, id)
	return nil
}

func testServer(t *testing.T, mutate func(*Config)) (*Server, *fakePipeline, *stubSpanStore) {
	t.Helper()
	pipeline := &fakePipeline{}
	spans := &stubSpanStore{byTrace: map[string][]*model.Span{}}
	cfg := Config{
		Version:  "test",
		Pipeline: pipeline,
		Spans:    spans,
		CORS:     DefaultCORSConfig(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), pipeline, spans
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestSpan(t *testing.T) {
	srv, pipeline, _ := testServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/spans", map[string]any{
		"span_id":        "s1",
		"trace_id":       "t1",
		"operation_name": "plan",
		"started_at":     time.Now().UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestSpanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "s1", resp.SpanID)

	require.Len(t, pipeline.spans, 1)
	span := pipeline.spans[0]
	assert.Equal(t, "t1", span.TraceID)
	assert.Equal(t, model.SpanKindInternal, span.SpanKind)
	assert.NotEqual(t, uuid.Nil, span.ID)
}

func TestIngestSpanValidation(t *testing.T) {
	srv, pipeline, _ := testServer(t, nil)

	// Missing trace_id.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/spans", map[string]any{
		"span_id":        "s1",
		"operation_name": "plan",
		"started_at":     time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/spans", strings.NewReader("{nope"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, pipeline.spans)
}

func TestIngestBatchSkipsInvalid(t *testing.T) {
	srv, pipeline, _ := testServer(t, nil)

	now := time.Now().UTC().Format(time.RFC3339)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/spans/batch", map[string]any{
		"spans": []map[string]any{
			{"span_id": "s1", "trace_id": "t1", "operation_name": "a", "started_at": now},
			{"span_id": "s2", "operation_name": "b", "started_at": now}, // no trace_id
			{"span_id": "s3", "trace_id": "t1", "operation_name": "c", "started_at": now},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestBatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Rejected)
	assert.Len(t, pipeline.spans, 2)
}

func TestGetSpanNotFound(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/spans/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchParamParsing(t *testing.T) {
	srv, _, spans := testServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet,
		"/api/v1/search?q=tool&service=checkout&status=error&min_cost=0.5&limit=5000&sort_order=asc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := spans.gotParams
	require.NotNil(t, got.Query)
	assert.Equal(t, "tool", *got.Query)
	require.NotNil(t, got.Service)
	assert.Equal(t, "checkout", *got.Service)
	require.NotNil(t, got.Status)
	assert.Equal(t, model.SpanStatusError, *got.Status)
	require.NotNil(t, got.MinCost)
	assert.Equal(t, 0.5, *got.MinCost)
	assert.False(t, got.SortDesc)
	// Limit is clamped.
	assert.Equal(t, int64(maxSearchLimit), got.Limit)
}

func TestGetTraceSummary(t *testing.T) {
	srv, _, spans := testServer(t, nil)

	started := time.Now().UTC().Truncate(time.Second)
	spans.byTrace["t1"] = []*model.Span{
		{
			ID: uuid.New(), SpanID: "root", TraceID: "t1",
			OperationName: "plan", ServiceName: "agent",
			StartedAt: started, DurationMS: ptr(120.0),
			Status: model.SpanStatusOK, TokensIn: ptr(int32(100)), TokensOut: ptr(int32(50)),
			CostUSD: ptr(0.01),
		},
		{
			ID: uuid.New(), SpanID: "child", TraceID: "t1", ParentSpanID: ptr("root"),
			OperationName: "llm", ServiceName: "agent",
			StartedAt: started, Status: model.SpanStatusError,
		},
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/traces/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail traceDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "t1", detail.TraceID)
	assert.Len(t, detail.Spans, 2)
	assert.Equal(t, "plan", detail.Summary.RootOperation)
	assert.Equal(t, int64(2), detail.Summary.SpanCount)
	assert.Equal(t, int64(1), detail.Summary.ErrorCount)
	assert.Equal(t, int64(150), detail.Summary.TotalTokens)
	assert.Equal(t, 0.01, detail.Summary.TotalCostUSD)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/traces/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsSummary(t *testing.T) {
	srv, _, spans := testServer(t, nil)
	spans.summary = &model.MetricsSummary{TotalSpans: 7, ErrorRate: 14.3}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/metrics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.MetricsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(7), got.TotalSpans)
}

func TestAlertRuleLifecycle(t *testing.T) {
	alerts := newStubAlertStore()
	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Alerts = alerts })

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/alerts/rules", map[string]any{
		"name":      "high error rate",
		"metric":    "error_rate",
		"operator":  "gt",
		"threshold": 5.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var rule model.AlertRule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.Equal(t, int32(5), rule.WindowMinutes)
	assert.Equal(t, model.SeverityWarning, rule.Severity)
	assert.True(t, rule.Enabled)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/alerts/rules/"+rule.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Invalid payload is rejected before storage.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/alerts/rules", map[string]any{
		"name": "no metric", "operator": "gt",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertingNotConfigured(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/alerts/rules", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAcknowledgeAlertEvent(t *testing.T) {
	alerts := newStubAlertStore()
	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Alerts = alerts })

	id := uuid.New()
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/alerts/events/"+id.String()+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, alerts.acknowledged)
}

func TestHealthDegraded(t *testing.T) {
	srv, _, _ := testServer(t, func(cfg *Config) {
		cfg.DB = pingFunc(func(context.Context) error { return nil })
		cfg.Redis = pingFunc(func(context.Context) error { return errs.New(errs.PubSub, "down") })
	})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/spans", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamDeliversSpans(t *testing.T) {
	broker := stream.NewMemoryBroker()
	defer broker.Close()

	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Broker = broker })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream?trace_id=t1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	span := &model.Span{ID: uuid.New(), SpanID: "s1", TraceID: "t1", OperationName: "plan"}
	require.NoError(t, broker.PublishSpan(ctx, span))

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	assert.Equal(t, "span", event)
	var got model.Span
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "s1", got.SpanID)
}

func TestStreamTraceChannelParam(t *testing.T) {
	broker := stream.NewMemoryBroker()
	defer broker.Close()

	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Broker = broker })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream?channel=trace:t1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, broker.PublishSpan(ctx, &model.Span{ID: uuid.New(), SpanID: "other", TraceID: "t2"}))
	require.NoError(t, broker.PublishSpan(ctx, &model.Span{ID: uuid.New(), SpanID: "mine", TraceID: "t1"}))

	reader := bufio.NewReader(resp.Body)
	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	// Only the requested trace's span arrives on the trace channel.
	var got model.Span
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "mine", got.SpanID)
	assert.Equal(t, "t1", got.TraceID)
}

func TestStreamRejectsUnknownChannel(t *testing.T) {
	broker := stream.NewMemoryBroker()
	defer broker.Close()

	srv, _, _ := testServer(t, func(cfg *Config) { cfg.Broker = broker })

	for _, channel := range []string{"bogus", "trace:"} {
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stream?channel="+channel, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "channel %q", channel)
	}
}

func TestStreamWithoutBroker(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
