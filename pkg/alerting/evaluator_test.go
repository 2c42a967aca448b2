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

package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
)

func ptr[T any](v T) *T { return &v }

type fakeAlertStore struct {
	storage.AlertStore

	mu        sync.Mutex
	active    []*model.AlertEvent
	created   []*model.AlertEvent
	resolved  []uuid.UUID
	evaluated []uuid.UUID
	triggered []uuid.UUID
	notified  map[uuid.UUID][]model.NotificationRecord
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{notified: make(map[uuid.UUID][]model.NotificationRecord)}
}

func (f *fakeAlertStore) ListActiveEvents(context.Context) ([]*model.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeAlertStore) CreateEvent(_ context.Context, event *model.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return nil
}

func (f *fakeAlertStore) ResolveEvent(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeAlertStore) UpdateLastEvaluated(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, id)
	return nil
}

func (f *fakeAlertStore) UpdateLastTriggered(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, id)
	return nil
}

func (f *fakeAlertStore) UpdateEventNotifications(_ context.Context, id uuid.UUID, records []model.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified[id] = records
	return nil
}

// fakeSpanStore serves a scripted sequence of error stats.
type fakeSpanStore struct {
	storage.SpanStore

	mu    sync.Mutex
	stats []*model.ErrorStats
	next  int
}

func (f *fakeSpanStore) ErrorStats(context.Context, storage.MetricScope) (*model.ErrorStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.stats) {
		return &model.ErrorStats{}, nil
	}
	s := f.stats[f.next]
	f.next++
	return s, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSender) SendAll(_ context.Context, _ *model.AlertRule, _ *model.AlertEvent) []model.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []model.NotificationRecord{{ChannelType: "webhook", SentAt: time.Now().UTC(), Success: true}}
}

func errorRateRule(consecutive int32) *model.AlertRule {
	return &model.AlertRule{
		ID:                  uuid.New(),
		Name:                "high error rate",
		Metric:              "error_rate",
		Operator:            model.OpGt,
		Threshold:           ptr(5.0),
		WindowMinutes:       5,
		ConsecutiveFailures: consecutive,
		Severity:            model.SeverityCritical,
	}
}

// stat builds error stats yielding the given error rate over 100 spans.
func stat(errorCount int64) *model.ErrorStats {
	return &model.ErrorStats{
		ErrorCount:     errorCount,
		Total:          100,
		SampleTraceIDs: []string{"trace-a"},
	}
}

func TestEvaluatorHysteresis(t *testing.T) {
	alerts := newFakeAlertStore()
	// 10%, 10%, 10%, 10%, 2% against a >5% threshold.
	spans := &fakeSpanStore{stats: []*model.ErrorStats{
		stat(10), stat(10), stat(10), stat(10), stat(2),
	}}
	sender := &fakeSender{}
	ev := NewEvaluator(alerts, spans, sender, Config{})

	rule := errorRateRule(3)
	ctx := context.Background()

	// Two breaches: below the consecutive threshold, nothing fires.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	assert.Empty(t, alerts.created)

	// Third breach fires exactly one event.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	require.Len(t, alerts.created, 1)
	event := alerts.created[0]
	assert.Equal(t, rule.ID, event.RuleID)
	assert.Equal(t, model.AlertStatusActive, event.Status)
	assert.Equal(t, model.SeverityCritical, event.Severity)
	assert.Equal(t, 10.0, event.MetricValue)
	assert.Equal(t, []string{"trace-a"}, event.TraceIDs)
	assert.Equal(t, 1, sender.calls)
	assert.Len(t, alerts.notified[event.ID], 1)
	assert.Equal(t, []uuid.UUID{rule.ID}, alerts.triggered)

	// Fourth breach: still active, no duplicate event or notification.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	assert.Len(t, alerts.created, 1)
	assert.Equal(t, 1, sender.calls)

	// Recovery resolves the event.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	require.Len(t, alerts.resolved, 1)
	assert.Equal(t, event.ID, alerts.resolved[0])

	// Every evaluation with data stamps last_evaluated_at.
	assert.Len(t, alerts.evaluated, 5)
}

func TestEvaluatorNoDataSkipsRule(t *testing.T) {
	alerts := newFakeAlertStore()
	spans := &fakeSpanStore{stats: []*model.ErrorStats{{Total: 0}}}
	ev := NewEvaluator(alerts, spans, &fakeSender{}, Config{})

	require.NoError(t, ev.EvaluateRule(context.Background(), errorRateRule(1)))
	assert.Empty(t, alerts.created)
	assert.Empty(t, alerts.evaluated)
}

func TestEvaluatorResumeActive(t *testing.T) {
	rule := errorRateRule(1)
	existing := &model.AlertEvent{ID: uuid.New(), RuleID: rule.ID, Status: model.AlertStatusActive}

	alerts := newFakeAlertStore()
	alerts.active = []*model.AlertEvent{existing}
	spans := &fakeSpanStore{stats: []*model.ErrorStats{stat(10), stat(2)}}
	sender := &fakeSender{}
	ev := NewEvaluator(alerts, spans, sender, Config{})

	ctx := context.Background()
	require.NoError(t, ev.ResumeActive(ctx))

	// A breach on a resumed alert does not fire a duplicate.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	assert.Empty(t, alerts.created)
	assert.Equal(t, 0, sender.calls)

	// Recovery resolves the resumed event.
	require.NoError(t, ev.EvaluateRule(ctx, rule))
	require.Len(t, alerts.resolved, 1)
	assert.Equal(t, existing.ID, alerts.resolved[0])
}

func TestEvaluatorTestRuleDoesNotPersist(t *testing.T) {
	alerts := newFakeAlertStore()
	spans := &fakeSpanStore{stats: []*model.ErrorStats{stat(10)}}
	sender := &fakeSender{}
	ev := NewEvaluator(alerts, spans, sender, Config{})

	event, err := ev.TestRule(context.Background(), errorRateRule(3))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.JSONEq(t, `{"test": true}`, string(event.Metadata))
	assert.Empty(t, alerts.created)
	assert.Equal(t, 0, sender.calls)
}

func TestEvaluatorTestRuleNoBreach(t *testing.T) {
	spans := &fakeSpanStore{stats: []*model.ErrorStats{stat(2)}}
	ev := NewEvaluator(newFakeAlertStore(), spans, &fakeSender{}, Config{})

	event, err := ev.TestRule(context.Background(), errorRateRule(1))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestFormatAlertMessage(t *testing.T) {
	metric := &MetricValue{Value: 12.3456}

	tests := []struct {
		name    string
		rule    *model.AlertRule
		message string
	}{
		{
			name: "gt with service and model",
			rule: &model.AlertRule{
				Metric: "error_rate", Operator: model.OpGt, Threshold: ptr(5.0),
				ServiceName: ptr("checkout"), ModelName: ptr("gpt-4o"),
			},
			message: "error_rate exceeded threshold of 5.00 for service 'checkout' with model 'gpt-4o' (current value: 12.35)",
		},
		{
			name: "lt with service only",
			rule: &model.AlertRule{
				Metric: "throughput", Operator: model.OpLt, Threshold: ptr(100.0),
				ServiceName: ptr("checkout"),
			},
			message: "throughput fell below threshold of 100.00 for service 'checkout' (current value: 12.35)",
		},
		{
			name: "gte unscoped",
			rule: &model.AlertRule{
				Metric: "cost_sum", Operator: model.OpGte, Threshold: ptr(10.0),
			},
			message: "cost_sum reached or exceeded threshold of 10.00 (current value: 12.35)",
		},
		{
			name: "ne with model only",
			rule: &model.AlertRule{
				Metric: "span_count", Operator: model.OpNe, Threshold: ptr(0.0),
				ModelName: ptr("gpt-4o"),
			},
			message: "span_count differs from threshold of 0.00 for model 'gpt-4o' (current value: 12.35)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.message, formatAlertMessage(tt.rule, metric))
		})
	}
}

func TestEvaluatorUnknownMetric(t *testing.T) {
	alerts := newFakeAlertStore()
	ev := NewEvaluator(alerts, &fakeSpanStore{}, &fakeSender{}, Config{})

	rule := errorRateRule(1)
	rule.Metric = "blast_radius"
	require.NoError(t, ev.EvaluateRule(context.Background(), rule))
	assert.Empty(t, alerts.created)
}
