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

// Package storage defines the persistence interfaces for spans and alerts.
// The postgres subpackage provides the production implementation.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agenttrace/agenttrace/pkg/model"
)

// MetricScope bounds a metric query to a time range and an optional
// service/model filter. Nil filters match everything.
type MetricScope struct {
	Service *string
	Model   *string
	Since   time.Time
	Until   time.Time
}

// SpanStore persists and queries spans.
type SpanStore interface {
	// Upsert writes one span. A re-ingested (span_id, started_at) pair
	// updates the mutable completion fields.
	Upsert(ctx context.Context, span *model.Span) error

	// UpsertBatch writes spans in one transaction and returns how many were
	// newly inserted. Duplicates are skipped, not updated.
	UpsertBatch(ctx context.Context, spans []*model.Span) (int, error)

	GetByID(ctx context.Context, id uuid.UUID) (*model.Span, error)
	GetByTraceID(ctx context.Context, traceID string) ([]*model.Span, error)
	GetRecent(ctx context.Context, limit int64) ([]*model.Span, error)

	// Search returns matching spans plus the total match count for paging.
	Search(ctx context.Context, params model.SearchParams) ([]*model.Span, int64, error)
	AdvancedSearch(ctx context.Context, filters []model.SearchFilter, sort *model.SortConfig, limit, offset int64) ([]*model.Span, int64, error)
	ListTraces(ctx context.Context, service *string, status *model.SpanStatus, since *time.Time, limit int64) ([]*model.TraceSummary, error)

	MetricsSummary(ctx context.Context, scope MetricScope) (*model.MetricsSummary, error)
	CostByGroup(ctx context.Context, service *string, groupBy string, since, until time.Time) ([]*model.CostMetric, error)
	LatencyOverTime(ctx context.Context, scope MetricScope) ([]*model.LatencyMetric, error)
	ErrorsOverTime(ctx context.Context, scope MetricScope) ([]*model.ErrorMetric, error)

	// Alerting aggregates. Pointer results are nil when the window holds no
	// qualifying spans.
	ErrorStats(ctx context.Context, scope MetricScope) (*model.ErrorStats, error)
	LatencyPercentile(ctx context.Context, scope MetricScope, percentile float64) (*float64, error)
	LatencyAvg(ctx context.Context, scope MetricScope) (*float64, error)
	CostSum(ctx context.Context, scope MetricScope) (*float64, error)
	TokenSum(ctx context.Context, scope MetricScope) (*int64, error)
	SpanCount(ctx context.Context, scope MetricScope) (int64, error)

	// DeleteOlderThan removes spans that started before the cutoff and
	// returns the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore persists alert rules and events.
type AlertStore interface {
	CreateRule(ctx context.Context, rule *model.AlertRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*model.AlertRule, error)
	ListRules(ctx context.Context) ([]*model.AlertRule, error)
	ListEnabledRules(ctx context.Context) ([]*model.AlertRule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, input *model.AlertRuleInput) (*model.AlertRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	UpdateLastEvaluated(ctx context.Context, id uuid.UUID) error
	UpdateLastTriggered(ctx context.Context, id uuid.UUID) error

	CreateEvent(ctx context.Context, event *model.AlertEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*model.AlertEvent, error)
	ListEventsForRule(ctx context.Context, ruleID uuid.UUID, limit int64) ([]*model.AlertEvent, error)
	ListActiveEvents(ctx context.Context) ([]*model.AlertEvent, error)
	ListRecentEvents(ctx context.Context, since time.Time, limit int64) ([]*model.AlertEvent, error)
	ResolveEvent(ctx context.Context, id uuid.UUID) error
	AcknowledgeEvent(ctx context.Context, id uuid.UUID) error
	UpdateEventNotifications(ctx context.Context, id uuid.UUID, records []model.NotificationRecord) error
}
