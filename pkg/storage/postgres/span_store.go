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

// Package postgres implements the storage interfaces on PostgreSQL with
// optional TimescaleDB acceleration. All queries use positional parameter
// binding; identifiers only ever come from compile-time whitelists.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
)

const spanColumns = `id, span_id, trace_id, parent_span_id, operation_name, service_name,
	span_kind, started_at, ended_at, duration_ms, status, status_message,
	model_name, model_provider, tokens_in, tokens_out, tokens_reasoning,
	cost_usd, tool_name, tool_input, tool_output, tool_duration_ms,
	prompt_preview, completion_preview, attributes, events`

// SpanStore implements storage.SpanStore on a pgx pool.
type SpanStore struct {
	pool *pgxpool.Pool
}

var _ storage.SpanStore = (*SpanStore)(nil)

// NewSpanStore creates a PostgreSQL-backed span store.
func NewSpanStore(pool *pgxpool.Pool) *SpanStore {
	return &SpanStore{pool: pool}
}

// Ping reports database liveness, used by the health endpoint.
func (s *SpanStore) Ping(ctx context.Context) error {
	return errs.Wrap(errs.Storage, "postgres ping failed", s.pool.Ping(ctx))
}

func spanInsertArgs(span *model.Span) ([]any, error) {
	eventsJSON, err := json.Marshal(span.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal span events: %w", err)
	}
	attributes := span.Attributes
	if len(attributes) == 0 {
		attributes = json.RawMessage("{}")
	}

	return []any{
		span.ID, span.SpanID, span.TraceID, span.ParentSpanID,
		span.OperationName, span.ServiceName, string(span.SpanKind),
		span.StartedAt, span.EndedAt, span.DurationMS,
		string(span.Status), span.StatusMessage,
		span.ModelName, span.ModelProvider,
		span.TokensIn, span.TokensOut, span.TokensReasoning,
		span.CostUSD, span.ToolName, span.ToolInput, span.ToolOutput,
		span.ToolDurationMS, span.PromptPreview, span.CompletionPreview,
		attributes, eventsJSON,
	}, nil
}

const spanInsertSQL = `INSERT INTO spans (` + spanColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

// Upsert writes one span. A second write of the same (span_id, started_at)
// updates the fields that change when a span completes.
func (s *SpanStore) Upsert(ctx context.Context, span *model.Span) error {
	args, err := spanInsertArgs(span)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, spanInsertSQL+`
		ON CONFLICT (span_id, started_at) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			status = EXCLUDED.status,
			status_message = EXCLUDED.status_message,
			tokens_in = EXCLUDED.tokens_in,
			tokens_out = EXCLUDED.tokens_out,
			cost_usd = EXCLUDED.cost_usd,
			tool_output = EXCLUDED.tool_output,
			completion_preview = EXCLUDED.completion_preview,
			events = EXCLUDED.events`,
		args...)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to upsert span", err)
	}
	return nil
}

// UpsertBatch writes spans in one transaction, skipping duplicates, and
// returns how many rows were newly inserted.
func (s *SpanStore) UpsertBatch(ctx context.Context, spans []*model.Span) (int, error) {
	if len(spans) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, span := range spans {
		args, err := spanInsertArgs(span)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, spanInsertSQL+`
			ON CONFLICT (span_id, started_at) DO NOTHING`, args...)
		if err != nil {
			return 0, errs.Wrap(errs.Storage, fmt.Sprintf("failed to insert span %s", span.SpanID), err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errs.Wrap(errs.Storage, "failed to commit span batch", err)
	}
	return inserted, nil
}

// GetByID returns the span with the given internal id.
func (s *SpanStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Span, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE id = $1`, id)

	span, err := scanSpan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFoundErr("span", id.String())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to get span", err)
	}
	return span, nil
}

// GetByTraceID returns all spans of a trace ordered by start time.
func (s *SpanStore) GetByTraceID(ctx context.Context, traceID string) ([]*model.Span, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE trace_id = $1 ORDER BY started_at ASC`,
		traceID)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to query trace spans", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

// GetRecent returns the newest spans, most recent first.
func (s *SpanStore) GetRecent(ctx context.Context, limit int64) ([]*model.Span, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+spanColumns+` FROM spans ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to query recent spans", err)
	}
	defer rows.Close()
	return scanSpans(rows)
}

// Search runs the simple search. Returns the page of spans plus the total
// match count.
func (s *SpanStore) Search(ctx context.Context, params model.SearchParams) ([]*model.Span, int64, error) {
	var b condBuilder

	if params.Query != nil && *params.Query != "" {
		p := b.bind("%" + *params.Query + "%")
		b.addRaw(fmt.Sprintf(
			"(operation_name ILIKE %[1]s OR prompt_preview ILIKE %[1]s OR completion_preview ILIKE %[1]s)", p))
	}
	if params.Service != nil {
		b.add("service_name", "=", *params.Service)
	}
	if params.Model != nil {
		b.add("model_name", "=", *params.Model)
	}
	if params.Status != nil {
		b.add("status", "=", string(*params.Status))
	}
	if params.MinDuration != nil {
		b.add("duration_ms", ">=", *params.MinDuration)
	}
	if params.MaxDuration != nil {
		b.add("duration_ms", "<=", *params.MaxDuration)
	}
	if params.MinCost != nil {
		b.add("cost_usd", ">=", *params.MinCost)
	}
	if params.MaxCost != nil {
		b.add("cost_usd", "<=", *params.MaxCost)
	}
	if params.Since != nil {
		b.add("started_at", ">=", *params.Since)
	}
	if params.Until != nil {
		b.add("started_at", "<=", *params.Until)
	}

	sortBy, err := sortColumn(params.SortBy)
	if err != nil {
		return nil, 0, err
	}

	return s.pagedSpanQuery(ctx, &b, sortBy, params.SortDesc, params.Limit, params.Offset)
}

// AdvancedSearch applies structured filters. Field and operator names are
// validated against whitelists; values are always bound parameters.
func (s *SpanStore) AdvancedSearch(ctx context.Context, filters []model.SearchFilter, sort *model.SortConfig, limit, offset int64) ([]*model.Span, int64, error) {
	var b condBuilder

	for _, f := range filters {
		col, ok := spanFields[f.Field]
		if !ok {
			return nil, 0, errs.Validationf("unknown filter field %q", f.Field)
		}
		op, ok := filterOperators[f.Operator]
		if !ok {
			return nil, 0, errs.Validationf("unknown filter operator %q", f.Operator)
		}

		value, err := decodeFilterValue(f.Value)
		if err != nil {
			return nil, 0, err
		}
		if f.Operator == "contains" {
			str, ok := value.(string)
			if !ok {
				return nil, 0, errs.Validationf("contains filter requires a string value")
			}
			value = "%" + str + "%"
		}
		b.add(col, op, value)
	}

	sortBy := "started_at"
	sortDesc := true
	if sort != nil {
		col, err := sortColumn(sort.Field)
		if err != nil {
			return nil, 0, err
		}
		sortBy = col
		sortDesc = sort.Descending
	}

	return s.pagedSpanQuery(ctx, &b, sortBy, sortDesc, limit, offset)
}

// decodeFilterValue converts a JSON filter value into a bindable scalar.
func decodeFilterValue(raw json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errs.Validationf("invalid filter value: %v", err)
	}
	switch value.(type) {
	case string, float64, bool:
		return value, nil
	default:
		return nil, errs.Validationf("filter value must be a string, number or boolean")
	}
}

func (s *SpanStore) pagedSpanQuery(ctx context.Context, b *condBuilder, sortBy string, sortDesc bool, limit, offset int64) ([]*model.Span, int64, error) {
	where := b.where()

	var total int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM spans"+where, b.args...).Scan(&total)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Storage, "failed to count search results", err)
	}

	sql := fmt.Sprintf("SELECT %s FROM spans%s ORDER BY %s %s LIMIT %s OFFSET %s",
		spanColumns, where, sortBy, sortDirection(sortDesc), b.bind(limit), b.bind(offset))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Storage, "failed to search spans", err)
	}
	defer rows.Close()

	spans, err := scanSpans(rows)
	if err != nil {
		return nil, 0, err
	}
	return spans, total, nil
}

// ListTraces returns per-trace rollups for root spans, newest first.
func (s *SpanStore) ListTraces(ctx context.Context, service *string, status *model.SpanStatus, since *time.Time, limit int64) ([]*model.TraceSummary, error) {
	var b condBuilder
	b.addRaw("s.parent_span_id IS NULL")
	if service != nil {
		b.add("s.service_name", "=", *service)
	}
	if status != nil {
		b.add("s.status", "=", string(*status))
	}
	if since != nil {
		b.add("s.started_at", ">=", *since)
	}

	sql := fmt.Sprintf(`
		SELECT
			s.trace_id,
			s.operation_name AS root_operation,
			s.service_name,
			s.started_at,
			s.duration_ms,
			COALESCE(stats.span_count, 1) AS span_count,
			COALESCE(stats.error_count, 0) AS error_count,
			COALESCE(stats.total_tokens, 0) AS total_tokens,
			COALESCE(stats.total_cost, 0) AS total_cost_usd
		FROM spans s
		LEFT JOIN (
			SELECT
				trace_id,
				COUNT(*) AS span_count,
				SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS error_count,
				SUM(COALESCE(tokens_in, 0) + COALESCE(tokens_out, 0)) AS total_tokens,
				SUM(COALESCE(cost_usd, 0)) AS total_cost
			FROM spans
			GROUP BY trace_id
		) stats ON s.trace_id = stats.trace_id
		%s
		ORDER BY s.started_at DESC
		LIMIT %s`, b.where(), b.bind(limit))

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to list traces", err)
	}
	defer rows.Close()

	var traces []*model.TraceSummary
	for rows.Next() {
		var t model.TraceSummary
		if err := rows.Scan(&t.TraceID, &t.RootOperation, &t.ServiceName, &t.StartedAt,
			&t.DurationMS, &t.SpanCount, &t.ErrorCount, &t.TotalTokens, &t.TotalCostUSD); err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan trace summary", err)
		}
		traces = append(traces, &t)
	}
	return traces, rows.Err()
}

// scopeConditions appends the standard metric-scope filters.
func scopeConditions(b *condBuilder, scope storage.MetricScope) {
	b.add("started_at", ">=", scope.Since)
	b.add("started_at", "<=", scope.Until)
	if scope.Service != nil {
		b.add("service_name", "=", *scope.Service)
	}
	if scope.Model != nil {
		b.add("model_name", "=", *scope.Model)
	}
}

// MetricsSummary computes the aggregate metrics for a scope.
func (s *SpanStore) MetricsSummary(ctx context.Context, scope storage.MetricScope) (*model.MetricsSummary, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	sql := `
		SELECT
			COUNT(*) AS total_spans,
			COUNT(DISTINCT trace_id) AS total_traces,
			COALESCE(SUM(COALESCE(tokens_in, 0) + COALESCE(tokens_out, 0)), 0) AS total_tokens,
			COALESCE(SUM(COALESCE(cost_usd, 0)), 0) AS total_cost_usd,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS error_count,
			COALESCE(AVG(duration_ms), 0) AS avg_latency_ms,
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY duration_ms), 0) AS p50_latency_ms,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0) AS p95_latency_ms,
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY duration_ms), 0) AS p99_latency_ms
		FROM spans` + b.where()

	var sum model.MetricsSummary
	err := s.pool.QueryRow(ctx, sql, b.args...).Scan(
		&sum.TotalSpans, &sum.TotalTraces, &sum.TotalTokens, &sum.TotalCostUSD,
		&sum.ErrorCount, &sum.AvgLatencyMS, &sum.P50LatencyMS, &sum.P95LatencyMS, &sum.P99LatencyMS)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute metrics summary", err)
	}

	if sum.TotalSpans > 0 {
		sum.ErrorRate = float64(sum.ErrorCount) / float64(sum.TotalSpans) * 100.0
	}
	return &sum, nil
}

// CostByGroup breaks down cost by model, provider, service or operation.
func (s *SpanStore) CostByGroup(ctx context.Context, service *string, groupBy string, since, until time.Time) ([]*model.CostMetric, error) {
	group, ok := groupColumns[groupBy]
	if !ok {
		return nil, errs.Validationf("unknown group_by %q", groupBy)
	}

	var b condBuilder
	b.add("started_at", ">=", since)
	b.add("started_at", "<=", until)
	if service != nil {
		b.add("service_name", "=", *service)
	}

	sql := fmt.Sprintf(`
		SELECT
			COALESCE(%[1]s, 'unknown') AS group_name,
			COALESCE(SUM(COALESCE(cost_usd, 0)), 0) AS total_cost_usd,
			COALESCE(SUM(COALESCE(tokens_in, 0) + COALESCE(tokens_out, 0)), 0) AS total_tokens,
			COUNT(*) AS call_count
		FROM spans
		%[2]s
		GROUP BY %[1]s
		ORDER BY total_cost_usd DESC`, group, b.where())

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute cost metrics", err)
	}
	defer rows.Close()

	var costs []*model.CostMetric
	for rows.Next() {
		var c model.CostMetric
		if err := rows.Scan(&c.Group, &c.TotalCostUSD, &c.TotalTokens, &c.CallCount); err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan cost metric", err)
		}
		costs = append(costs, &c)
	}
	return costs, rows.Err()
}

// LatencyOverTime buckets latency percentiles per hour.
func (s *SpanStore) LatencyOverTime(ctx context.Context, scope storage.MetricScope) ([]*model.LatencyMetric, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	sql := `
		SELECT
			date_trunc('hour', started_at) AS bucket,
			COALESCE(AVG(duration_ms), 0) AS avg_ms,
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY duration_ms), 0) AS p50_ms,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0) AS p95_ms,
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY duration_ms), 0) AS p99_ms,
			COUNT(*) AS count
		FROM spans` + b.where() + `
		GROUP BY bucket
		ORDER BY bucket`

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute latency metrics", err)
	}
	defer rows.Close()

	var metrics []*model.LatencyMetric
	for rows.Next() {
		var m model.LatencyMetric
		if err := rows.Scan(&m.Timestamp, &m.AvgMS, &m.P50MS, &m.P95MS, &m.P99MS, &m.Count); err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan latency metric", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// ErrorsOverTime buckets error counts per hour.
func (s *SpanStore) ErrorsOverTime(ctx context.Context, scope storage.MetricScope) ([]*model.ErrorMetric, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	sql := `
		SELECT
			date_trunc('hour', started_at) AS bucket,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS error_count,
			COUNT(*) AS total_count
		FROM spans` + b.where() + `
		GROUP BY bucket
		ORDER BY bucket`

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute error metrics", err)
	}
	defer rows.Close()

	var metrics []*model.ErrorMetric
	for rows.Next() {
		var m model.ErrorMetric
		if err := rows.Scan(&m.Timestamp, &m.ErrorCount, &m.TotalCount); err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan error metric", err)
		}
		if m.TotalCount > 0 {
			m.ErrorRate = float64(m.ErrorCount) / float64(m.TotalCount) * 100.0
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// ErrorStats returns the windowed error aggregate with sample trace ids.
func (s *SpanStore) ErrorStats(ctx context.Context, scope storage.MetricScope) (*model.ErrorStats, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	sql := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS error_count,
			COUNT(*) AS total,
			COALESCE(ARRAY_AGG(DISTINCT trace_id) FILTER (WHERE status = 'error'), '{}') AS sample_trace_ids
		FROM spans` + b.where()

	var stats model.ErrorStats
	err := s.pool.QueryRow(ctx, sql, b.args...).Scan(&stats.ErrorCount, &stats.Total, &stats.SampleTraceIDs)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute error stats", err)
	}
	return &stats, nil
}

// LatencyPercentile computes one duration percentile; nil when the window
// has no finished spans.
func (s *SpanStore) LatencyPercentile(ctx context.Context, scope storage.MetricScope, percentile float64) (*float64, error) {
	if percentile < 0 || percentile > 1 {
		return nil, errs.Validationf("percentile must be within [0, 1]")
	}

	var b condBuilder
	scopeConditions(&b, scope)
	b.addRaw("duration_ms IS NOT NULL")

	sql := fmt.Sprintf(
		"SELECT PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY duration_ms) FROM spans%s",
		b.bind(percentile), b.where())

	var value *float64
	if err := s.pool.QueryRow(ctx, sql, b.args...).Scan(&value); err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute latency percentile", err)
	}
	return value, nil
}

// LatencyAvg computes the average duration; nil when no finished spans.
func (s *SpanStore) LatencyAvg(ctx context.Context, scope storage.MetricScope) (*float64, error) {
	var b condBuilder
	scopeConditions(&b, scope)
	b.addRaw("duration_ms IS NOT NULL")

	var value *float64
	err := s.pool.QueryRow(ctx, "SELECT AVG(duration_ms) FROM spans"+b.where(), b.args...).Scan(&value)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute average latency", err)
	}
	return value, nil
}

// CostSum totals cost over the window; nil when the window is empty.
func (s *SpanStore) CostSum(ctx context.Context, scope storage.MetricScope) (*float64, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	var value *float64
	err := s.pool.QueryRow(ctx,
		"SELECT SUM(COALESCE(cost_usd, 0)) FROM spans"+b.where(), b.args...).Scan(&value)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute cost sum", err)
	}
	return value, nil
}

// TokenSum totals tokens over the window; nil when the window is empty.
func (s *SpanStore) TokenSum(ctx context.Context, scope storage.MetricScope) (*int64, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	var value *int64
	err := s.pool.QueryRow(ctx,
		"SELECT SUM(COALESCE(tokens_in, 0) + COALESCE(tokens_out, 0)) FROM spans"+b.where(),
		b.args...).Scan(&value)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to compute token sum", err)
	}
	return value, nil
}

// SpanCount counts spans in the window.
func (s *SpanStore) SpanCount(ctx context.Context, scope storage.MetricScope) (int64, error) {
	var b condBuilder
	scopeConditions(&b, scope)

	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM spans"+b.where(), b.args...).Scan(&count)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "failed to count spans", err)
	}
	return count, nil
}

// DeleteOlderThan removes spans that started before the cutoff.
func (s *SpanStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM spans WHERE started_at < $1", cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, "failed to delete expired spans", err)
	}
	return tag.RowsAffected(), nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpan(row rowScanner) (*model.Span, error) {
	var (
		span       model.Span
		kind       string
		status     string
		eventsJSON []byte
	)
	err := row.Scan(
		&span.ID, &span.SpanID, &span.TraceID, &span.ParentSpanID,
		&span.OperationName, &span.ServiceName, &kind,
		&span.StartedAt, &span.EndedAt, &span.DurationMS,
		&status, &span.StatusMessage,
		&span.ModelName, &span.ModelProvider,
		&span.TokensIn, &span.TokensOut, &span.TokensReasoning,
		&span.CostUSD, &span.ToolName, &span.ToolInput, &span.ToolOutput,
		&span.ToolDurationMS, &span.PromptPreview, &span.CompletionPreview,
		&span.Attributes, &eventsJSON)
	if err != nil {
		return nil, err
	}

	span.SpanKind = model.SpanKind(kind)
	span.Status = model.SpanStatus(status)
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &span.Events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal span events: %w", err)
		}
	}
	return &span, nil
}

func scanSpans(rows pgx.Rows) ([]*model.Span, error) {
	var spans []*model.Span
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan span", err)
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}
