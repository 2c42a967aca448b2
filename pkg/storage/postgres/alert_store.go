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

const ruleColumns = `id, name, description, service_name, environment, model_name,
	condition_type, metric, operator, threshold,
	window_minutes, evaluation_interval_seconds, consecutive_failures,
	severity, notification_channels, enabled,
	last_evaluated_at, last_triggered_at, created_at, updated_at, created_by`

const eventColumns = `id, rule_id, triggered_at, resolved_at, status, severity, message,
	metric_value, threshold_value, service_name, trace_ids, notifications_sent, metadata`

// AlertStore implements storage.AlertStore on a pgx pool.
type AlertStore struct {
	pool *pgxpool.Pool
}

var _ storage.AlertStore = (*AlertStore)(nil)

// NewAlertStore creates a PostgreSQL-backed alert store.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// CreateRule persists a new alert rule.
func (s *AlertStore) CreateRule(ctx context.Context, rule *model.AlertRule) error {
	channels, err := json.Marshal(rule.NotificationChannels)
	if err != nil {
		return fmt.Errorf("failed to marshal notification channels: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO alert_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21)`,
		rule.ID, rule.Name, rule.Description, rule.ServiceName, rule.Environment,
		rule.ModelName, string(rule.ConditionType), rule.Metric, string(rule.Operator),
		rule.Threshold, rule.WindowMinutes, rule.EvaluationIntervalSeconds,
		rule.ConsecutiveFailures, string(rule.Severity), channels, rule.Enabled,
		rule.LastEvaluatedAt, rule.LastTriggeredAt, rule.CreatedAt, rule.UpdatedAt,
		rule.CreatedBy)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to create alert rule", err)
	}
	return nil
}

// GetRule returns one rule by id.
func (s *AlertStore) GetRule(ctx context.Context, id uuid.UUID) (*model.AlertRule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFoundErr("alert rule", id.String())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to get alert rule", err)
	}
	return rule, nil
}

// ListRules returns all rules, newest first.
func (s *AlertStore) ListRules(ctx context.Context) ([]*model.AlertRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules ORDER BY created_at DESC`)
}

// ListEnabledRules returns only enabled rules.
func (s *AlertStore) ListEnabledRules(ctx context.Context) ([]*model.AlertRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM alert_rules WHERE enabled ORDER BY created_at DESC`)
}

func (s *AlertStore) queryRules(ctx context.Context, sql string, args ...any) ([]*model.AlertRule, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to list alert rules", err)
	}
	defer rows.Close()

	var rules []*model.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan alert rule", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateRule applies a partial update. Unset input fields keep their stored
// values. Returns the updated rule.
func (s *AlertStore) UpdateRule(ctx context.Context, id uuid.UUID, input *model.AlertRuleInput) (*model.AlertRule, error) {
	var name *string
	if input.Name != "" {
		name = &input.Name
	}
	var metric *string
	if input.Metric != "" {
		metric = &input.Metric
	}
	var operator *string
	if input.Operator != "" {
		op := string(input.Operator)
		operator = &op
	}
	var condition *string
	if input.ConditionType != "" {
		ct := string(input.ConditionType)
		condition = &ct
	}
	var severity *string
	if input.Severity != nil {
		sev := string(*input.Severity)
		severity = &sev
	}
	var channels []byte
	if input.NotificationChannels != nil {
		var err error
		channels, err = json.Marshal(input.NotificationChannels)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notification channels: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE alert_rules SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			service_name = COALESCE($4, service_name),
			environment = COALESCE($5, environment),
			model_name = COALESCE($6, model_name),
			condition_type = COALESCE($7, condition_type),
			metric = COALESCE($8, metric),
			operator = COALESCE($9, operator),
			threshold = COALESCE($10, threshold),
			window_minutes = COALESCE($11, window_minutes),
			evaluation_interval_seconds = COALESCE($12, evaluation_interval_seconds),
			consecutive_failures = COALESCE($13, consecutive_failures),
			severity = COALESCE($14, severity),
			notification_channels = COALESCE($15, notification_channels),
			enabled = COALESCE($16, enabled),
			updated_at = NOW()
		WHERE id = $1`,
		id, name, input.Description, input.ServiceName, input.Environment,
		input.ModelName, condition, metric, operator, input.Threshold,
		input.WindowMinutes, input.EvaluationIntervalSeconds,
		input.ConsecutiveFailures, severity, channels, input.Enabled)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to update alert rule", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errs.NotFoundErr("alert rule", id.String())
	}
	return s.GetRule(ctx, id)
}

// DeleteRule removes a rule and, via cascade, its events.
func (s *AlertStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM alert_rules WHERE id = $1", id)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to delete alert rule", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundErr("alert rule", id.String())
	}
	return nil
}

// UpdateLastEvaluated stamps the rule's evaluation time.
func (s *AlertStore) UpdateLastEvaluated(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE alert_rules SET last_evaluated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to update last_evaluated_at", err)
	}
	return nil
}

// UpdateLastTriggered stamps the rule's trigger time.
func (s *AlertStore) UpdateLastTriggered(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE alert_rules SET last_triggered_at = NOW() WHERE id = $1", id)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to update last_triggered_at", err)
	}
	return nil
}

// CreateEvent persists a triggered alert event.
func (s *AlertStore) CreateEvent(ctx context.Context, event *model.AlertEvent) error {
	traceIDs, err := json.Marshal(orEmptyStrings(event.TraceIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal trace ids: %w", err)
	}
	sent, err := json.Marshal(orEmptyRecords(event.NotificationsSent))
	if err != nil {
		return fmt.Errorf("failed to marshal notification records: %w", err)
	}
	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO alert_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.ID, event.RuleID, event.TriggeredAt, event.ResolvedAt,
		string(event.Status), string(event.Severity), event.Message,
		event.MetricValue, event.ThresholdValue, event.ServiceName,
		traceIDs, sent, metadata)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to create alert event", err)
	}
	return nil
}

// GetEvent returns one event by id.
func (s *AlertStore) GetEvent(ctx context.Context, id uuid.UUID) (*model.AlertEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM alert_events WHERE id = $1`, id)

	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFoundErr("alert event", id.String())
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to get alert event", err)
	}
	return event, nil
}

// ListEventsForRule returns a rule's events, newest first.
func (s *AlertStore) ListEventsForRule(ctx context.Context, ruleID uuid.UUID, limit int64) ([]*model.AlertEvent, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE rule_id = $1 ORDER BY triggered_at DESC LIMIT $2`, ruleID, limit)
}

// ListActiveEvents returns all currently firing events.
func (s *AlertStore) ListActiveEvents(ctx context.Context) ([]*model.AlertEvent, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE status = 'active' ORDER BY triggered_at DESC`)
}

// ListRecentEvents returns events triggered since the given time.
func (s *AlertStore) ListRecentEvents(ctx context.Context, since time.Time, limit int64) ([]*model.AlertEvent, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM alert_events
		 WHERE triggered_at >= $1 ORDER BY triggered_at DESC LIMIT $2`, since, limit)
}

func (s *AlertStore) queryEvents(ctx context.Context, sql string, args ...any) ([]*model.AlertEvent, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, "failed to list alert events", err)
	}
	defer rows.Close()

	var events []*model.AlertEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Storage, "failed to scan alert event", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// ResolveEvent marks an event resolved and stamps resolved_at.
func (s *AlertStore) ResolveEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE alert_events SET status = 'resolved', resolved_at = NOW() WHERE id = $1", id)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to resolve alert event", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundErr("alert event", id.String())
	}
	return nil
}

// AcknowledgeEvent marks an event acknowledged.
func (s *AlertStore) AcknowledgeEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE alert_events SET status = 'acknowledged' WHERE id = $1", id)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to acknowledge alert event", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundErr("alert event", id.String())
	}
	return nil
}

// UpdateEventNotifications replaces the event's dispatch records.
func (s *AlertStore) UpdateEventNotifications(ctx context.Context, id uuid.UUID, records []model.NotificationRecord) error {
	sent, err := json.Marshal(orEmptyRecords(records))
	if err != nil {
		return fmt.Errorf("failed to marshal notification records: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE alert_events SET notifications_sent = $2 WHERE id = $1", id, sent)
	if err != nil {
		return errs.Wrap(errs.Storage, "failed to update event notifications", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundErr("alert event", id.String())
	}
	return nil
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyRecords(r []model.NotificationRecord) []model.NotificationRecord {
	if r == nil {
		return []model.NotificationRecord{}
	}
	return r
}

func scanRule(row rowScanner) (*model.AlertRule, error) {
	var (
		rule         model.AlertRule
		condition    string
		operator     string
		severity     string
		channelsJSON []byte
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.ServiceName,
		&rule.Environment, &rule.ModelName, &condition, &rule.Metric,
		&operator, &rule.Threshold, &rule.WindowMinutes,
		&rule.EvaluationIntervalSeconds, &rule.ConsecutiveFailures,
		&severity, &channelsJSON, &rule.Enabled,
		&rule.LastEvaluatedAt, &rule.LastTriggeredAt,
		&rule.CreatedAt, &rule.UpdatedAt, &rule.CreatedBy)
	if err != nil {
		return nil, err
	}

	rule.ConditionType = model.ConditionType(condition)
	rule.Operator = model.Operator(operator)
	rule.Severity = model.Severity(severity)
	rule.NotificationChannels = []model.NotificationChannel{}
	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &rule.NotificationChannels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification channels: %w", err)
		}
	}
	return &rule, nil
}

func scanEvent(row rowScanner) (*model.AlertEvent, error) {
	var (
		event        model.AlertEvent
		status       string
		severity     string
		traceIDsJSON []byte
		sentJSON     []byte
	)
	err := row.Scan(
		&event.ID, &event.RuleID, &event.TriggeredAt, &event.ResolvedAt,
		&status, &severity, &event.Message,
		&event.MetricValue, &event.ThresholdValue, &event.ServiceName,
		&traceIDsJSON, &sentJSON, &event.Metadata)
	if err != nil {
		return nil, err
	}

	event.Status = model.AlertStatus(status)
	event.Severity = model.Severity(severity)
	event.TraceIDs = []string{}
	if len(traceIDsJSON) > 0 {
		if err := json.Unmarshal(traceIDsJSON, &event.TraceIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace ids: %w", err)
		}
	}
	event.NotificationsSent = []model.NotificationRecord{}
	if len(sentJSON) > 0 {
		if err := json.Unmarshal(sentJSON, &event.NotificationsSent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification records: %w", err)
		}
	}
	return &event, nil
}
