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
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
)

// MetricValue is an evaluated metric sample.
type MetricValue struct {
	Value          float64
	SampleTraceIDs []string
	Timestamp      time.Time
}

// Sender dispatches notifications for a triggered event.
type Sender interface {
	SendAll(ctx context.Context, rule *model.AlertRule, event *model.AlertEvent) []model.NotificationRecord
}

// Config tunes the evaluator.
type Config struct {
	// Interval between evaluation sweeps. Defaults to one minute.
	Interval time.Duration
	Logger   *zap.Logger
}

// Evaluator periodically checks enabled alert rules against windowed span
// metrics. Hysteresis: a rule must breach on ConsecutiveFailures successive
// sweeps before an event fires, at most one event is active per rule, and
// the first non-breaching sweep resolves it.
type Evaluator struct {
	alerts   storage.AlertStore
	spans    storage.SpanStore
	notifier Sender
	logger   *zap.Logger
	interval time.Duration

	mu            sync.RWMutex
	failureCounts map[uuid.UUID]int32
	activeAlerts  map[uuid.UUID]*model.AlertEvent
}

// NewEvaluator creates an alert evaluator.
func NewEvaluator(alerts storage.AlertStore, spans storage.SpanStore, notifier Sender, cfg Config) *Evaluator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		alerts:        alerts,
		spans:         spans,
		notifier:      notifier,
		logger:        logger,
		interval:      interval,
		failureCounts: make(map[uuid.UUID]int32),
		activeAlerts:  make(map[uuid.UUID]*model.AlertEvent),
	}
}

// Run resumes active alerts from storage then evaluates on a fixed interval
// until the context is canceled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("starting alert evaluator", zap.Duration("interval", e.interval))

	if err := e.ResumeActive(ctx); err != nil {
		e.logger.Error("failed to resume active alerts", zap.Error(err))
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("alert evaluator stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.EvaluateAll(ctx); err != nil {
				e.logger.Error("alert evaluation sweep failed", zap.Error(err))
			}
		}
	}
}

// ResumeActive reloads unresolved events so a restart does not duplicate
// alerts that are still firing.
func (e *Evaluator) ResumeActive(ctx context.Context) error {
	events, err := e.alerts.ListActiveEvents(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, event := range events {
		e.activeAlerts[event.RuleID] = event
	}
	if len(events) > 0 {
		e.logger.Info("resumed active alerts", zap.Int("count", len(events)))
	}
	return nil
}

// EvaluateAll evaluates every enabled rule. Per-rule errors are logged and
// do not abort the sweep.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	rules, err := e.alerts.ListEnabledRules(ctx)
	if err != nil {
		return err
	}

	e.logger.Debug("evaluating alert rules", zap.Int("count", len(rules)))

	for _, rule := range rules {
		if err := e.EvaluateRule(ctx, rule); err != nil {
			e.logger.Error("rule evaluation failed",
				zap.String("rule_id", rule.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

// EvaluateRule evaluates one rule against its metric window.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule *model.AlertRule) error {
	until := time.Now().UTC()
	since := until.Add(-time.Duration(rule.WindowMinutes) * time.Minute)

	metric, err := e.metricValue(ctx, rule, since, until)
	if err != nil {
		return err
	}
	if metric == nil {
		e.logger.Debug("no data for metric", zap.String("rule_id", rule.ID.String()))
		return nil
	}

	if rule.Check(metric.Value) {
		if err := e.handleBreach(ctx, rule, metric); err != nil {
			return err
		}
	} else {
		if err := e.handleRecovery(ctx, rule); err != nil {
			return err
		}
	}

	return e.alerts.UpdateLastEvaluated(ctx, rule.ID)
}

// TestRule dry-runs a rule and returns the event it would fire, without
// persisting or notifying. Nil means no data or no breach.
func (e *Evaluator) TestRule(ctx context.Context, rule *model.AlertRule) (*model.AlertEvent, error) {
	until := time.Now().UTC()
	since := until.Add(-time.Duration(rule.WindowMinutes) * time.Minute)

	metric, err := e.metricValue(ctx, rule, since, until)
	if err != nil {
		return nil, err
	}
	if metric == nil || !rule.Check(metric.Value) {
		return nil, nil
	}

	event := e.newEvent(rule, metric)
	event.Metadata = json.RawMessage(`{"test": true}`)
	return event, nil
}

func (e *Evaluator) metricValue(ctx context.Context, rule *model.AlertRule, since, until time.Time) (*MetricValue, error) {
	scope := storage.MetricScope{
		Service: rule.ServiceName,
		Model:   rule.ModelName,
		Since:   since,
		Until:   until,
	}
	now := time.Now().UTC()

	sample := func(value float64, traceIDs []string) *MetricValue {
		return &MetricValue{Value: value, SampleTraceIDs: traceIDs, Timestamp: now}
	}

	switch rule.Metric {
	case "error_rate":
		stats, err := e.spans.ErrorStats(ctx, scope)
		if err != nil {
			return nil, err
		}
		if stats.Total == 0 {
			return nil, nil
		}
		rate := float64(stats.ErrorCount) / float64(stats.Total) * 100.0
		return sample(rate, stats.SampleTraceIDs), nil

	case "latency_p50", "latency_p95", "latency_p99":
		percentile := map[string]float64{
			"latency_p50": 0.5,
			"latency_p95": 0.95,
			"latency_p99": 0.99,
		}[rule.Metric]
		value, err := e.spans.LatencyPercentile(ctx, scope, percentile)
		if err != nil || value == nil {
			return nil, err
		}
		return sample(*value, nil), nil

	case "latency_avg":
		value, err := e.spans.LatencyAvg(ctx, scope)
		if err != nil || value == nil {
			return nil, err
		}
		return sample(*value, nil), nil

	case "cost_sum":
		value, err := e.spans.CostSum(ctx, scope)
		if err != nil || value == nil {
			return nil, err
		}
		return sample(*value, nil), nil

	case "cost_rate":
		value, err := e.spans.CostSum(ctx, scope)
		if err != nil || value == nil {
			return nil, err
		}
		hours := until.Sub(since).Minutes() / 60.0
		if hours == 0 {
			return nil, nil
		}
		return sample(*value/hours, nil), nil

	case "token_sum":
		value, err := e.spans.TokenSum(ctx, scope)
		if err != nil || value == nil {
			return nil, err
		}
		return sample(float64(*value), nil), nil

	case "span_count":
		count, err := e.spans.SpanCount(ctx, scope)
		if err != nil {
			return nil, err
		}
		return sample(float64(count), nil), nil

	case "throughput":
		count, err := e.spans.SpanCount(ctx, scope)
		if err != nil {
			return nil, err
		}
		minutes := until.Sub(since).Minutes()
		if minutes == 0 {
			return nil, nil
		}
		return sample(float64(count)/minutes, nil), nil

	default:
		e.logger.Warn("unknown metric type", zap.String("metric", rule.Metric))
		return nil, nil
	}
}

func (e *Evaluator) handleBreach(ctx context.Context, rule *model.AlertRule, metric *MetricValue) error {
	e.mu.Lock()
	e.failureCounts[rule.ID]++
	count := e.failureCounts[rule.ID]
	_, alreadyActive := e.activeAlerts[rule.ID]
	e.mu.Unlock()

	e.logger.Debug("breach detected",
		zap.String("rule_id", rule.ID.String()),
		zap.Int32("consecutive_failures", count),
		zap.Int32("required", rule.ConsecutiveFailures))

	if count < rule.ConsecutiveFailures || alreadyActive {
		return nil
	}

	event := e.newEvent(rule, metric)

	e.logger.Info("alert triggered",
		zap.String("rule_id", rule.ID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("severity", string(event.Severity)))

	if err := e.alerts.CreateEvent(ctx, event); err != nil {
		return err
	}
	if err := e.alerts.UpdateLastTriggered(ctx, rule.ID); err != nil {
		return err
	}

	records := e.notifier.SendAll(ctx, rule, event)
	event.NotificationsSent = records
	if err := e.alerts.UpdateEventNotifications(ctx, event.ID, records); err != nil {
		return err
	}

	e.mu.Lock()
	e.activeAlerts[rule.ID] = event
	e.mu.Unlock()
	return nil
}

func (e *Evaluator) handleRecovery(ctx context.Context, rule *model.AlertRule) error {
	e.mu.Lock()
	delete(e.failureCounts, rule.ID)
	event, wasActive := e.activeAlerts[rule.ID]
	delete(e.activeAlerts, rule.ID)
	e.mu.Unlock()

	if !wasActive {
		return nil
	}

	e.logger.Info("alert resolved",
		zap.String("rule_id", rule.ID.String()),
		zap.String("event_id", event.ID.String()))

	return e.alerts.ResolveEvent(ctx, event.ID)
}

func (e *Evaluator) newEvent(rule *model.AlertRule, metric *MetricValue) *model.AlertEvent {
	threshold := 0.0
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}
	return &model.AlertEvent{
		ID:                uuid.New(),
		RuleID:            rule.ID,
		TriggeredAt:       time.Now().UTC(),
		Status:            model.AlertStatusActive,
		Severity:          rule.Severity,
		Message:           formatAlertMessage(rule, metric),
		MetricValue:       metric.Value,
		ThresholdValue:    threshold,
		ServiceName:       rule.ServiceName,
		TraceIDs:          metric.SampleTraceIDs,
		NotificationsSent: []model.NotificationRecord{},
		Metadata:          json.RawMessage("{}"),
	}
}

func formatAlertMessage(rule *model.AlertRule, metric *MetricValue) string {
	var phrase string
	switch rule.Operator {
	case model.OpGt:
		phrase = "exceeded"
	case model.OpLt:
		phrase = "fell below"
	case model.OpEq:
		phrase = "equals"
	case model.OpGte:
		phrase = "reached or exceeded"
	case model.OpLte:
		phrase = "fell to or below"
	case model.OpNe:
		phrase = "differs from"
	}

	var scope string
	switch {
	case rule.ServiceName != nil && rule.ModelName != nil:
		scope = fmt.Sprintf(" for service '%s' with model '%s'", *rule.ServiceName, *rule.ModelName)
	case rule.ServiceName != nil:
		scope = fmt.Sprintf(" for service '%s'", *rule.ServiceName)
	case rule.ModelName != nil:
		scope = fmt.Sprintf(" for model '%s'", *rule.ModelName)
	}

	threshold := 0.0
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}

	return fmt.Sprintf("%s %s threshold of %.2f%s (current value: %.2f)",
		rule.Metric, phrase, threshold, scope, metric.Value)
}
