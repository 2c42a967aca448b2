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
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/agenttrace/agenttrace/pkg/errs"
)

// ConditionType is the kind of alert condition.
type ConditionType string

const (
	// ConditionThreshold compares a windowed metric against a fixed threshold.
	ConditionThreshold ConditionType = "threshold"
	// ConditionAnomaly is statistical anomaly detection.
	ConditionAnomaly ConditionType = "anomaly"
	// ConditionRateChange detects rate-of-change spikes.
	ConditionRateChange ConditionType = "rate_change"
	// ConditionAbsence detects absence of data.
	ConditionAbsence ConditionType = "absence"
)

// Operator compares a metric value against a threshold.
type Operator string

const (
	OpGt  Operator = "gt"
	OpLt  Operator = "lt"
	OpEq  Operator = "eq"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
	OpNe  Operator = "ne"
)

// Severity is the alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an alert event.
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// ChannelType discriminates notification channel variants.
type ChannelType string

const (
	ChannelSlack     ChannelType = "slack"
	ChannelEmail     ChannelType = "email"
	ChannelWebhook   ChannelType = "webhook"
	ChannelPagerDuty ChannelType = "pager_duty"
)

// NotificationChannel is a tagged union of sink configurations. Exactly the
// fields for the active Type are populated; the JSON form carries a "type"
// discriminator with the variant fields inlined.
type NotificationChannel struct {
	Type ChannelType

	// Slack
	WebhookURL string
	Channel    *string

	// Email
	To []string

	// Webhook
	URL     string
	Headers map[string]string

	// PagerDuty
	RoutingKey string
}

type slackChannelJSON struct {
	Type       ChannelType `json:"type"`
	WebhookURL string      `json:"webhook_url"`
	Channel    *string     `json:"channel,omitempty"`
}

type emailChannelJSON struct {
	Type ChannelType `json:"type"`
	To   []string    `json:"to"`
}

type webhookChannelJSON struct {
	Type    ChannelType       `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type pagerDutyChannelJSON struct {
	Type       ChannelType `json:"type"`
	RoutingKey string      `json:"routing_key"`
}

// MarshalJSON emits only the fields belonging to the active variant.
func (c NotificationChannel) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ChannelSlack:
		return json.Marshal(slackChannelJSON{Type: c.Type, WebhookURL: c.WebhookURL, Channel: c.Channel})
	case ChannelEmail:
		return json.Marshal(emailChannelJSON{Type: c.Type, To: c.To})
	case ChannelWebhook:
		return json.Marshal(webhookChannelJSON{Type: c.Type, URL: c.URL, Headers: c.Headers})
	case ChannelPagerDuty:
		return json.Marshal(pagerDutyChannelJSON{Type: c.Type, RoutingKey: c.RoutingKey})
	default:
		return nil, errs.Newf(errs.Validation, "unknown notification channel type %q", c.Type)
	}
}

// UnmarshalJSON dispatches on the "type" discriminator.
func (c *NotificationChannel) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type ChannelType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch probe.Type {
	case ChannelSlack:
		var v slackChannelJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = NotificationChannel{Type: v.Type, WebhookURL: v.WebhookURL, Channel: v.Channel}
	case ChannelEmail:
		var v emailChannelJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = NotificationChannel{Type: v.Type, To: v.To}
	case ChannelWebhook:
		var v webhookChannelJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = NotificationChannel{Type: v.Type, URL: v.URL, Headers: v.Headers}
	case ChannelPagerDuty:
		var v pagerDutyChannelJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*c = NotificationChannel{Type: v.Type, RoutingKey: v.RoutingKey}
	default:
		return errs.Newf(errs.Validation, "unknown notification channel type %q", probe.Type)
	}
	return nil
}

// AlertRule is a persisted alert rule definition. Nil scope fields mean
// "match everything".
type AlertRule struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`

	ServiceName *string `json:"service_name,omitempty"`
	Environment *string `json:"environment,omitempty"`
	ModelName   *string `json:"model_name,omitempty"`

	ConditionType ConditionType `json:"condition_type"`
	Metric        string        `json:"metric"`
	Operator      Operator      `json:"operator"`
	Threshold     *float64      `json:"threshold,omitempty"`

	WindowMinutes             int32 `json:"window_minutes"`
	EvaluationIntervalSeconds int32 `json:"evaluation_interval_seconds"`
	ConsecutiveFailures       int32 `json:"consecutive_failures"`

	Severity             Severity              `json:"severity"`
	NotificationChannels []NotificationChannel `json:"notification_channels"`

	Enabled         bool       `json:"enabled"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy *string   `json:"created_by,omitempty"`
}

// Check reports whether value breaches the rule's threshold. A rule without
// a threshold never breaches.
func (r *AlertRule) Check(value float64) bool {
	if r.Threshold == nil {
		return false
	}
	threshold := *r.Threshold

	switch r.Operator {
	case OpGt:
		return value > threshold
	case OpLt:
		return value < threshold
	case OpEq:
		return math.Abs(value-threshold) < epsilon
	case OpGte:
		return value >= threshold
	case OpLte:
		return value <= threshold
	case OpNe:
		return math.Abs(value-threshold) >= epsilon
	default:
		return false
	}
}

const epsilon = 2.220446049250313e-16

// AlertRuleInput is the create/update payload for an alert rule.
type AlertRuleInput struct {
	Name                      string                `json:"name"`
	Description               *string               `json:"description,omitempty"`
	ServiceName               *string               `json:"service_name,omitempty"`
	Environment               *string               `json:"environment,omitempty"`
	ModelName                 *string               `json:"model_name,omitempty"`
	ConditionType             ConditionType         `json:"condition_type"`
	Metric                    string                `json:"metric"`
	Operator                  Operator              `json:"operator"`
	Threshold                 *float64              `json:"threshold,omitempty"`
	WindowMinutes             *int32                `json:"window_minutes,omitempty"`
	EvaluationIntervalSeconds *int32                `json:"evaluation_interval_seconds,omitempty"`
	ConsecutiveFailures       *int32                `json:"consecutive_failures,omitempty"`
	Severity                  *Severity             `json:"severity,omitempty"`
	NotificationChannels      []NotificationChannel `json:"notification_channels,omitempty"`
	Enabled                   *bool                 `json:"enabled,omitempty"`
}

// Validate rejects malformed rule inputs before they reach storage.
func (in *AlertRuleInput) Validate() error {
	if in.Name == "" {
		return errs.Validationf("name is required")
	}
	if in.Metric == "" {
		return errs.Validationf("metric is required")
	}
	switch in.Operator {
	case OpGt, OpLt, OpEq, OpGte, OpLte, OpNe:
	default:
		return errs.Validationf("unknown operator %q", in.Operator)
	}
	if in.WindowMinutes != nil && *in.WindowMinutes < 1 {
		return errs.Validationf("window_minutes must be >= 1")
	}
	if in.EvaluationIntervalSeconds != nil && *in.EvaluationIntervalSeconds < 1 {
		return errs.Validationf("evaluation_interval_seconds must be >= 1")
	}
	if in.ConsecutiveFailures != nil && *in.ConsecutiveFailures < 1 {
		return errs.Validationf("consecutive_failures must be >= 1")
	}
	return nil
}

// ToRule builds a new AlertRule from the input, filling in defaults for
// unset cadence, severity and enabled fields.
func (in *AlertRuleInput) ToRule() *AlertRule {
	now := time.Now().UTC()
	rule := &AlertRule{
		ID:                        uuid.New(),
		Name:                      in.Name,
		Description:               in.Description,
		ServiceName:               in.ServiceName,
		Environment:               in.Environment,
		ModelName:                 in.ModelName,
		ConditionType:             in.ConditionType,
		Metric:                    in.Metric,
		Operator:                  in.Operator,
		Threshold:                 in.Threshold,
		WindowMinutes:             5,
		EvaluationIntervalSeconds: 60,
		ConsecutiveFailures:       1,
		Severity:                  SeverityWarning,
		NotificationChannels:      in.NotificationChannels,
		Enabled:                   true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if in.ConditionType == "" {
		rule.ConditionType = ConditionThreshold
	}
	if in.WindowMinutes != nil {
		rule.WindowMinutes = *in.WindowMinutes
	}
	if in.EvaluationIntervalSeconds != nil {
		rule.EvaluationIntervalSeconds = *in.EvaluationIntervalSeconds
	}
	if in.ConsecutiveFailures != nil {
		rule.ConsecutiveFailures = *in.ConsecutiveFailures
	}
	if in.Severity != nil {
		rule.Severity = *in.Severity
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	if rule.NotificationChannels == nil {
		rule.NotificationChannels = []NotificationChannel{}
	}
	return rule
}

// AlertEvent is a triggered alert.
type AlertEvent struct {
	ID          uuid.UUID  `json:"id"`
	RuleID      uuid.UUID  `json:"rule_id"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	Status   AlertStatus `json:"status"`
	Severity Severity    `json:"severity"`
	Message  string      `json:"message"`

	MetricValue    float64 `json:"metric_value"`
	ThresholdValue float64 `json:"threshold_value"`

	ServiceName       *string              `json:"service_name,omitempty"`
	TraceIDs          []string             `json:"trace_ids"`
	NotificationsSent []NotificationRecord `json:"notifications_sent"`
	Metadata          json.RawMessage      `json:"metadata,omitempty"`
}

// NotificationRecord records a single dispatch attempt on an event.
type NotificationRecord struct {
	ChannelType string    `json:"channel_type"`
	SentAt      time.Time `json:"sent_at"`
	Success     bool      `json:"success"`
	Error       *string   `json:"error,omitempty"`
}
