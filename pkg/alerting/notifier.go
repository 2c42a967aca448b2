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

// Package alerting evaluates alert rules against windowed span metrics and
// dispatches notifications when thresholds are breached.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// Notifier delivers alert notifications to the channels configured on a
// rule. Individual channel failures are recorded, never propagated; one
// broken sink must not block the others.
type Notifier struct {
	client       *http.Client
	pagerDutyURL string
	logger       *zap.Logger
}

// NewNotifier creates a notifier with a 30 second request timeout.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:       &http.Client{Timeout: 30 * time.Second},
		pagerDutyURL: pagerDutyEventsURL,
		logger:       logger,
	}
}

// SendAll dispatches the event to every channel on the rule and returns one
// record per attempt.
func (n *Notifier) SendAll(ctx context.Context, rule *model.AlertRule, event *model.AlertEvent) []model.NotificationRecord {
	records := make([]model.NotificationRecord, 0, len(rule.NotificationChannels))
	for i := range rule.NotificationChannels {
		records = append(records, n.send(ctx, &rule.NotificationChannels[i], rule, event))
	}
	return records
}

func (n *Notifier) send(ctx context.Context, channel *model.NotificationChannel, rule *model.AlertRule, event *model.AlertEvent) model.NotificationRecord {
	sentAt := time.Now().UTC()

	var (
		channelType string
		err         error
	)
	switch channel.Type {
	case model.ChannelSlack:
		channelType = "slack"
		err = n.sendSlack(ctx, channel, rule, event)
	case model.ChannelWebhook:
		channelType = "webhook"
		err = n.sendWebhook(ctx, channel, rule, event)
	case model.ChannelPagerDuty:
		channelType = "pagerduty"
		err = n.sendPagerDuty(ctx, channel, rule, event)
	case model.ChannelEmail:
		channelType = "email"
		err = n.sendEmail(channel, rule)
	default:
		channelType = string(channel.Type)
		err = errs.Newf(errs.Validation, "unknown notification channel type %q", channel.Type)
	}

	record := model.NotificationRecord{
		ChannelType: channelType,
		SentAt:      sentAt,
		Success:     err == nil,
	}
	if err != nil {
		msg := err.Error()
		record.Error = &msg
		n.logger.Warn("notification delivery failed",
			zap.String("rule_id", rule.ID.String()),
			zap.String("channel_type", channelType),
			zap.Error(err))
	}
	return record
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackPayload struct {
	Channel     *string           `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func severityColor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "#dc3545"
	case model.SeverityWarning:
		return "#ffc107"
	default:
		return "#17a2b8"
	}
}

func severityEmoji(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "🚨"
	case model.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func (n *Notifier) sendSlack(ctx context.Context, channel *model.NotificationChannel, rule *model.AlertRule, event *model.AlertEvent) error {
	service := "All"
	if event.ServiceName != nil {
		service = *event.ServiceName
	}

	payload := slackPayload{
		Channel:   channel.Channel,
		Username:  "AgentTrace",
		IconEmoji: ":robot_face:",
		Attachments: []slackAttachment{{
			Color: severityColor(event.Severity),
			Title: fmt.Sprintf("%s Alert: %s", severityEmoji(event.Severity), rule.Name),
			Text:  event.Message,
			Fields: []slackField{
				{Title: "Severity", Value: string(event.Severity), Short: true},
				{Title: "Metric Value", Value: fmt.Sprintf("%.2f", event.MetricValue), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%.2f", event.ThresholdValue), Short: true},
				{Title: "Service", Value: service, Short: true},
			},
			Footer: "AgentTrace Alerting",
			TS:     event.TriggeredAt.Unix(),
		}},
	}

	return n.postJSON(ctx, channel.WebhookURL, payload, nil, "slack")
}

type webhookPayload struct {
	AlertID        string          `json:"alert_id"`
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Severity       string          `json:"severity"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	MetricValue    float64         `json:"metric_value"`
	ThresholdValue float64         `json:"threshold_value"`
	ServiceName    *string         `json:"service_name"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	TraceIDs       []string        `json:"trace_ids"`
	Metadata       json.RawMessage `json:"metadata"`
}

func (n *Notifier) sendWebhook(ctx context.Context, channel *model.NotificationChannel, rule *model.AlertRule, event *model.AlertEvent) error {
	payload := webhookPayload{
		AlertID:        event.ID.String(),
		RuleID:         rule.ID.String(),
		RuleName:       rule.Name,
		Severity:       string(event.Severity),
		Status:         string(event.Status),
		Message:        event.Message,
		MetricValue:    event.MetricValue,
		ThresholdValue: event.ThresholdValue,
		ServiceName:    event.ServiceName,
		TriggeredAt:    event.TriggeredAt,
		TraceIDs:       event.TraceIDs,
		Metadata:       event.Metadata,
	}

	return n.postJSON(ctx, channel.URL, payload, channel.Headers, "webhook")
}

type pagerDutyEventPayload struct {
	Summary       string `json:"summary"`
	Source        string `json:"source"`
	Severity      string `json:"severity"`
	Timestamp     string `json:"timestamp,omitempty"`
	CustomDetails any    `json:"custom_details,omitempty"`
}

type pagerDutyPayload struct {
	RoutingKey  string                `json:"routing_key"`
	EventAction string                `json:"event_action"`
	DedupKey    string                `json:"dedup_key,omitempty"`
	Payload     pagerDutyEventPayload `json:"payload"`
}

func (n *Notifier) sendPagerDuty(ctx context.Context, channel *model.NotificationChannel, rule *model.AlertRule, event *model.AlertEvent) error {
	severity := string(event.Severity)

	payload := pagerDutyPayload{
		RoutingKey:  channel.RoutingKey,
		EventAction: "trigger",
		DedupKey:    fmt.Sprintf("%s:%s", rule.ID, event.ID),
		Payload: pagerDutyEventPayload{
			Summary:   fmt.Sprintf("[%s] %s: %s", strings.ToUpper(severity), rule.Name, event.Message),
			Source:    "AgentTrace",
			Severity:  severity,
			Timestamp: event.TriggeredAt.Format(time.RFC3339),
			CustomDetails: map[string]any{
				"rule_id":         rule.ID.String(),
				"metric_value":    event.MetricValue,
				"threshold_value": event.ThresholdValue,
				"service_name":    event.ServiceName,
				"trace_ids":       event.TraceIDs,
			},
		},
	}

	return n.postJSON(ctx, n.pagerDutyURL, payload, nil, "pagerduty")
}

// sendEmail is a placeholder until SMTP configuration exists. Logs the
// intent and reports success so other channels are not penalized.
func (n *Notifier) sendEmail(channel *model.NotificationChannel, rule *model.AlertRule) error {
	n.logger.Warn("email notifications not yet implemented",
		zap.String("rule_id", rule.ID.String()),
		zap.Strings("recipients", channel.To))
	return nil
}

func (n *Notifier) postJSON(ctx context.Context, url string, payload any, headers map[string]string, sink string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal notification payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Transport, "failed to build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transport, "notification request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.Newf(errs.Transport, "%s returned %d: %s", sink, resp.StatusCode, string(respBody))
	}
	return nil
}
