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

// Package model defines the core entities of the collector: spans, alert
// rules, alert events, and the query/response types shared between the
// storage layer and the API.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agenttrace/agenttrace/pkg/errs"
)

// SpanStatus is the final status of a span.
type SpanStatus string

const (
	// SpanStatusOK indicates the operation completed successfully.
	SpanStatusOK SpanStatus = "ok"
	// SpanStatusError indicates the operation failed.
	SpanStatusError SpanStatus = "error"
	// SpanStatusUnset indicates the status was not set.
	SpanStatusUnset SpanStatus = "unset"
)

// SpanKind describes the role of a span within a trace.
type SpanKind string

const (
	// SpanKindInternal is an internal operation.
	SpanKindInternal SpanKind = "internal"
	// SpanKindClient is a client-side operation.
	SpanKindClient SpanKind = "client"
	// SpanKindServer is a server-side operation.
	SpanKindServer SpanKind = "server"
	// SpanKindProducer is a producer in messaging.
	SpanKindProducer SpanKind = "producer"
	// SpanKindConsumer is a consumer in messaging.
	SpanKindConsumer SpanKind = "consumer"
)

// Span is a single timed operation within a trace. LLM and tool fields are
// optional; a span with ModelName set is an LLM span, one with ToolName set
// is a tool span (not mutually exclusive).
type Span struct {
	ID           uuid.UUID `json:"id"`
	SpanID       string    `json:"span_id"`
	TraceID      string    `json:"trace_id"`
	ParentSpanID *string   `json:"parent_span_id,omitempty"`

	OperationName string   `json:"operation_name"`
	ServiceName   string   `json:"service_name"`
	SpanKind      SpanKind `json:"span_kind"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS *float64   `json:"duration_ms,omitempty"`

	Status        SpanStatus `json:"status"`
	StatusMessage *string    `json:"status_message,omitempty"`

	ModelName       *string  `json:"model_name,omitempty"`
	ModelProvider   *string  `json:"model_provider,omitempty"`
	TokensIn        *int32   `json:"tokens_in,omitempty"`
	TokensOut       *int32   `json:"tokens_out,omitempty"`
	TokensReasoning *int32   `json:"tokens_reasoning,omitempty"`
	CostUSD         *float64 `json:"cost_usd,omitempty"`

	ToolName       *string         `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput     json.RawMessage `json:"tool_output,omitempty"`
	ToolDurationMS *float64        `json:"tool_duration_ms,omitempty"`

	PromptPreview     *string `json:"prompt_preview,omitempty"`
	CompletionPreview *string `json:"completion_preview,omitempty"`

	Attributes json.RawMessage `json:"attributes,omitempty"`
	Events     []SpanEvent     `json:"events"`
	Links      []SpanLink      `json:"links"`
}

// SpanEvent is a timestamped occurrence within a span.
type SpanEvent struct {
	Name       string          `json:"name"`
	Timestamp  time.Time       `json:"timestamp"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// SpanLink points at a span in another trace.
type SpanLink struct {
	TraceID    string          `json:"trace_id"`
	SpanID     string          `json:"span_id"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// CalculateDuration derives DurationMS from the start and end timestamps.
// Duration is computed at integer-millisecond resolution; sub-millisecond
// spans round to zero.
func (s *Span) CalculateDuration() {
	if s.EndedAt == nil {
		return
	}
	ms := float64(s.EndedAt.Sub(s.StartedAt).Milliseconds())
	s.DurationMS = &ms
}

// IsLLMCall reports whether this span represents an LLM call.
func (s *Span) IsLLMCall() bool {
	return s.ModelName != nil
}

// IsToolCall reports whether this span represents a tool call.
func (s *Span) IsToolCall() bool {
	return s.ToolName != nil
}

// TotalTokens returns the total tokens used by this span.
func (s *Span) TotalTokens() int32 {
	var total int32
	if s.TokensIn != nil {
		total += *s.TokensIn
	}
	if s.TokensOut != nil {
		total += *s.TokensOut
	}
	if s.TokensReasoning != nil {
		total += *s.TokensReasoning
	}
	return total
}

// Validate checks the span invariants that ingestion enforces.
func (s *Span) Validate() error {
	if s.TraceID == "" {
		return errs.Validationf("trace_id is required")
	}
	if s.SpanID == "" {
		return errs.Validationf("span_id is required")
	}
	if s.StartedAt.IsZero() {
		return errs.Validationf("started_at is required")
	}
	if s.EndedAt != nil && s.EndedAt.Before(s.StartedAt) {
		return errs.Validationf("ended_at precedes started_at")
	}
	if s.CostUSD != nil && *s.CostUSD < 0 {
		return errs.Validationf("cost_usd must be non-negative")
	}
	return nil
}

// SpanInput is the ingestion payload for a span.
type SpanInput struct {
	SpanID            string          `json:"span_id"`
	TraceID           string          `json:"trace_id"`
	ParentSpanID      *string         `json:"parent_span_id,omitempty"`
	OperationName     string          `json:"operation_name"`
	ServiceName       string          `json:"service_name,omitempty"`
	SpanKind          *SpanKind       `json:"span_kind,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	Status            *SpanStatus     `json:"status,omitempty"`
	StatusMessage     *string         `json:"status_message,omitempty"`
	ModelName         *string         `json:"model_name,omitempty"`
	ModelProvider     *string         `json:"model_provider,omitempty"`
	TokensIn          *int32          `json:"tokens_in,omitempty"`
	TokensOut         *int32          `json:"tokens_out,omitempty"`
	TokensReasoning   *int32          `json:"tokens_reasoning,omitempty"`
	ToolName          *string         `json:"tool_name,omitempty"`
	ToolInput         json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput        json.RawMessage `json:"tool_output,omitempty"`
	PromptPreview     *string         `json:"prompt_preview,omitempty"`
	CompletionPreview *string         `json:"completion_preview,omitempty"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	Events            []SpanEvent     `json:"events,omitempty"`
}

// ToSpan converts the input into a Span, assigning an internal id and
// applying defaults for omitted enums.
func (in *SpanInput) ToSpan() *Span {
	kind := SpanKindInternal
	if in.SpanKind != nil {
		kind = *in.SpanKind
	}
	status := SpanStatusOK
	if in.Status != nil {
		status = *in.Status
	}

	return &Span{
		ID:                uuid.New(),
		SpanID:            in.SpanID,
		TraceID:           in.TraceID,
		ParentSpanID:      in.ParentSpanID,
		OperationName:     in.OperationName,
		ServiceName:       in.ServiceName,
		SpanKind:          kind,
		StartedAt:         in.StartedAt,
		EndedAt:           in.EndedAt,
		Status:            status,
		StatusMessage:     in.StatusMessage,
		ModelName:         in.ModelName,
		ModelProvider:     in.ModelProvider,
		TokensIn:          in.TokensIn,
		TokensOut:         in.TokensOut,
		TokensReasoning:   in.TokensReasoning,
		ToolName:          in.ToolName,
		ToolInput:         in.ToolInput,
		ToolOutput:        in.ToolOutput,
		PromptPreview:     in.PromptPreview,
		CompletionPreview: in.CompletionPreview,
		Attributes:        in.Attributes,
		Events:            in.Events,
	}
}
