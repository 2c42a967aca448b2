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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/errs"
)

func ptr[T any](v T) *T { return &v }

func TestCalculateDuration(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s := &Span{StartedAt: start, EndedAt: ptr(start.Add(1500 * time.Millisecond))}
	s.CalculateDuration()
	require.NotNil(t, s.DurationMS)
	assert.Equal(t, 1500.0, *s.DurationMS)
}

func TestCalculateDurationMillisecondResolution(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s := &Span{StartedAt: start, EndedAt: ptr(start.Add(900 * time.Microsecond))}
	s.CalculateDuration()
	require.NotNil(t, s.DurationMS)
	assert.Equal(t, 0.0, *s.DurationMS)
}

func TestCalculateDurationNoEnd(t *testing.T) {
	s := &Span{StartedAt: time.Now()}
	s.CalculateDuration()
	assert.Nil(t, s.DurationMS)
}

func TestTotalTokens(t *testing.T) {
	s := &Span{TokensIn: ptr(int32(100)), TokensOut: ptr(int32(40)), TokensReasoning: ptr(int32(10))}
	assert.Equal(t, int32(150), s.TotalTokens())

	assert.Equal(t, int32(0), (&Span{}).TotalTokens())
}

func TestSpanClassification(t *testing.T) {
	llm := &Span{ModelName: ptr("gpt-4o")}
	assert.True(t, llm.IsLLMCall())
	assert.False(t, llm.IsToolCall())

	tool := &Span{ToolName: ptr("search")}
	assert.True(t, tool.IsToolCall())
	assert.False(t, tool.IsLLMCall())
}

func TestSpanValidate(t *testing.T) {
	start := time.Now()
	valid := Span{SpanID: "s1", TraceID: "t1", StartedAt: start}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		mut  func(*Span)
	}{
		{"missing trace id", func(s *Span) { s.TraceID = "" }},
		{"missing span id", func(s *Span) { s.SpanID = "" }},
		{"zero started_at", func(s *Span) { s.StartedAt = time.Time{} }},
		{"ended before started", func(s *Span) { s.EndedAt = ptr(start.Add(-time.Second)) }},
		{"negative cost", func(s *Span) { s.CostUSD = ptr(-0.01) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mut(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsKind(err, errs.Validation))
		})
	}
}

func TestToSpanDefaults(t *testing.T) {
	in := &SpanInput{SpanID: "s1", TraceID: "t1", OperationName: "step", StartedAt: time.Now()}
	s := in.ToSpan()

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", s.ID.String())
	assert.Equal(t, SpanKindInternal, s.SpanKind)
	assert.Equal(t, SpanStatusOK, s.Status)
	assert.Nil(t, s.DurationMS)
	assert.Nil(t, s.CostUSD)
}

func TestToSpanCarriesExplicitFields(t *testing.T) {
	kind := SpanKindClient
	status := SpanStatusError
	in := &SpanInput{
		SpanID:        "s1",
		TraceID:       "t1",
		OperationName: "llm.call",
		ServiceName:   "agent",
		SpanKind:      &kind,
		Status:        &status,
		ModelName:     ptr("claude-opus-4"),
		TokensIn:      ptr(int32(1200)),
	}
	s := in.ToSpan()

	assert.Equal(t, SpanKindClient, s.SpanKind)
	assert.Equal(t, SpanStatusError, s.Status)
	assert.Equal(t, "agent", s.ServiceName)
	require.NotNil(t, s.ModelName)
	assert.Equal(t, "claude-opus-4", *s.ModelName)
	require.NotNil(t, s.TokensIn)
	assert.Equal(t, int32(1200), *s.TokensIn)
}
