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

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/model"
)

func testSpan(traceID, spanID string, llm bool) *model.Span {
	s := &model.Span{
		ID:            uuid.New(),
		SpanID:        spanID,
		TraceID:       traceID,
		OperationName: "op",
		ServiceName:   "svc",
		StartedAt:     time.Now(),
		Status:        model.SpanStatusOK,
	}
	if llm {
		name := "gpt-4o"
		s.ModelName = &name
	}
	return s
}

func drain(t *testing.T, sub *Subscription, want int) []*model.Span {
	t.Helper()
	var spans []*model.Span
	for i := 0; i < want; i++ {
		select {
		case payload := <-sub.C():
			var s model.Span
			require.NoError(t, json.Unmarshal(payload, &s))
			spans = append(spans, &s)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d of %d", i+1, want)
		}
	}
	return spans
}

func TestFanOutChannels(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	defer broker.Close()

	all, err := broker.Subscribe(ctx, ChannelSpans)
	require.NoError(t, err)
	traceX, err := broker.Subscribe(ctx, TraceChannel("trace-x"))
	require.NoError(t, err)
	llm, err := broker.Subscribe(ctx, ChannelLLM)
	require.NoError(t, err)

	require.NoError(t, broker.PublishSpan(ctx, testSpan("trace-x", "s1", false)))
	require.NoError(t, broker.PublishSpan(ctx, testSpan("trace-y", "s2", true)))
	require.NoError(t, broker.PublishSpan(ctx, testSpan("trace-x", "s3", true)))

	got := drain(t, all, 3)
	assert.Equal(t, "s1", got[0].SpanID)
	assert.Equal(t, "s2", got[1].SpanID)
	assert.Equal(t, "s3", got[2].SpanID)

	got = drain(t, traceX, 2)
	assert.Equal(t, "s1", got[0].SpanID)
	assert.Equal(t, "s3", got[1].SpanID)

	got = drain(t, llm, 2)
	assert.Equal(t, "s2", got[0].SpanID)
	assert.Equal(t, "s3", got[1].SpanID)

	// Nothing extra is buffered anywhere.
	assert.Empty(t, all.C())
	assert.Empty(t, traceX.C())
	assert.Empty(t, llm.C())
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	defer broker.Close()

	sub, err := broker.Subscribe(ctx, ChannelSpans)
	require.NoError(t, err)

	total := subscriptionBuffer + 25
	for i := 0; i < total; i++ {
		require.NoError(t, broker.PublishSpan(ctx, testSpan("t", fmt.Sprintf("s%04d", i), false)))
	}

	got := drain(t, sub, subscriptionBuffer)
	// The oldest 25 were evicted; the newest 100 survive in order.
	assert.Equal(t, "s0025", got[0].SpanID)
	assert.Equal(t, fmt.Sprintf("s%04d", total-1), got[len(got)-1].SpanID)
}

func TestSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()
	defer broker.Close()

	sub, err := broker.Subscribe(ctx, ChannelSpans)
	require.NoError(t, err)

	sub.Close()
	sub.Close() // idempotent

	_, open := <-sub.C()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic or block.
	require.NoError(t, broker.PublishSpan(ctx, testSpan("t", "s1", false)))
}

func TestBrokerCloseTerminatesSubscribers(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker()

	sub, err := broker.Subscribe(ctx, ChannelSpans)
	require.NoError(t, err)

	require.NoError(t, broker.Close())

	_, open := <-sub.C()
	assert.False(t, open)

	err = broker.PublishSpan(ctx, testSpan("t", "s1", false))
	require.Error(t, err)

	_, err = broker.Subscribe(ctx, ChannelSpans)
	require.Error(t, err)
}
