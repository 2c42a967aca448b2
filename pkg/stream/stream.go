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

// Package stream fans spans out to real-time subscribers.
//
// Every ingested span is published on the "spans" channel and on its
// trace-scoped "trace:<trace_id>" channel; LLM spans additionally go to
// "llm". Subscribers receive the JSON-serialized span.
package stream

import (
	"context"
	"sync"

	"github.com/agenttrace/agenttrace/pkg/model"
)

// Well-known channel names.
const (
	ChannelSpans = "spans"
	ChannelLLM   = "llm"
)

// TraceChannel returns the channel carrying only the given trace's spans.
func TraceChannel(traceID string) string {
	return "trace:" + traceID
}

// subscriptionBuffer is the per-subscriber buffer capacity. A subscriber
// that falls behind loses its oldest messages, never the publisher.
const subscriptionBuffer = 100

// Broker publishes spans and hands out subscriptions.
type Broker interface {
	// PublishSpan fans the span out to every applicable channel. Failure on
	// one channel does not stop delivery to the others.
	PublishSpan(ctx context.Context, span *model.Span) error

	// Subscribe starts delivering the channel's messages to a new
	// Subscription. The caller must Close it when done.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Close releases broker resources.
	Close() error
}

// Subscription is one subscriber's buffered view of a channel.
type Subscription struct {
	ch        chan []byte
	closeOnce sync.Once
	done      chan struct{}
	teardown  func()
}

func newSubscription(teardown func()) *Subscription {
	return &Subscription{
		ch:       make(chan []byte, subscriptionBuffer),
		done:     make(chan struct{}),
		teardown: teardown,
	}
}

// C returns the message stream. It is closed after Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close unsubscribes and closes the message stream. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.teardown != nil {
			s.teardown()
		}
	})
}

// deliver enqueues a payload, evicting the oldest buffered message when the
// subscriber is full. Never blocks the publisher.
func (s *Subscription) deliver(payload []byte) {
	for {
		select {
		case <-s.done:
			return
		case s.ch <- payload:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// spanChannels lists every channel a span is published on.
func spanChannels(span *model.Span) []string {
	channels := []string{ChannelSpans, TraceChannel(span.TraceID)}
	if span.IsLLMCall() {
		channels = append(channels, ChannelLLM)
	}
	return channels
}
