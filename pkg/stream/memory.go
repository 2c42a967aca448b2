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
	"sync"

	"github.com/agenttrace/agenttrace/pkg/model"
)

// MemoryBroker is an in-process Broker with the same channel and overflow
// semantics as RedisBroker. Used for single-node deployments without Redis
// and in tests.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*Subscription)}
}

// PublishSpan serializes the span once and delivers it to every subscriber
// of every applicable channel.
func (b *MemoryBroker) PublishSpan(_ context.Context, span *model.Span) error {
	payload, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("failed to serialize span %s: %w", span.SpanID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	for _, channel := range spanChannels(span) {
		for _, sub := range b.subs[channel] {
			sub.deliver(payload)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	var sub *Subscription
	sub = newSubscription(func() { b.unsubscribe(channel, sub) })
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

func (b *MemoryBroker) unsubscribe(channel string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[channel]
	for i, s := range list {
		if s == sub {
			b.subs[channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	// No publisher can be mid-delivery here; the broker lock is held.
	close(sub.ch)
}

// Close tears down every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, list := range all {
		for _, sub := range list {
			sub.closeOnce.Do(func() {
				close(sub.done)
				close(sub.ch)
			})
		}
	}
	return nil
}
