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
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
)

// RedisBroker fans spans out over Redis pub/sub so subscribers on other
// nodes see them too.
type RedisBroker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// RedisBrokerConfig configures a RedisBroker.
type RedisBrokerConfig struct {
	// URL is the Redis connection URL (redis://host:port/db).
	URL string
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisBrokerConfig) (*RedisBroker, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(errs.PubSub, "failed to connect to redis", err)
	}

	return &RedisBroker{rdb: rdb, logger: logger}, nil
}

// PublishSpan serializes the span once and publishes it to every applicable
// channel. Per-channel failures are collected so one bad channel does not
// hide delivery on the rest.
func (b *RedisBroker) PublishSpan(ctx context.Context, span *model.Span) error {
	payload, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("failed to serialize span %s: %w", span.SpanID, err)
	}

	var errList []error
	for _, channel := range spanChannels(span) {
		if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			errList = append(errList, fmt.Errorf("channel %s: %w", channel, err))
		}
	}
	if len(errList) > 0 {
		return errs.Wrap(errs.PubSub, "failed to publish span", errors.Join(errList...))
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for the channel and pumps
// its messages into a buffered Subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)

	// Force the subscribe round-trip so a bad connection surfaces here
	// rather than as a silent empty stream.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errs.Wrap(errs.PubSub, fmt.Sprintf("failed to subscribe to %s", channel), err)
	}

	sub := newSubscription(func() { _ = ps.Close() })

	go func() {
		defer close(sub.ch)
		for msg := range ps.Channel() {
			sub.deliver([]byte(msg.Payload))
		}
	}()

	b.logger.Debug("subscribed to channel", zap.String("channel", channel))
	return sub, nil
}

// Ping reports broker liveness, used by the health endpoint.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return errs.Wrap(errs.PubSub, "redis ping failed", b.rdb.Ping(ctx).Err())
}

// Close closes the underlying Redis client.
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
