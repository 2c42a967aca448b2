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

// Package collector implements the span ingestion pipeline: enrichment,
// cost calculation, real-time fan-out and batched persistence.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/pricing"
)

// previewLimit is the maximum preview length before truncation.
const previewLimit = 500

// SpanWriter persists batches of spans.
type SpanWriter interface {
	UpsertBatch(ctx context.Context, spans []*model.Span) (int, error)
}

// SpanPublisher fans spans out to real-time subscribers.
type SpanPublisher interface {
	PublishSpan(ctx context.Context, span *model.Span) error
}

// Config configures a Pipeline.
type Config struct {
	// BatchSize is the number of spans per storage write. Default 100.
	BatchSize int
	// BatchTimeout bounds how long a partial batch waits. Default 1s.
	BatchTimeout time.Duration
	// EnableCostCalculation computes CostUSD for LLM spans.
	EnableCostCalculation bool
	// EnableFanout publishes each span to the broker.
	EnableFanout bool
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Pipeline receives spans, enriches them and flushes them to storage in
// batches. Fan-out happens per span before batching so subscribers see
// spans even when the store is behind.
type Pipeline struct {
	cfg    Config
	in     chan *model.Span
	done   chan struct{}
	once   sync.Once
	calc   *pricing.Calculator
	store  SpanWriter
	broker SpanPublisher
	logger *zap.Logger
}

// New creates a Pipeline. The broker may be nil when fan-out is disabled.
func New(cfg Config, store SpanWriter, broker SpanPublisher) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("span writer is required")
	}
	if cfg.EnableFanout && broker == nil {
		return nil, fmt.Errorf("fanout enabled but no publisher given")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:    cfg,
		in:     make(chan *model.Span, cfg.BatchSize*10),
		done:   make(chan struct{}),
		calc:   pricing.NewCalculator(),
		store:  store,
		broker: broker,
		logger: cfg.Logger,
	}, nil
}

// Submit queues one span. Blocks while the queue is full; fails once the
// pipeline is closed or the context expires.
func (p *Pipeline) Submit(ctx context.Context, span *model.Span) error {
	select {
	case <-p.done:
		return errs.New(errs.Channel, "pipeline is closed")
	default:
	}

	select {
	case p.in <- span:
		return nil
	case <-p.done:
		return errs.New(errs.Channel, "pipeline is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitBatch queues spans one by one and returns how many were accepted.
func (p *Pipeline) SubmitBatch(ctx context.Context, spans []*model.Span) (int, error) {
	for i, span := range spans {
		if err := p.Submit(ctx, span); err != nil {
			return i, err
		}
	}
	return len(spans), nil
}

// Run processes spans until Close is called or the context is canceled.
// On shutdown the queue is drained and the final partial batch is flushed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("batch_timeout", p.cfg.BatchTimeout))

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	batch := make([]*model.Span, 0, p.cfg.BatchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		p.flushBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case span := <-p.in:
			p.process(ctx, span)
			batch = append(batch, span)
			if len(batch) >= p.cfg.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)

		case <-p.done:
			tail := context.WithoutCancel(ctx)
			p.drain(tail, &batch)
			flush(tail)
			p.logger.Info("pipeline stopped")
			return nil

		case <-ctx.Done():
			// The final drain and flush run on a detached context so spans
			// already accepted still reach storage after cancellation.
			tail := context.WithoutCancel(ctx)
			p.drain(tail, &batch)
			flush(tail)
			p.logger.Info("pipeline stopped")
			return ctx.Err()
		}
	}
}

// drain consumes whatever is still queued without blocking.
func (p *Pipeline) drain(ctx context.Context, batch *[]*model.Span) {
	for {
		select {
		case span := <-p.in:
			p.process(ctx, span)
			*batch = append(*batch, span)
			if len(*batch) >= p.cfg.BatchSize {
				p.flushBatch(ctx, *batch)
				*batch = (*batch)[:0]
			}
		default:
			return
		}
	}
}

// Close stops intake and lets Run flush the remainder. Safe to call more
// than once.
func (p *Pipeline) Close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Pipeline) process(ctx context.Context, span *model.Span) {
	enrich(span)

	if p.cfg.EnableCostCalculation {
		p.calc.Calculate(span)
	}

	if p.cfg.EnableFanout {
		if err := p.broker.PublishSpan(ctx, span); err != nil {
			p.logger.Warn("failed to publish span",
				zap.String("span_id", span.SpanID),
				zap.Error(err))
		}
	}
}

// flushBatch writes the batch to storage. A failed batch is dropped and
// logged; ingestion never blocks on a broken store.
func (p *Pipeline) flushBatch(ctx context.Context, batch []*model.Span) {
	p.logger.Debug("flushing batch", zap.Int("size", len(batch)))

	inserted, err := p.store.UpsertBatch(ctx, batch)
	if err != nil {
		p.logger.Error("failed to insert batch",
			zap.Int("size", len(batch)),
			zap.Error(err))
		return
	}
	p.logger.Debug("batch inserted",
		zap.Int("inserted", inserted),
		zap.Int("size", len(batch)))
}

// Stats is a point-in-time view of the intake queue.
type Stats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
}

// Stats reports current queue usage.
func (p *Pipeline) Stats() Stats {
	return Stats{QueueDepth: len(p.in), QueueCapacity: cap(p.in)}
}

// enrich fills in computed fields before a span is published or stored.
func enrich(span *model.Span) {
	span.CalculateDuration()

	if span.ServiceName == "" {
		span.ServiceName = "unknown"
	}

	span.PromptPreview = truncatePreview(span.PromptPreview)
	span.CompletionPreview = truncatePreview(span.CompletionPreview)
}

// truncatePreview caps a preview at previewLimit characters plus a "..."
// marker. Already-truncated previews come out unchanged.
func truncatePreview(preview *string) *string {
	if preview == nil {
		return nil
	}
	runes := []rune(*preview)
	if len(runes) <= previewLimit {
		return preview
	}
	truncated := string(runes[:previewLimit]) + "..."
	return &truncated
}
