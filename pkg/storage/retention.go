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

package storage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// RetentionConfig controls the periodic span expiry job.
type RetentionConfig struct {
	// MaxAgeDays is how long spans are kept. Zero disables the job.
	MaxAgeDays int
	// Schedule is a standard 5-field cron expression. Defaults to 03:00 daily.
	Schedule string
	Logger   *zap.Logger
}

// Retention deletes spans past their retention window on a cron schedule.
type Retention struct {
	store    SpanStore
	maxAge   time.Duration
	schedule string
	engine   *cron.Cron
	logger   *zap.Logger
}

// NewRetention builds the retention job. A nil return with nil error means
// retention is disabled.
func NewRetention(store SpanStore, cfg RetentionConfig) (*Retention, error) {
	if cfg.MaxAgeDays <= 0 {
		return nil, nil
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retention{
		store:    store,
		maxAge:   time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		schedule: schedule,
		engine:   cron.New(),
		logger:   logger,
	}, nil
}

// Start registers the cron entry and begins scheduling. Runs one sweep
// immediately so a long-stopped deployment catches up without waiting for
// the next tick.
func (r *Retention) Start(ctx context.Context) error {
	if _, err := r.engine.AddFunc(r.schedule, func() { r.sweep(ctx) }); err != nil {
		return err
	}
	r.engine.Start()
	go r.sweep(ctx)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.engine.Stop().Done()
}

func (r *Retention) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	deleted, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Info("retention sweep removed expired spans",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
