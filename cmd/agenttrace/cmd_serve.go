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
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/internal/pgxdriver"
	"github.com/agenttrace/agenttrace/internal/version"
	"github.com/agenttrace/agenttrace/pkg/alerting"
	"github.com/agenttrace/agenttrace/pkg/collector"
	"github.com/agenttrace/agenttrace/pkg/server"
	"github.com/agenttrace/agenttrace/pkg/storage"
	"github.com/agenttrace/agenttrace/pkg/storage/postgres"
	"github.com/agenttrace/agenttrace/pkg/stream"
)

// shutdownTimeout bounds graceful HTTP shutdown on SIGTERM.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the AgentTrace server",
	Long:  `Starts the span ingestion pipeline, alert evaluator, retention job and HTTP API, and serves until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return err
	}
	logger := log.Logger()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting agenttrace",
		zap.String("version", version.Get()),
		zap.String("addr", config.Addr()))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxdriver.NewPool(ctx, pgxdriver.Config{
		URL:      config.Database.URL,
		MaxConns: config.Database.MaxConns,
		MinConns: config.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	migrator, err := postgres.NewMigrator(pool)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	spanStore := postgres.NewSpanStore(pool)
	alertStore := postgres.NewAlertStore(pool)

	var broker *stream.RedisBroker
	if config.Redis.URL != "" {
		broker, err = stream.NewRedisBroker(ctx, stream.RedisBrokerConfig{
			URL:    config.Redis.URL,
			Logger: logger.Named("stream"),
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = broker.Close() }()
	} else {
		logger.Info("redis not configured, real-time streaming disabled")
	}

	pipelineCfg := collector.Config{
		BatchSize:             config.Collector.BatchSize,
		BatchTimeout:          time.Duration(config.Collector.FlushIntervalMS) * time.Millisecond,
		EnableCostCalculation: config.Collector.EnableCostCalculation,
		EnableFanout:          config.Collector.EnableFanout && broker != nil,
		Logger:                logger.Named("collector"),
	}
	var publisher collector.SpanPublisher
	if broker != nil {
		publisher = broker
	}
	pipeline, err := collector.New(pipelineCfg, spanStore, publisher)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	var evaluator *alerting.Evaluator
	if config.Alerting.Enabled {
		notifier := alerting.NewNotifier(logger.Named("notifier"))
		evaluator = alerting.NewEvaluator(alertStore, spanStore, notifier, alerting.Config{
			Interval: time.Duration(config.Alerting.IntervalSeconds) * time.Second,
			Logger:   logger.Named("alerting"),
		})
	}

	retention, err := storage.NewRetention(spanStore, storage.RetentionConfig{
		MaxAgeDays: config.Retention.MaxAgeDays,
		Schedule:   config.Retention.Schedule,
		Logger:     logger.Named("retention"),
	})
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}

	srvCfg := server.Config{
		Addr:     config.Addr(),
		Version:  version.Get(),
		Pipeline: pipeline,
		Spans:    spanStore,
		Alerts:   alertStore,
		DB:       spanStore,
		CORS:     server.DefaultCORSConfig(),
		Logger:   logger.Named("http"),
	}
	if evaluator != nil {
		srvCfg.Tester = evaluator
	}
	if broker != nil {
		srvCfg.Broker = broker
		srvCfg.Redis = broker
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	if evaluator != nil {
		g.Go(func() error {
			return evaluator.Run(gctx)
		})
	}

	if retention != nil {
		if err := retention.Start(gctx); err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		defer retention.Stop()
	}

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown failed", zap.Error(err))
		}

		// Stop intake and let Run flush the final partial batch.
		pipeline.Close()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("agenttrace stopped")
	return nil
}
