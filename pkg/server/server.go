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

// Package server exposes the collector over HTTP: span ingestion, queries,
// metrics, alert management and a server-sent-events stream.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
	"github.com/agenttrace/agenttrace/pkg/storage"
	"github.com/agenttrace/agenttrace/pkg/stream"
)

// Ingestor accepts spans into the collection pipeline.
type Ingestor interface {
	Submit(ctx context.Context, span *model.Span) error
	SubmitBatch(ctx context.Context, spans []*model.Span) (int, error)
}

// RuleTester dry-runs an alert rule against live metrics.
type RuleTester interface {
	TestRule(ctx context.Context, rule *model.AlertRule) (*model.AlertEvent, error)
}

// Pinger reports backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}
}

// Config wires the server's dependencies. Alerts, Tester, Broker and the
// pingers are optional; endpoints depending on an absent one answer 503.
type Config struct {
	Addr    string
	Version string

	Pipeline Ingestor
	Spans    storage.SpanStore
	Alerts   storage.AlertStore
	Tester   RuleTester
	Broker   stream.Broker

	DB    Pinger
	Redis Pinger

	CORS   CORSConfig
	Logger *zap.Logger
}

// Server is the collector's HTTP API.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates the HTTP server with all routes registered.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			ReadTimeout: 30 * time.Second,
			// SSE connections stay open indefinitely.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}
	s.httpServer.Handler = s.buildHandler()
	return s
}

// Handler returns the fully-routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/spans", s.handleIngestSpan)
	mux.HandleFunc("POST /api/v1/spans/batch", s.handleIngestBatch)
	mux.HandleFunc("GET /api/v1/spans", s.handleListSpans)
	mux.HandleFunc("GET /api/v1/spans/{span_id}", s.handleGetSpan)

	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("POST /api/v1/search/advanced", s.handleAdvancedSearch)

	mux.HandleFunc("GET /api/v1/traces", s.handleListTraces)
	mux.HandleFunc("GET /api/v1/traces/{trace_id}", s.handleGetTrace)
	mux.HandleFunc("GET /api/v1/traces/{trace_id}/spans", s.handleGetTraceSpans)

	mux.HandleFunc("GET /api/v1/metrics/summary", s.handleMetricsSummary)
	mux.HandleFunc("GET /api/v1/metrics/costs", s.handleCostMetrics)
	mux.HandleFunc("GET /api/v1/metrics/latency", s.handleLatencyMetrics)
	mux.HandleFunc("GET /api/v1/metrics/errors", s.handleErrorMetrics)

	mux.HandleFunc("GET /api/v1/alerts/rules", s.handleListAlertRules)
	mux.HandleFunc("POST /api/v1/alerts/rules", s.handleCreateAlertRule)
	mux.HandleFunc("GET /api/v1/alerts/rules/{rule_id}", s.handleGetAlertRule)
	mux.HandleFunc("PUT /api/v1/alerts/rules/{rule_id}", s.handleUpdateAlertRule)
	mux.HandleFunc("DELETE /api/v1/alerts/rules/{rule_id}", s.handleDeleteAlertRule)
	mux.HandleFunc("POST /api/v1/alerts/rules/{rule_id}/test", s.handleTestAlertRule)
	mux.HandleFunc("GET /api/v1/alerts/events", s.handleListAlertEvents)
	mux.HandleFunc("GET /api/v1/alerts/events/{event_id}", s.handleGetAlertEvent)
	mux.HandleFunc("POST /api/v1/alerts/events/{event_id}/acknowledge", s.handleAcknowledgeAlert)

	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	var handler http.Handler = s.loggingMiddleware(mux)
	if s.cfg.CORS.Enabled {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.Wrap(errs.Transport, "HTTP server failed", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// statusRecorder captures the response status for logging. Flush is
// forwarded so SSE keeps working behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
		}
		if len(s.cfg.CORS.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.cfg.CORS.AllowedMethods, ", "))
		}
		if len(s.cfg.CORS.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.cfg.CORS.AllowedHeaders, ", "))
		}
		if s.cfg.CORS.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(s.cfg.CORS.MaxAge))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.respond(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) serviceUnavailable(w http.ResponseWriter, what string) {
	s.respond(w, http.StatusServiceUnavailable, errorResponse{Error: what + " not configured"})
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.cfg.Version, Checks: map[string]string{}}
	status := http.StatusOK

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks[name] = "ok"
		}
	}
	check("postgres", s.cfg.DB)
	check("redis", s.cfg.Redis)

	s.respond(w, status, resp)
}
