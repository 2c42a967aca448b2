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

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agenttrace/agenttrace/pkg/errs"
	"github.com/agenttrace/agenttrace/pkg/model"
)

func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}

	rules, err := s.cfg.Alerts.ListRules(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	if rules == nil {
		rules = []*model.AlertRule{}
	}
	s.respond(w, http.StatusOK, rules)
}

func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}

	var input model.AlertRuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, errs.Validationf("invalid rule payload: %v", err))
		return
	}
	if err := input.Validate(); err != nil {
		s.respondError(w, err)
		return
	}

	rule := input.ToRule()
	if err := s.cfg.Alerts.CreateRule(r.Context(), rule); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, rule)
}

func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("rule_id"))
	if err != nil {
		s.respondError(w, errs.Validationf("invalid rule id"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGetAlertRule(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	rule, err := s.cfg.Alerts.GetRule(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	var input model.AlertRuleInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, errs.Validationf("invalid rule payload: %v", err))
		return
	}

	rule, err := s.cfg.Alerts.UpdateRule(r.Context(), id, &input)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	if err := s.cfg.Alerts.DeleteRule(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testAlertResponse struct {
	WouldTrigger bool              `json:"would_trigger"`
	Event        *model.AlertEvent `json:"event,omitempty"`
	CurrentValue *float64          `json:"current_value,omitempty"`
}

func (s *Server) handleTestAlertRule(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil || s.cfg.Tester == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}

	rule, err := s.cfg.Alerts.GetRule(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	event, err := s.cfg.Tester.TestRule(r.Context(), rule)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := testAlertResponse{WouldTrigger: event != nil, Event: event}
	if event != nil {
		resp.CurrentValue = &event.MetricValue
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleListAlertEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	q := r.URL.Query()

	var (
		events []*model.AlertEvent
		err    error
	)
	switch {
	case q.Get("status") == "active":
		events, err = s.cfg.Alerts.ListActiveEvents(r.Context())
	case q.Get("rule_id") != "":
		var ruleID uuid.UUID
		ruleID, err = uuid.Parse(q.Get("rule_id"))
		if err != nil {
			s.respondError(w, errs.Validationf("invalid rule_id"))
			return
		}
		events, err = s.cfg.Alerts.ListEventsForRule(r.Context(), ruleID, queryInt(q, "limit", 50))
	default:
		since := time.Now().UTC().Add(-7 * 24 * time.Hour)
		if parsed, perr := queryTime(q, "since"); perr != nil {
			s.respondError(w, perr)
			return
		} else if parsed != nil {
			since = *parsed
		}
		events, err = s.cfg.Alerts.ListRecentEvents(r.Context(), since, queryInt(q, "limit", 100))
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	if events == nil {
		events = []*model.AlertEvent{}
	}
	s.respond(w, http.StatusOK, events)
}

func (s *Server) handleGetAlertEvent(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, err := uuid.Parse(r.PathValue("event_id"))
	if err != nil {
		s.respondError(w, errs.Validationf("invalid event id"))
		return
	}

	event, err := s.cfg.Alerts.GetEvent(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, event)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Alerts == nil {
		s.serviceUnavailable(w, "alerting")
		return
	}
	id, err := uuid.Parse(r.PathValue("event_id"))
	if err != nil {
		s.respondError(w, errs.Validationf("invalid event id"))
		return
	}

	if err := s.cfg.Alerts.AcknowledgeEvent(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]bool{"acknowledged": true})
}
