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

package postgres

import (
	"fmt"
	"strings"

	"github.com/agenttrace/agenttrace/pkg/errs"
)

// condBuilder accumulates WHERE conditions with positional $n bindings.
// All user input flows through bind(); column and operator names are only
// ever taken from the whitelists below.
type condBuilder struct {
	conds []string
	args  []any
}

// bind registers a query argument and returns its placeholder.
func (b *condBuilder) bind(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

// add appends "column op $n" with the value bound.
func (b *condBuilder) add(column, op string, value any) {
	b.conds = append(b.conds, fmt.Sprintf("%s %s %s", column, op, b.bind(value)))
}

// addRaw appends a pre-built condition (no user input allowed).
func (b *condBuilder) addRaw(cond string) {
	b.conds = append(b.conds, cond)
}

// where renders the conditions as a WHERE clause, or "" when empty.
func (b *condBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// spanFields are the span fields search may filter or sort on, keyed by
// their public name.
var spanFields = map[string]string{
	"span_id":            "span_id",
	"trace_id":           "trace_id",
	"parent_span_id":     "parent_span_id",
	"operation_name":     "operation_name",
	"service_name":       "service_name",
	"span_kind":          "span_kind",
	"started_at":         "started_at",
	"ended_at":           "ended_at",
	"duration_ms":        "duration_ms",
	"status":             "status",
	"status_message":     "status_message",
	"model_name":         "model_name",
	"model_provider":     "model_provider",
	"tokens_in":          "tokens_in",
	"tokens_out":         "tokens_out",
	"tokens_reasoning":   "tokens_reasoning",
	"cost_usd":           "cost_usd",
	"tool_name":          "tool_name",
	"prompt_preview":     "prompt_preview",
	"completion_preview": "completion_preview",
}

// filterOperators maps public filter operators to SQL.
var filterOperators = map[string]string{
	"eq":       "=",
	"ne":       "!=",
	"gt":       ">",
	"gte":      ">=",
	"lt":       "<",
	"lte":      "<=",
	"contains": "ILIKE",
}

// groupColumns maps cost group_by values to columns.
var groupColumns = map[string]string{
	"model":     "model_name",
	"provider":  "model_provider",
	"service":   "service_name",
	"operation": "operation_name",
}

// sortColumn validates a sort field, defaulting to started_at.
func sortColumn(field string) (string, error) {
	if field == "" {
		return "started_at", nil
	}
	col, ok := spanFields[field]
	if !ok {
		return "", errs.Validationf("unknown sort field %q", field)
	}
	return col, nil
}

// sortDirection renders an ORDER BY direction.
func sortDirection(descending bool) string {
	if descending {
		return "DESC"
	}
	return "ASC"
}
