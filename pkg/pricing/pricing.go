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

// Package pricing computes USD cost for LLM spans from per-million-token
// model rates.
package pricing

import (
	"strings"
	"sync"

	"github.com/agenttrace/agenttrace/pkg/model"
)

// ModelPricing holds per-million-token rates for one model family.
type ModelPricing struct {
	// InputPerMillion is USD per million input tokens.
	InputPerMillion float64
	// OutputPerMillion is USD per million output tokens.
	OutputPerMillion float64
	// CachedInputPerMillion is USD per million cached input tokens, nil when
	// the provider has no cached tier.
	CachedInputPerMillion *float64
}

func cached(v float64) *float64 { return &v }

// defaultTable is the built-in rate table, keyed by model family. Versioned
// model names resolve to a family by prefix or substring match.
func defaultTable() map[string]ModelPricing {
	return map[string]ModelPricing{
		// Anthropic
		"claude-3-opus":     {InputPerMillion: 15.0, OutputPerMillion: 75.0, CachedInputPerMillion: cached(1.5)},
		"claude-3-5-sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0, CachedInputPerMillion: cached(0.3)},
		"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.0, CachedInputPerMillion: cached(0.08)},
		"claude-sonnet-4":   {InputPerMillion: 3.0, OutputPerMillion: 15.0, CachedInputPerMillion: cached(0.3)},
		"claude-opus-4":     {InputPerMillion: 15.0, OutputPerMillion: 75.0, CachedInputPerMillion: cached(1.5)},

		// OpenAI
		"gpt-4":         {InputPerMillion: 30.0, OutputPerMillion: 60.0},
		"gpt-4-turbo":   {InputPerMillion: 10.0, OutputPerMillion: 30.0},
		"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.0, CachedInputPerMillion: cached(1.25)},
		"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60, CachedInputPerMillion: cached(0.075)},
		"o1":            {InputPerMillion: 15.0, OutputPerMillion: 60.0, CachedInputPerMillion: cached(7.5)},
		"o1-mini":       {InputPerMillion: 3.0, OutputPerMillion: 12.0, CachedInputPerMillion: cached(1.5)},
		"o1-pro":        {InputPerMillion: 150.0, OutputPerMillion: 600.0},
		"gpt-3.5-turbo": {InputPerMillion: 0.50, OutputPerMillion: 1.50},

		// Google
		"gemini-1.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 5.0, CachedInputPerMillion: cached(0.3125)},
		"gemini-1.5-flash": {InputPerMillion: 0.075, OutputPerMillion: 0.30, CachedInputPerMillion: cached(0.01875)},
		"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedInputPerMillion: cached(0.025)},

		// Mistral
		"mistral-large": {InputPerMillion: 2.0, OutputPerMillion: 6.0},
		"mistral-small": {InputPerMillion: 0.2, OutputPerMillion: 0.6},
	}
}

// Calculator resolves model names against a rate table and writes span
// costs. Safe for concurrent use.
type Calculator struct {
	mu    sync.RWMutex
	table map[string]ModelPricing
}

// NewCalculator builds a Calculator with the built-in rate table.
func NewCalculator() *Calculator {
	return &Calculator{table: defaultTable()}
}

// Calculate computes and sets span.CostUSD. Spans without a model name or
// with an unrecognized model are left untouched, so an unknown model never
// produces a zero cost that aggregates would count.
func (c *Calculator) Calculate(span *model.Span) {
	if !span.IsLLMCall() {
		return
	}

	pricing, ok := c.Lookup(*span.ModelName)
	if !ok {
		return
	}

	var tokensIn, tokensOut, tokensReasoning float64
	if span.TokensIn != nil {
		tokensIn = float64(*span.TokensIn)
	}
	if span.TokensOut != nil {
		tokensOut = float64(*span.TokensOut)
	}
	if span.TokensReasoning != nil {
		tokensReasoning = float64(*span.TokensReasoning)
	}

	// Reasoning tokens are billed at the output rate.
	inputCost := (tokensIn / 1_000_000.0) * pricing.InputPerMillion
	outputCost := ((tokensOut + tokensReasoning) / 1_000_000.0) * pricing.OutputPerMillion

	cost := inputCost + outputCost
	span.CostUSD = &cost
}

// Lookup resolves a model name to its pricing. Resolution order: exact key,
// then the longest key that prefixes the name, then the longest key
// contained in the name. Equal-length candidates resolve to the
// lexicographically smallest key so the result is deterministic.
func (c *Calculator) Lookup(modelName string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.table[modelName]; ok {
		return p, true
	}

	if key, ok := c.bestMatch(modelName, strings.HasPrefix); ok {
		return c.table[key], true
	}
	if key, ok := c.bestMatch(modelName, strings.Contains); ok {
		return c.table[key], true
	}
	return ModelPricing{}, false
}

func (c *Calculator) bestMatch(modelName string, match func(s, key string) bool) (string, bool) {
	var best string
	found := false
	for key := range c.table {
		if !match(modelName, key) {
			continue
		}
		if !found || len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
			found = true
		}
	}
	return best, found
}

// SetPricing adds or replaces the rates for a model.
func (c *Calculator) SetPricing(modelName string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[modelName] = pricing
}
