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

// Package errs defines the failure taxonomy shared across the collector.
//
// Every component-boundary error is classified with a Kind so that callers
// can decide how to react (HTTP handlers map kinds to status codes, the
// pipeline logs-and-drops storage failures, the evaluator skips the rule).
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is an unexpected programmer or runtime error.
	Internal Kind = iota
	// Validation means the input was rejected before any work began.
	Validation
	// NotFound means the addressed entity does not exist.
	NotFound
	// Storage is a persistence-layer failure.
	Storage
	// PubSub is a broker failure.
	PubSub
	// Transport is an outbound HTTP failure to a notification sink.
	Transport
	// Channel means an internal queue was closed; only seen during shutdown.
	Channel
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Storage:
		return "storage"
	case PubSub:
		return "pubsub"
	case Transport:
		return "transport"
	case Channel:
		return "channel"
	default:
		return "internal"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a static message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validationf creates a Validation error.
func Validationf(format string, args ...any) error {
	return Newf(Validation, format, args...)
}

// NotFoundErr creates a NotFound error for an addressed entity.
func NotFoundErr(entity, id string) error {
	return Newf(NotFound, "%s not found: %s", entity, id)
}

// KindOf returns the Kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a failure kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
