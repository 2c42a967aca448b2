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

package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	err := Newf(Storage, "upsert failed after %d rows", 3)
	assert.Equal(t, Storage, KindOf(err))
	assert.True(t, IsKind(err, Storage))
	assert.False(t, IsKind(err, Validation))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(PubSub, "connection reset")
	outer := fmt.Errorf("publish span: %w", inner)

	assert.Equal(t, PubSub, KindOf(outer))
	assert.True(t, IsKind(outer, PubSub))
}

func TestUnclassifiedDefaultsToInternal(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(Storage, "flush", nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validationf("bad span"), http.StatusBadRequest},
		{NotFoundErr("rule", "abc"), http.StatusNotFound},
		{New(Storage, "down"), http.StatusInternalServerError},
		{New(PubSub, "down"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestNotFoundMessage(t *testing.T) {
	err := NotFoundErr("alert rule", "9f3b")
	assert.Equal(t, "not_found: alert rule not found: 9f3b", err.Error())
}
