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

package pgxdriver

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolRequiresURL(t *testing.T) {
	_, err := NewPool(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewPoolRejectsBadURL(t *testing.T) {
	_, err := NewPool(context.Background(), Config{URL: "://not-a-url"})
	require.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://localhost:5432/agenttrace")
	require.NoError(t, err)

	applyDefaults(poolCfg, Config{})
	assert.Equal(t, int32(25), poolCfg.MaxConns)
	assert.Equal(t, int32(5), poolCfg.MinConns)
	assert.Equal(t, 5*time.Minute, poolCfg.MaxConnIdleTime)
	assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
	assert.Equal(t, 30*time.Second, poolCfg.HealthCheckPeriod)
}

func TestApplyDefaultsOverrides(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://localhost:5432/agenttrace")
	require.NoError(t, err)

	applyDefaults(poolCfg, Config{MaxConns: 50, MinConns: 10, MaxConnIdleTime: time.Minute})
	assert.Equal(t, int32(50), poolCfg.MaxConns)
	assert.Equal(t, int32(10), poolCfg.MinConns)
	assert.Equal(t, time.Minute, poolCfg.MaxConnIdleTime)
}
