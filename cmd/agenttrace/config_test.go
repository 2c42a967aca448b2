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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	viper.Reset()
	tmp := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err = LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 100, cfg.Collector.BatchSize)
	assert.Equal(t, 1000, cfg.Collector.FlushIntervalMS)
	assert.True(t, cfg.Collector.EnableCostCalculation)
	assert.True(t, cfg.Alerting.Enabled)
	assert.Equal(t, 60, cfg.Alerting.IntervalSeconds)
	assert.Equal(t, 0, cfg.Retention.MaxAgeDays)
	assert.Equal(t, "0 3 * * *", cfg.Retention.Schedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "agenttrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  http_port: 9090
database:
  url: postgres://example/agenttrace
redis:
  url: redis://localhost:6379/0
collector:
  batch_size: 250
retention:
  max_age_days: 30
logging:
  format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "postgres://example/agenttrace", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 250, cfg.Collector.BatchSize)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.Equal(t, "json", cfg.Logging.Format)
	// Keys the file leaves out keep their defaults.
	assert.Equal(t, 1000, cfg.Collector.FlushIntervalMS)
	assert.True(t, cfg.Alerting.Enabled)
}
