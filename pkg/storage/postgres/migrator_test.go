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
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	// Versions are ordered and each up migration has a down counterpart.
	assert.True(t, sort.SliceIsSorted(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	}))
	for _, m := range migrations {
		assert.NotEmpty(t, m.UpSQL, "migration %d has no up SQL", m.Version)
		assert.NotEmpty(t, m.DownSQL, "migration %d has no down SQL", m.Version)
		assert.NotEmpty(t, m.Description, "migration %d has no description", m.Version)
	}
}

func TestLoadMigrationsInitialSchema(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)

	first := migrations[0]
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "init_schema", first.Description)
	assert.Contains(t, first.UpSQL, "CREATE TABLE IF NOT EXISTS spans")
	assert.Contains(t, first.UpSQL, "PRIMARY KEY (span_id, started_at)")
	assert.Contains(t, first.DownSQL, "DROP TABLE IF EXISTS spans")
}
