// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/internal/rownumber"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Spill.Operator().Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RANKRUNNER_SPILL_ENABLED", "false")
	t.Setenv("RANKRUNNER_SPILL_DIRECTORY", "/var/spill")
	t.Setenv("RANKRUNNER_SPILL_PARTITIONS", "32")
	t.Setenv("RANKRUNNER_SPILL_MAX_MEMORY_BYTES", "1048576")
	t.Setenv("RANKRUNNER_SPILL_POLICY", "largest")
	t.Setenv("RANKRUNNER_OUTPUT_ROW_NUMBER_COLUMN", "rank")
	t.Setenv("RANKRUNNER_INPUT_BATCH_SIZE", "250")
	t.Setenv("RANKRUNNER_SPILL_MAX_DISK_UTILIZATION", "0.5")
	t.Setenv("RANKRUNNER_SPILL_MIN_FREE_BYTES", "1024")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Spill.Enabled)
	assert.Equal(t, "/var/spill", cfg.Spill.Directory)
	assert.Equal(t, 32, cfg.Spill.Partitions)
	assert.Equal(t, int64(1048576), cfg.Spill.MaxMemoryBytes)
	assert.Equal(t, "rank", cfg.Output.RowNumberColumn)
	assert.Equal(t, 250, cfg.Input.BatchSize)
	assert.InDelta(t, 0.5, cfg.Spill.MaxDiskUtilization, 1e-9)
	assert.Equal(t, uint64(1024), cfg.Spill.MinFreeBytes)

	op := cfg.Spill.Operator()
	assert.Equal(t, rownumber.SpillLargestFirst, op.Policy)
	assert.Equal(t, 32, op.NumSpillPartitions)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "spill:\n  codec: cbor\n  testing_spill_pct: 25\noutput:\n  preferred_batch_bytes: 4096\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cbor", cfg.Spill.Codec)
	assert.Equal(t, 25, cfg.Spill.TestingSpillPct)
	assert.Equal(t, int64(4096), cfg.Output.PreferredBatchBytes)
	assert.True(t, cfg.Spill.Enabled)
}

func TestLoadFromExplicitValuesWin(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RANKRUNNER_SPILL_CODEC", "gob")

	v := viper.New()
	v.Set("spill.codec", "cbor")
	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "cbor", cfg.Spill.Codec)
}
