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
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/rankrunner/internal/diskbudget"
	"github.com/cardinalhq/rankrunner/internal/filereader"
	"github.com/cardinalhq/rankrunner/internal/rownumber"
)

// Config aggregates configuration for the application.
type Config struct {
	Input  InputConfig  `mapstructure:"input"`
	Spill  SpillConfig  `mapstructure:"spill"`
	Output OutputConfig `mapstructure:"output"`
}

type InputConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// SpillConfig mirrors rownumber.SpillConfig with file and env friendly keys.
type SpillConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Directory       string `mapstructure:"directory"`
	Partitions      int    `mapstructure:"partitions"`
	MaxMemoryBytes  int64  `mapstructure:"max_memory_bytes"`
	TestingSpillPct int    `mapstructure:"testing_spill_pct"`
	Policy          string `mapstructure:"policy"`
	Codec           string `mapstructure:"codec"`
	// MaxDiskUtilization and MinFreeBytes bound the spill filesystem.
	// Zero disables the check.
	MaxDiskUtilization float64 `mapstructure:"max_disk_utilization"`
	MinFreeBytes       uint64  `mapstructure:"min_free_bytes"`
}

type OutputConfig struct {
	PreferredBatchBytes int64  `mapstructure:"preferred_batch_bytes"`
	RowNumberColumn     string `mapstructure:"row_number_column"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{BatchSize: filereader.DefaultBatchSize},
		Spill: SpillConfig{
			Enabled:    true,
			Directory:  os.TempDir(),
			Partitions: rownumber.DefaultNumSpillPartitions,
			Policy:     string(rownumber.SpillAll),
			Codec:      "binary",

			MaxDiskUtilization: diskbudget.DefaultHighWatermark,
			MinFreeBytes:       diskbudget.DefaultMinFreeBytes,
		},
		Output: OutputConfig{
			PreferredBatchBytes: rownumber.DefaultPreferredBatchBytes,
			RowNumberColumn:     rownumber.DefaultRowNumberColumn,
		},
	}
}

// Operator converts the spill settings for rownumber.NewOperator.
func (s SpillConfig) Operator() rownumber.SpillConfig {
	return rownumber.SpillConfig{
		Enabled:            s.Enabled,
		Directory:          s.Directory,
		NumSpillPartitions: s.Partitions,
		MaxMemoryBytes:     s.MaxMemoryBytes,
		TestingSpillPct:    s.TestingSpillPct,
		Policy:             rownumber.SpillPolicy(s.Policy),
		Codec:              s.Codec,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "RANKRUNNER" and the dot character
// in keys is replaced by an underscore. For example, "spill.directory" becomes
// "RANKRUNNER_SPILL_DIRECTORY".
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load using v, so that command line flags bound to v take
// precedence over the environment and config file.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("RANKRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
