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

package rownumber

import (
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/rankrunner/internal/spillers"
)

// DefaultRowNumberColumn is used when Config.RowNumberColumn is empty.
const DefaultRowNumberColumn = "row_number"

// DefaultNumSpillPartitions is used when SpillConfig.NumSpillPartitions is zero.
const DefaultNumSpillPartitions = 8

// MaxNumSpillPartitions bounds SpillConfig.NumSpillPartitions.
const MaxNumSpillPartitions = 256

// ErrInvalidConfig is matched by every *ConfigError.
var ErrInvalidConfig = errors.New("invalid row number configuration")

// ConfigError describes a rejected Config or SpillConfig.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return e.Msg }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

func configError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// SortOrder is the direction and null placement of one sort key. The zero
// value is ascending with nulls last.
type SortOrder struct {
	Descending bool
	NullsFirst bool
}

func (o SortOrder) String() string {
	dir := "ASC"
	if o.Descending {
		dir = "DESC"
	}
	nulls := "NULLS LAST"
	if o.NullsFirst {
		nulls = "NULLS FIRST"
	}
	return dir + " " + nulls
}

// SortKey orders rows within a partition by one column.
type SortKey struct {
	Column string
	Order  SortOrder
}

func (k SortKey) String() string {
	return k.Column + " " + k.Order.String()
}

// ParseSortKey parses "column [asc|desc] [nulls first|nulls last]",
// case-insensitively.
func ParseSortKey(s string) (SortKey, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return SortKey{}, fmt.Errorf("empty sort key")
	}
	key := SortKey{Column: fields[0]}
	rest := fields[1:]
	if len(rest) > 0 {
		switch strings.ToLower(rest[0]) {
		case "asc":
			rest = rest[1:]
		case "desc":
			key.Order.Descending = true
			rest = rest[1:]
		}
	}
	switch {
	case len(rest) == 0:
	case len(rest) == 2 && strings.EqualFold(rest[0], "nulls") && strings.EqualFold(rest[1], "first"):
		key.Order.NullsFirst = true
	case len(rest) == 2 && strings.EqualFold(rest[0], "nulls") && strings.EqualFold(rest[1], "last"):
	default:
		return SortKey{}, fmt.Errorf("invalid sort key %q", s)
	}
	return key, nil
}

// Config describes what the operator computes.
type Config struct {
	// PartitionKeys may be empty, in which case all rows share one partition.
	PartitionKeys []string
	SortKeys      []SortKey
	// Limit is the maximum number of rows kept per partition.
	Limit int
	// GenerateRowNumber adds the 1-based rank to every output row.
	GenerateRowNumber bool
	RowNumberColumn   string
}

func (c Config) rowNumberColumn() string {
	if c.RowNumberColumn == "" {
		return DefaultRowNumberColumn
	}
	return c.RowNumberColumn
}

// Validate checks c and returns a *ConfigError for the first problem found.
func (c Config) Validate() error {
	partitionSet := mapset.NewThreadUnsafeSet[string]()
	for _, key := range c.PartitionKeys {
		if !partitionSet.Add(key) {
			return configError("PartitionKeys", "Partitioning keys must be unique. Found duplicate key: %s", key)
		}
	}

	if len(c.SortKeys) == 0 {
		return configError("SortKeys", "Number of sorting keys must be greater than zero")
	}

	sortSet := mapset.NewThreadUnsafeSet[string]()
	for _, key := range c.SortKeys {
		if partitionSet.ContainsOne(key.Column) || !sortSet.Add(key.Column) {
			return configError("SortKeys", "Sorting keys must be unique and not overlap with partitioning keys. Found duplicate key: %s", key.Column)
		}
	}

	if c.Limit <= 0 {
		return configError("Limit", "Limit must be greater than zero")
	}

	if c.GenerateRowNumber {
		col := c.rowNumberColumn()
		if partitionSet.ContainsOne(col) || sortSet.ContainsOne(col) {
			return configError("RowNumberColumn", "Row number column must not be a partitioning or sorting key: %s", col)
		}
	}
	return nil
}

// SpillPolicy selects which resident partitions a spill writes out.
type SpillPolicy string

const (
	// SpillAll writes every resident partition.
	SpillAll SpillPolicy = "all"
	// SpillLargestFirst writes the largest partitions until resident memory
	// drops to half of the threshold.
	SpillLargestFirst SpillPolicy = "largest"
)

// SpillConfig controls when and where the operator spills.
type SpillConfig struct {
	Enabled   bool
	Directory string
	// NumSpillPartitions is the number of hash buckets spilled partitions
	// are spread over.
	NumSpillPartitions int
	// MaxMemoryBytes triggers a spill when resident rows exceed it. Zero
	// disables the threshold.
	MaxMemoryBytes int64
	// TestingSpillPct is the percentage of input batches after which a spill
	// is forced. It only applies when spilling is enabled.
	TestingSpillPct int
	Policy          SpillPolicy
	// Codec names the spills encoding; see spillers.New.
	Codec string
}

func (s SpillConfig) withDefaults() SpillConfig {
	if s.NumSpillPartitions == 0 {
		s.NumSpillPartitions = DefaultNumSpillPartitions
	}
	if s.Policy == "" {
		s.Policy = SpillAll
	}
	if s.Codec == "" {
		s.Codec = spillers.CodecBinary
	}
	return s
}

// Validate checks s after defaults are applied.
func (s SpillConfig) Validate() error {
	s = s.withDefaults()
	if s.NumSpillPartitions < 1 || s.NumSpillPartitions > MaxNumSpillPartitions {
		return configError("NumSpillPartitions", "Number of spill partitions must be between 1 and %d, got %d", MaxNumSpillPartitions, s.NumSpillPartitions)
	}
	if s.TestingSpillPct < 0 || s.TestingSpillPct > 100 {
		return configError("TestingSpillPct", "Testing spill percentage must be between 0 and 100, got %d", s.TestingSpillPct)
	}
	if s.MaxMemoryBytes < 0 {
		return configError("MaxMemoryBytes", "Max memory bytes must not be negative")
	}
	switch s.Policy {
	case SpillAll, SpillLargestFirst:
	default:
		return configError("Policy", "Unknown spill policy: %s", s.Policy)
	}
	switch strings.ToLower(s.Codec) {
	case spillers.CodecBinary, spillers.CodecCBOR, spillers.CodecGob:
	default:
		return configError("Codec", "Unknown spill codec: %s", s.Codec)
	}
	if s.Enabled && s.Directory == "" {
		return configError("Directory", "Spill directory is required when spilling is enabled")
	}
	return nil
}
