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

package wkk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRowKeyInterning(t *testing.T) {
	a := NewRowKey("partition")
	b := NewRowKey("partition")
	c := NewRowKey("sort")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "partition", RowKeyValue(a))
}

func TestNewRowKeyFromBytes(t *testing.T) {
	assert.Equal(t, RowKeyRowNumber, NewRowKeyFromBytes([]byte("row_number")))
	assert.Equal(t, NewRowKey("uncommon_column"), NewRowKeyFromBytes([]byte("uncommon_column")))
}

func TestRowKeysRoundTrip(t *testing.T) {
	keys := NewRowKeys("p", "s", "d")
	assert.Len(t, keys, 3)
	assert.Equal(t, []string{"p", "s", "d"}, RowKeyValues(keys))
}
