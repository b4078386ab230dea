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

package cbor

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rankrunner/pipeline"
	"github.com/cardinalhq/rankrunner/pipeline/wkk"
)

func TestNewConfig(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	require.NotNil(t, config)
	require.NotNil(t, config.encMode)
	require.NotNil(t, config.decMode)
}

func TestCBOR_ValuesKeepTheirType(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	testCases := []struct {
		name  string
		value any
	}{
		{"string", "test_string"},
		{"empty_string", ""},
		{"bool_true", true},
		{"bool_false", false},
		{"nil", nil},
		{"int", int(-123456)},
		{"int8", int8(-8)},
		{"int16", int16(-7)},
		{"int32", int32(-2147483648)},
		{"int64_max", int64(math.MaxInt64)},
		{"int64_min", int64(math.MinInt64)},
		{"uint", uint(4000000007)},
		{"uint8", uint8(200)},
		{"uint16", uint16(65000)},
		{"uint32_max", uint32(4294967295)},
		{"uint64_max", uint64(math.MaxUint64)},
		{"float32", float32(3.14)},
		{"float64", float64(-2.71828)},
		{"float64_inf", math.Inf(1)},
		{"negative_zero", math.Copysign(0, -1)},
		{"bytes", []byte{0x01, 0xFF}},
		{"empty_bytes", []byte{}},
		{"nil_bytes", []byte(nil)},
		{"time_utc", time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key := wkk.NewRowKey("v")
			data, err := config.EncodeRow(pipeline.Row{key: tc.value})
			require.NoError(t, err)

			decoded, err := config.DecodeRow(data)
			require.NoError(t, err)
			require.Contains(t, decoded, key)
			assert.IsType(t, tc.value, decoded[key])
			assert.Equal(t, tc.value, decoded[key])
		})
	}
}

func TestCBOR_NaN(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	key := wkk.NewRowKey("v")

	data, err := config.EncodeRow(pipeline.Row{key: math.NaN()})
	require.NoError(t, err)
	decoded, err := config.DecodeRow(data)
	require.NoError(t, err)
	f, ok := decoded[key].(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))
}

func TestCBOR_TimeKeepsZoneOffset(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	key := wkk.NewRowKey("ts")
	ts := time.Date(2025, 6, 1, 12, 30, 0, 42, time.FixedZone("PDT", -7*3600))

	data, err := config.EncodeRow(pipeline.Row{key: ts})
	require.NoError(t, err)
	decoded, err := config.DecodeRow(data)
	require.NoError(t, err)

	got, ok := decoded[key].(time.Time)
	require.True(t, ok, "expected time.Time, got %T", decoded[key])
	assert.True(t, ts.Equal(got))
	assert.Equal(t, ts.Format(time.RFC3339Nano), got.Format(time.RFC3339Nano))
}

func TestCBOR_UnsupportedType(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	_, err = config.EncodeRow(pipeline.Row{wkk.NewRowKey("bad"): struct{}{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "bad"`)
}

func TestCBOR_StreamingDecoder(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := config.NewEncoder(&buf)
	for i := range 5 {
		require.NoError(t, EncodeRowTo(enc, pipeline.Row{wkk.NewRowKey("i"): int64(i)}))
	}

	dec := config.NewDecoder(&buf)
	for i := range 5 {
		row, err := DecodeRowFrom(dec)
		require.NoError(t, err)
		assert.Equal(t, int64(i), row[wkk.NewRowKey("i")])
	}
	_, err = DecodeRowFrom(dec)
	assert.ErrorIs(t, err, io.EOF)
}
