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

// Package idgen generates identifiers for operator instances and spill files.
package idgen

import (
	"errors"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

var (
	defaultFlakeOnce sync.Once
	defaultFlake     *SonyFlakeGenerator
)

// SonyFlakeGenerator hands out roughly time-ordered 63-bit IDs.
type SonyFlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewFlakeGenerator returns a generator whose machine ID is derived from
// the process ID, so it works on hosts without a private IPv4 address.
func NewFlakeGenerator() (*SonyFlakeGenerator, error) {
	return newFlakeGenerator(func() (uint16, error) {
		return uint16(os.Getpid()), nil
	})
}

func newFlakeGenerator(machineID func() (uint16, error)) (*SonyFlakeGenerator, error) {
	settings := sonyflake.Settings{
		StartTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: machineID,
	}

	sf, err := sonyflake.New(settings)
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &SonyFlakeGenerator{sf: sf}, nil
}

// NextID returns the next ID. If the generator is exhausted it falls back
// to a random positive value.
func (g *SonyFlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64()
	}
	return int64(v)
}

// NextOperatorID returns a new ID from the process-wide generator.
func NextOperatorID() int64 {
	defaultFlakeOnce.Do(func() {
		g, err := NewFlakeGenerator()
		if err == nil {
			defaultFlake = g
		}
	})
	if defaultFlake == nil {
		return rand.Int64()
	}
	return defaultFlake.NextID()
}
