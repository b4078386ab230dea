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

// SpillSignal is consulted after every input batch with the bytes held by
// resident rows. Returning true asks the operator to spill.
type SpillSignal interface {
	ShouldSpill(memoryBytes int64) bool
}

// SpillSignalFunc adapts a function to SpillSignal.
type SpillSignalFunc func(memoryBytes int64) bool

func (f SpillSignalFunc) ShouldSpill(memoryBytes int64) bool { return f(memoryBytes) }

// ThresholdSignal asks for a spill once resident memory exceeds it.
type ThresholdSignal int64

func (t ThresholdSignal) ShouldSpill(memoryBytes int64) bool {
	return t > 0 && memoryBytes > int64(t)
}
