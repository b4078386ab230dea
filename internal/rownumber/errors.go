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
)

var (
	// ErrSpillDisabled is returned when memory pressure requires a spill
	// but spilling is not enabled.
	ErrSpillDisabled = errors.New("spilling required but disabled")

	// ErrOperatorFinished is returned when input arrives after NoMoreInput
	// or Close.
	ErrOperatorFinished = errors.New("operator no longer accepts input")
)

// DataError reports a value the operator cannot rank or partition on.
type DataError struct {
	Column string
	Msg    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Msg)
}
