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

// Package diskbudget refuses spill runs when the spill filesystem is close
// to full.
package diskbudget

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	// DefaultHighWatermark is the filesystem utilization above which spills
	// are refused.
	DefaultHighWatermark = 0.90
	// DefaultMinFreeBytes is the free space every spill run must leave.
	DefaultMinFreeBytes = 256 * 1024 * 1024
)

// ErrOverBudget is wrapped by every error Check returns for a full disk.
var ErrOverBudget = errors.New("spill filesystem is over its disk budget")

// UsageFunc returns disk usage for the filesystem holding path.
type UsageFunc func(path string) (usedBytes, totalBytes uint64, err error)

// Guard checks a directory against a utilization watermark and a free
// space floor. It is safe for concurrent use by several operators.
type Guard struct {
	highWatermark float64
	minFreeBytes  uint64
	getDiskUsage  UsageFunc

	mu       sync.Mutex
	warnedAt float64
}

// NewGuard returns a Guard. A zero highWatermark or minFreeBytes disables
// that check, and a nil usage uses StatfsUsage.
func NewGuard(highWatermark float64, minFreeBytes uint64, usage UsageFunc) *Guard {
	if usage == nil {
		usage = StatfsUsage
	}
	return &Guard{
		highWatermark: highWatermark,
		minFreeBytes:  minFreeBytes,
		getDiskUsage:  usage,
	}
}

// Check returns an error wrapping ErrOverBudget when dir's filesystem is
// above the watermark or below the free space floor. Failing to read the
// usage is logged and not treated as over budget.
func (g *Guard) Check(dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	used, total, err := g.getDiskUsage(dir)
	if err != nil {
		slog.Warn("Disk budget check failed", slog.String("path", dir), slog.Any("error", err))
		return nil
	}
	if total == 0 {
		return nil
	}

	utilization := float64(used) / float64(total)
	free := total - min(used, total)
	if g.highWatermark > 0 && utilization >= g.highWatermark {
		return fmt.Errorf("%w: %s is %.1f%% full", ErrOverBudget, dir, utilization*100)
	}
	if free < g.minFreeBytes {
		return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrOverBudget, dir, free, g.minFreeBytes)
	}

	// Warn once per ten points of utilization past 70%.
	if step := float64(int(utilization*10)) / 10; step >= 0.7 && step > g.warnedAt {
		g.warnedAt = step
		slog.Warn("Spill filesystem filling up",
			slog.String("path", dir),
			slog.Float64("utilization", utilization),
			slog.Uint64("freeBytes", free))
	}
	return nil
}
