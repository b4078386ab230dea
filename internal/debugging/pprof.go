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

// Package debugging serves runtime profiles while a long rank job runs.
package debugging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"
	"time"
)

// PprofPortEnv names the environment variable holding the profiling port.
// Profiling is off unless it is set.
const PprofPortEnv = "RANKRUNNER_PPROF_PORT"

// RunPprof serves net/http/pprof on the configured port until ctx is done.
func RunPprof(ctx context.Context) {
	port := pprofPort(os.Getenv(PprofPortEnv))
	if port <= 0 {
		return
	}

	addr := fmt.Sprintf("localhost:%d", port)
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting pprof server", slog.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			slog.Error("Error shutting down pprof server", slog.Any("error", err))
		}
	}()
}

func pprofPort(value string) int {
	switch value {
	case "", "0", "false", "off":
		return 0
	}
	port, err := strconv.Atoi(value)
	if err != nil || port < 0 || port > 65535 {
		slog.Warn("Invalid pprof port, profiling disabled", slog.String("value", value))
		return 0
	}
	return port
}
