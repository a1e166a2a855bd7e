// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tombee/autoupdater/internal/commands/shared"
	"github.com/tombee/autoupdater/internal/log"
	"github.com/tombee/autoupdater/internal/scheduler"
	"github.com/tombee/autoupdater/internal/updater"
)

// status is the /status payload and the JSON line printed per check.
type status struct {
	CheckID        string                 `json:"check_id,omitempty"`
	Phase          string                 `json:"phase"`
	Running        bool                   `json:"running"`
	Outcome        string                 `json:"outcome,omitempty"`
	ExitedNormally bool                   `json:"exited_normally"`
	ErrorCode      int                    `json:"error_code"`
	Updates        []updateJSON           `json:"updates"`
	LastChecked    *time.Time             `json:"last_checked,omitempty"`
	Scheduled      []scheduler.TaskStatus `json:"scheduled,omitempty"`
}

type updateJSON struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Size    uint64 `json:"size"`
}

func newStatus(state updater.State) status {
	s := status{
		CheckID:        state.CheckID,
		Phase:          state.Phase.String(),
		Running:        state.Running,
		ExitedNormally: state.ExitedNormally,
		ErrorCode:      state.ErrorCode,
		Updates:        make([]updateJSON, 0, len(state.Updates)),
	}
	if !state.LastChecked.IsZero() {
		s.Outcome = state.Outcome.String()
		lastChecked := state.LastChecked
		s.LastChecked = &lastChecked
	}
	for _, r := range state.Updates {
		s.Updates = append(s.Updates, updateJSON{Name: r.Name, Version: r.Version.String(), Size: r.Size})
	}
	return s
}

// controller is the part of the updater the HTTP endpoints use.
type controller interface {
	State() updater.State
	ScheduledUpdates() []scheduler.TaskStatus
	Check(ctx context.Context) error
}

// newLimiter allows one manual check per minInterval. Zero disables limiting.
func newLimiter(minInterval time.Duration) *rate.Limiter {
	if minInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minInterval), 1)
}

// newHandler serves Prometheus metrics, the updater status and manual
// check requests.
func newHandler(src controller, limiter *rate.Limiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		s := newStatus(src.State())
		s.Scheduled = src.ScheduledUpdates()
		w.Header().Set("Content-Type", "application/json")
		if err := shared.EmitJSON(w, s); err != nil {
			logger.Warn("failed to write status", log.Error(err))
		}
	})
	mux.HandleFunc("POST /check", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "too many check requests", http.StatusTooManyRequests)
			return
		}
		err := src.Check(context.WithoutCancel(r.Context()))
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = shared.EmitJSON(w, map[string]string{"check_id": src.State().CheckID})
		case errors.Is(err, updater.ErrAlreadyRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			logger.Warn("manual check rejected", log.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	})
	return log.HTTPMiddleware(logger, mux)
}
