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

package updater

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// checksTotal tracks completed checks by outcome
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoupdater_checks_total",
			Help: "Total completed update checks by outcome",
		},
		[]string{"outcome"},
	)

	// checksRejected tracks check requests that were not started
	checksRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoupdater_checks_rejected_total",
			Help: "Total update check requests rejected by reason",
		},
		[]string{"reason"},
	)

	// checkDuration tracks how long the tool ran
	checkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autoupdater_check_duration_seconds",
			Help:    "Duration of update checks in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// checkRunning is 1 while a check is in flight
	checkRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoupdater_check_running",
			Help: "Whether an update check is currently running",
		},
	)
)

// recordCheckDone records a completed check
func recordCheckDone(kind OutcomeKind, d time.Duration) {
	checksTotal.WithLabelValues(kind.String()).Inc()
	checkDuration.Observe(d.Seconds())
	checkRunning.Set(0)
}

// recordRejected records a rejected check request
func recordRejected(reason string) {
	checksRejected.WithLabelValues(reason).Inc()
}
