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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// pendingTasks tracks live tasks across all schedulers
	pendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoupdater_scheduler_pending_tasks",
			Help: "Number of scheduled tasks that have not fired or been cancelled",
		},
	)

	// firedTasks tracks callback invocations
	firedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoupdater_scheduler_fired_total",
			Help: "Total task firings by policy",
		},
		[]string{"policy"},
	)

	// callbackPanics tracks callbacks that panicked
	callbackPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autoupdater_scheduler_callback_panics_total",
			Help: "Total task callbacks that panicked",
		},
	)
)

// recordFired increments the firing counter
func recordFired(p Policy) {
	firedTasks.WithLabelValues(p.String()).Inc()
}

// recordPanic increments the panic counter
func recordPanic() {
	callbackPanics.Inc()
}
