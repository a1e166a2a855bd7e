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

package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// processStarts tracks start attempts by result
	processStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoupdater_process_starts_total",
			Help: "Total maintenance tool start attempts by result",
		},
		[]string{"result"},
	)

	// processStops tracks stop requests
	processStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoupdater_process_stops_total",
			Help: "Total stop requests by mode",
		},
		[]string{"mode"},
	)

	// processKills tracks forced kills after the grace period
	processKills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autoupdater_process_kills_total",
			Help: "Total processes killed after the grace period",
		},
	)
)
