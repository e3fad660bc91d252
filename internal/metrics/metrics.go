/*
 * SPDX-FileCopyrightText: Copyright (c) 2026 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exposes counters for transient errors (JWKS fetch
// failures absorbed by the fail-soft grace window are otherwise invisible
// to any message), plus enough cache and rebuild visibility to operate
// the component in production.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter and gauge this component registers. The
// component never starts its own HTTP server for these; the caller supplies
// a prometheus.Registerer (the flow host's own registry), or nil, as the CLI
// harness does, to create the collectors without registering them.
type Metrics struct {
	TransientErrorsAbsorbed prometheus.Counter
	SingleFlightCollapsed   prometheus.Counter
	RebuildTotal            prometheus.Counter
	RebuildDuration         prometheus.Histogram
	CacheEntriesLive        prometheus.Gauge
}

// New registers a fresh Metrics set against reg. A nil reg is accepted for
// tests and for call sites that do not care about metrics wiring; the
// collectors are still created, just never exposed.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransientErrorsAbsorbed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowauth",
			Subsystem: "jwks_cache",
			Name:      "transient_errors_absorbed_total",
			Help:      "JWKS refresh failures served from the fail-soft grace window instead of failing a message.",
		}),
		SingleFlightCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowauth",
			Subsystem: "jwks_cache",
			Name:      "single_flight_collapsed_total",
			Help:      "Concurrent JWKS refresh requests that joined an in-flight fetch instead of issuing a new one.",
		}),
		RebuildTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flowauth",
			Subsystem: "registry",
			Name:      "rebuild_total",
			Help:      "Issuer registry snapshot rebuilds performed.",
		}),
		RebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowauth",
			Subsystem: "registry",
			Name:      "rebuild_duration_seconds",
			Help:      "Time spent rebuilding the issuer registry snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheEntriesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowauth",
			Subsystem: "jwks_cache",
			Name:      "entries_live",
			Help:      "Number of issuers registered with the JWKS cache by the last registry rebuild.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.TransientErrorsAbsorbed,
			m.SingleFlightCollapsed,
			m.RebuildTotal,
			m.RebuildDuration,
			m.CacheEntriesLive,
		)
	}

	return m
}
