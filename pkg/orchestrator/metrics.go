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
package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	JobsSubmitted *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	ActiveJobs    prometheus.GaugeFunc
	QueuedJobs    prometheus.GaugeFunc
}

// NewMetrics creates and registers the collectors. The gauge callbacks read
// live scheduler depth.
func NewMetrics(reg prometheus.Registerer, active, queued func() float64) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "jobs_submitted_total",
			Help:      "Update jobs submitted, by dry_run.",
		}, []string{"dry_run"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "jobs_completed_total",
			Help:      "Update jobs reaching a terminal state, by result.",
		}, []string{"result"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "jobs_failed_total",
			Help:      "Failed update jobs, by failure reason.",
		}, []string{"reason"}),
		ActiveJobs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "jobs_active",
			Help:      "Update jobs currently running.",
		}, active),
		QueuedJobs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "jobs_queued",
			Help:      "Update jobs awaiting dispatch.",
		}, queued),
	}

	reg.MustRegister(m.JobsSubmitted, m.JobsCompleted, m.JobsFailed, m.ActiveJobs, m.QueuedJobs)
	return m
}
