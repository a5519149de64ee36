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
package jobs

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Notification is emitted exactly once per job, when it reaches a terminal
// state.
type Notification struct {
	JobID     string
	Hostname  string
	State     StateName
	Reason    FailureReason
	Attempts  int
	DryRun    bool
	Timestamp time.Time
}

// Notifier receives terminal job notifications.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// LogNotifier writes terminal notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	entry := log.WithFields(log.Fields{
		"job":      n.JobID,
		"host":     n.Hostname,
		"state":    n.State,
		"attempts": n.Attempts,
		"dry_run":  n.DryRun,
	})

	if n.State == StateFailed {
		entry.WithField("reason", n.Reason).Warn("Update job failed")
		return
	}
	entry.Info("Update job succeeded")
}

// MultiNotifier fans a notification out to several receivers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notification) {
	for _, nt := range m {
		nt.Notify(n)
	}
}
