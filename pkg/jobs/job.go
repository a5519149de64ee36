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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
)

// Job is one firmware update run against one host. Its mutable lifecycle
// fields are guarded so the scheduler and the API surface can read them while
// the state machine advances.
type Job struct {
	ID       string
	Hostname string
	Artifact *artifact.Artifact
	Group    string
	DryRun   bool

	CreatedAt time.Time

	canceled atomic.Bool

	mu          sync.Mutex
	state       State
	attempts    int
	lastError   FailureReason
	startedAt   time.Time
	completedAt time.Time
}

// NewJob creates a pending job for the host/artifact pair.
func NewJob(hostname string, art *artifact.Artifact) (*Job, error) {
	if hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}
	if art == nil {
		return nil, fmt.Errorf("artifact is required")
	}

	return &Job{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		Artifact:  art,
		CreatedAt: time.Now(),
		state:     Pending{},
	}, nil
}

// Cancel requests cooperative cancellation. A job already inside maintenance
// mode still exits maintenance before going terminal.
func (j *Job) Cancel() {
	j.canceled.Store(true)
}

// CancelRequested reports whether Cancel has been called.
func (j *Job) CancelRequested() bool {
	return j.canceled.Load()
}

// MarkCanceled moves a job that was never dispatched straight to
// Failed(canceled). Returns false if the job already left Pending; the
// running machine then honors the cancel flag instead.
func (j *Job) MarkCanceled() bool {
	j.canceled.Store(true)

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, pending := j.state.(Pending); !pending {
		return false
	}

	j.state = Failed{Reason: ReasonCanceled}
	j.lastError = ReasonCanceled
	j.completedAt = time.Now()
	return true
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Attempts returns the number of protocol attempts consumed so far.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// Terminal reports whether the job has reached Succeeded or Failed.
func (j *Job) Terminal() bool {
	return j.State().Terminal()
}

// Snapshot is a point-in-time copy of a job's externally visible fields.
type Snapshot struct {
	ID          string
	Hostname    string
	ArtifactID  string
	Group       string
	DryRun      bool
	State       StateName
	Reason      FailureReason
	Attempts    int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Snapshot copies the job's current status.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return Snapshot{
		ID:          j.ID,
		Hostname:    j.Hostname,
		ArtifactID:  j.Artifact.ID,
		Group:       j.Group,
		DryRun:      j.DryRun,
		State:       j.state.Name(),
		Reason:      j.lastError,
		Attempts:    j.attempts,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state = s
	if f, ok := s.(Failed); ok {
		j.lastError = f.Reason
	}
	if s.Terminal() && j.completedAt.IsZero() {
		j.completedAt = time.Now()
	}
}

func (j *Job) markStarted(attempts int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.attempts = attempts
	if j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
}

func (j *Job) setAttempts(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = n
}
