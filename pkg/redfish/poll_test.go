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
package redfish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
)

// scriptedSession serves a fixed sequence of poll results, repeating the last.
type scriptedSession struct {
	statuses []TaskStatus
	errs     []error
	idx      int
	polls    int
}

func (s *scriptedSession) PollTask(ctx context.Context, id TaskID) (TaskStatus, error) {
	s.polls++
	i := s.idx
	if s.idx < len(s.statuses)-1 {
		s.idx++
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.statuses[i], err
}

func (s *scriptedSession) Inventory(ctx context.Context) (*Inventory, error) { return nil, nil }
func (s *scriptedSession) UploadImage(ctx context.Context, a *artifact.Artifact) (ImageHandle, error) {
	return "", nil
}
func (s *scriptedSession) SubmitUpdate(ctx context.Context, handle ImageHandle) (TaskID, error) {
	return "", nil
}
func (s *scriptedSession) Reboot(ctx context.Context) error { return nil }
func (s *scriptedSession) Close()                           {}

func fastPollConfig() Config {
	return Config{
		PollInitialInterval: time.Millisecond,
		PollMaxInterval:     2 * time.Millisecond,
		PollStallCeiling:    10 * time.Millisecond,
	}
}

func TestWaitForTaskSuccess(t *testing.T) {
	s := &scriptedSession{statuses: []TaskStatus{
		{State: TaskRunning, Progress: 10},
		{State: TaskRunning, Progress: 60},
		{State: TaskSucceeded, Progress: 100},
	}}

	status, err := WaitForTask(context.Background(), s, "task-1", fastPollConfig())
	assert.NoError(t, err)
	assert.Equal(t, TaskSucceeded, status.State)
	assert.Equal(t, 3, s.polls)
}

func TestWaitForTaskFailureIsReported(t *testing.T) {
	s := &scriptedSession{statuses: []TaskStatus{
		{State: TaskRunning, Progress: 10},
		{State: TaskFailed, Reason: "firmware image invalid"},
	}}

	status, err := WaitForTask(context.Background(), s, "task-1", fastPollConfig())
	assert.NoError(t, err)
	assert.Equal(t, TaskFailed, status.State)
	assert.Equal(t, "firmware image invalid", status.Reason)
}

func TestWaitForTaskStallGivesUp(t *testing.T) {
	// progress never moves past the first observation
	s := &scriptedSession{statuses: []TaskStatus{
		{State: TaskRunning, Progress: 42},
	}}

	cfg := fastPollConfig()
	cfg.PollStallCeiling = 5 * time.Millisecond

	status, err := WaitForTask(context.Background(), s, "task-1", cfg)
	assert.NoError(t, err)
	assert.Equal(t, TaskFailed, status.State)
	assert.Equal(t, StuckTaskReason, status.Reason)
	assert.Equal(t, 42, status.Progress)
}

func TestWaitForTaskProgressResetsStallClock(t *testing.T) {
	// each poll advances progress, so the stall ceiling never triggers even
	// though the total runtime exceeds it
	statuses := make([]TaskStatus, 0, 21)
	for p := 0; p <= 95; p += 5 {
		statuses = append(statuses, TaskStatus{State: TaskRunning, Progress: p})
	}
	statuses = append(statuses, TaskStatus{State: TaskSucceeded, Progress: 100})
	s := &scriptedSession{statuses: statuses}

	cfg := fastPollConfig()
	cfg.PollStallCeiling = 5 * time.Millisecond

	status, err := WaitForTask(context.Background(), s, "task-1", cfg)
	assert.NoError(t, err)
	assert.Equal(t, TaskSucceeded, status.State)
}

func TestWaitForTaskPropagatesTransportErrors(t *testing.T) {
	wantErr := errors.New("connection reset")
	s := &scriptedSession{
		statuses: []TaskStatus{{}},
		errs:     []error{wantErr},
	}

	_, err := WaitForTask(context.Background(), s, "task-1", fastPollConfig())
	assert.ErrorIs(t, err, wantErr)
}

func TestWaitForTaskHonorsContext(t *testing.T) {
	s := &scriptedSession{statuses: []TaskStatus{
		{State: TaskRunning, Progress: 10},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	cfg := fastPollConfig()
	cfg.PollStallCeiling = time.Hour

	_, err := WaitForTask(ctx, s, "task-1", cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigValidateDefaults(t *testing.T) {
	var c Config
	assert.NoError(t, c.Validate())
	assert.Greater(t, c.ConnectTimeout, time.Duration(0))
	assert.NotZero(t, c.RequestAttempts)
	assert.GreaterOrEqual(t, c.PollMaxInterval, c.PollInitialInterval)
}

var _ Session = (*scriptedSession)(nil)
