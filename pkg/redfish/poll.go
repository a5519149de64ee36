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
	"time"

	log "github.com/sirupsen/logrus"
)

// StuckTaskReason is the stable reason reported when a task stops making
// progress for longer than the configured ceiling.
const StuckTaskReason = "timeout"

// WaitForTask polls an update task until it reaches a terminal state. The
// poll interval starts short and backs off while progress is flat, capped at
// PollMaxInterval. A task that makes no progress for PollStallCeiling is
// reported as TaskFailed with StuckTaskReason rather than waited on forever.
// Transport errors from individual polls propagate to the caller unchanged.
func WaitForTask(ctx context.Context, s Session, id TaskID, cfg Config) (TaskStatus, error) {
	if err := cfg.Validate(); err != nil {
		return TaskStatus{}, err
	}

	interval := cfg.PollInitialInterval
	lastProgress := -1
	lastAdvance := time.Now()

	for {
		status, err := s.PollTask(ctx, id)
		if err != nil {
			return TaskStatus{}, err
		}

		if status.State != TaskRunning {
			return status, nil
		}

		now := time.Now()
		if status.Progress > lastProgress {
			lastProgress = status.Progress
			lastAdvance = now
			interval = cfg.PollInitialInterval
		} else {
			// progress is flat, back the polling off
			interval *= 2
			if interval > cfg.PollMaxInterval {
				interval = cfg.PollMaxInterval
			}
		}

		if now.Sub(lastAdvance) > cfg.PollStallCeiling {
			log.Warnf("update task %s stuck at %d%% for %v, giving up", id, lastProgress, now.Sub(lastAdvance))
			return TaskStatus{State: TaskFailed, Progress: status.Progress, Reason: StuckTaskReason}, nil
		}

		select {
		case <-ctx.Done():
			return TaskStatus{}, ctx.Err()
		case <-time.After(interval):
		}
	}
}
