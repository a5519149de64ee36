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
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

// Schedule computes firing times for a recurring or one-shot submission.
type Schedule interface {
	// Next returns the first firing time strictly after the given instant.
	// A zero time means the schedule never fires again.
	Next(after time.Time) time.Time
	// Recurring reports whether the schedule fires more than once.
	Recurring() bool
}

// OneShot fires once at At; a zero At means fire immediately.
type OneShot struct {
	At time.Time
}

func (o OneShot) Next(after time.Time) time.Time {
	if o.At.IsZero() || o.At.Before(after) {
		return after
	}
	return o.At
}

func (OneShot) Recurring() bool { return false }

// Every fires on a fixed interval.
type Every struct {
	Interval time.Duration
}

func (e Every) Next(after time.Time) time.Time {
	if e.Interval <= 0 {
		return time.Time{}
	}
	return after.Add(e.Interval)
}

func (Every) Recurring() bool { return true }

// Cron fires per a standard five-field cron expression.
type Cron struct {
	expr  string
	sched cron.Schedule
}

// ParseCron parses a standard cron expression into a Schedule.
func ParseCron(expr string) (Cron, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Cron{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Cron{expr: expr, sched: sched}, nil
}

func (c Cron) Next(after time.Time) time.Time {
	if c.sched == nil {
		return time.Time{}
	}
	return c.sched.Next(after)
}

func (Cron) Recurring() bool { return true }

func (c Cron) String() string { return c.expr }
