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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOneShotSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := map[string]struct {
		at   time.Time
		want time.Time
	}{
		"zero time fires immediately": {
			at:   time.Time{},
			want: now,
		},
		"future time fires then": {
			at:   now.Add(time.Hour),
			want: now.Add(time.Hour),
		},
		"past time fires immediately": {
			at:   now.Add(-time.Hour),
			want: now,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			s := OneShot{At: tc.at}
			assert.Equal(t, tc.want, s.Next(now))
			assert.False(t, s.Recurring())
		})
	}
}

func TestEverySchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := Every{Interval: 15 * time.Minute}
	assert.True(t, s.Recurring())
	assert.Equal(t, now.Add(15*time.Minute), s.Next(now))

	// non-positive interval never fires
	assert.True(t, Every{}.Next(now).IsZero())
}

func TestCronSchedule(t *testing.T) {
	testCases := map[string]struct {
		expr    string
		wantErr bool
	}{
		"nightly at 2am":      {expr: "0 2 * * *"},
		"every sunday":        {expr: "30 3 * * 0"},
		"invalid field count": {expr: "broken", wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			c, err := ParseCron(tc.expr)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, c.Recurring())

			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			next := c.Next(now)
			assert.True(t, next.After(now))
		})
	}
}

func TestCronNightlyFiresAtTwo(t *testing.T) {
	c, err := ParseCron("0 2 * * *")
	assert.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := c.Next(now)
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, 2, next.Day())
}
