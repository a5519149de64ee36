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
package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerTicks(t *testing.T) {
	var count atomic.Int64
	r := New("test", 5*time.Millisecond, func(ctx context.Context) {
		count.Add(1)
	})
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return count.Load() >= 3
	}, time.Second, time.Millisecond)
}

func TestRunnerKick(t *testing.T) {
	var count atomic.Int64
	r := New("test", time.Hour, func(ctx context.Context) {
		count.Add(1)
	})
	defer r.Stop()

	// without a kick the hour-long interval would never fire in this test
	r.Kick()
	assert.Eventually(t, func() bool {
		return count.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestRunnerStopWaitsForIteration(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var finished atomic.Bool

	r := New("test", time.Hour, func(ctx context.Context) {
		close(entered)
		<-release
		finished.Store(true)
	})

	r.Kick()
	<-entered

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while the iteration was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	assert.True(t, finished.Load())
	assert.Equal(t, "stopped", r.Status())
}

func TestRunnerStatus(t *testing.T) {
	r := New("test", time.Hour, func(ctx context.Context) {})
	assert.Eventually(t, func() bool {
		return r.Status() == "waiting"
	}, time.Second, time.Millisecond)

	r.Stop()
	assert.Equal(t, "stopped", r.Status())
}
