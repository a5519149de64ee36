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
// Package runner provides a small primitive for long-running periodic loops:
// a tagged goroutine that invokes a task on a fixed cadence, supports an
// out-of-band kick, and exposes its lifecycle status.
package runner

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	waiting runnerStatus = iota
	running
	stopping
	stopped
)

type runnerStatus uint32

func (s runnerStatus) String() string {
	switch s {
	case waiting:
		return "waiting"
	case running:
		return "running"
	case stopping:
		return "stopping"
	case stopped:
		return "stopped"
	default:
		return "in unknown state"
	}
}

// TaskFunc is one iteration of the loop. It must honor ctx cancellation.
type TaskFunc func(ctx context.Context)

// A Runner drives a TaskFunc on a fixed interval until stopped. Kick schedules
// an immediate extra iteration without waiting for the next tick.
type Runner struct {
	task     TaskFunc
	interval time.Duration
	tag      string
	status   uint32
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	lastTime time.Time // time of the last transition to running or waiting
}

// New initializes and starts a new runner.
func New(tag string, interval time.Duration, task TaskFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		task:     task,
		interval: interval,
		tag:      tag,
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go r.run(ctx)

	return r
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	log.Info("Runner ", r.tag, " started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		atomic.StoreUint32(&r.status, uint32(waiting))
		r.lastTime = time.Now()

		select {
		case <-ctx.Done():
			atomic.StoreUint32(&r.status, uint32(stopped))
			log.Info("Runner ", r.tag, " stopped")
			return
		case <-ticker.C:
		case <-r.kick:
		}

		atomic.StoreUint32(&r.status, uint32(running))
		r.lastTime = time.Now()
		r.task(ctx)
	}
}

// Kick requests an immediate extra iteration. It never blocks; a pending kick
// is collapsed into one.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for the current iteration to finish.
func (r *Runner) Stop() {
	atomic.StoreUint32(&r.status, uint32(stopping))
	r.cancel()
	<-r.done
}

// Status returns the runner's status.
func (r *Runner) Status() string {
	return runnerStatus(atomic.LoadUint32(&r.status)).String()
}
