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
// Package scheduler queues update jobs and dispatches them under two
// concurrency ceilings: a global in-flight maximum and a per-policy-group
// maximum. Jobs past their due time but over a ceiling simply stay queued.
// Recurring submissions fire on cron or interval schedules and are skipped
// while the previous firing is still running.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/firmware-maestro/maestro/pkg/common/runner"
	"github.com/firmware-maestro/maestro/pkg/jobs"
)

// JobFactory mints a fresh job for one firing of a recurring submission.
type JobFactory func() (*jobs.Job, error)

// Config tunes the scheduler's concurrency ceilings and dispatch cadence.
type Config struct {
	// MaxConcurrent bounds jobs running at once across all groups.
	MaxConcurrent int64
	// GroupLimit bounds jobs running at once within one policy group;
	// zero disables the per-group ceiling.
	GroupLimit int
	// TickInterval is the dispatch loop cadence.
	TickInterval time.Duration

	Machine *jobs.Machine
}

// Validate fills defaults and checks required fields.
func (c *Config) Validate() error {
	if c.Machine == nil {
		return fmt.Errorf("job machine is required")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	return nil
}

// pendingItem is one queued job awaiting dispatch. seq breaks ties between
// items due at the same instant, preserving submission order.
type pendingItem struct {
	job   *jobs.Job
	due   time.Time
	seq   uint64
	entry string // owning recurring entry, if any
}

// recurringEntry is one named recurring submission.
type recurringEntry struct {
	name     string
	schedule Schedule
	factory  JobFactory
	next     time.Time
	inFlight bool
}

// Scheduler owns the job queue and the dispatch loop.
type Scheduler struct {
	cfg *Config
	sem *semaphore.Weighted

	mu        sync.Mutex
	queue     []*pendingItem
	recurring map[string]*recurringEntry
	active    map[string]*jobs.Job
	byID      map[string]*jobs.Job
	perGroup  map[string]int
	seq       uint64

	loop   *runner.Runner
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

// New creates and starts a scheduler.
func New(cfg *Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		recurring: make(map[string]*recurringEntry),
		active:    make(map[string]*jobs.Job),
		byID:      make(map[string]*jobs.Job),
		perGroup:  make(map[string]int),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}

	s.loop = runner.New("scheduler", cfg.TickInterval, s.tick)
	return s, nil
}

// Stop halts the dispatch loop, cancels in-flight jobs, and waits for them to
// wind down (canceled jobs still exit maintenance mode first).
func (s *Scheduler) Stop() {
	s.loop.Stop()
	s.cancel()
	s.wg.Wait()
}

// Submit queues a one-shot job. A zero due time means dispatch on the next
// tick.
func (s *Scheduler) Submit(job *jobs.Job, due time.Time) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	s.mu.Lock()
	if _, dup := s.byID[job.ID]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %s already submitted", job.ID)
	}
	s.seq++
	if due.IsZero() {
		due = s.now()
	}
	s.queue = append(s.queue, &pendingItem{job: job, due: due, seq: s.seq})
	s.byID[job.ID] = job
	s.mu.Unlock()

	s.loop.Kick()
	return nil
}

// SubmitRecurring registers a named recurring submission. Each firing mints a
// fresh job via the factory; a firing is skipped while the previous one is
// still running.
func (s *Scheduler) SubmitRecurring(name string, schedule Schedule, factory JobFactory) error {
	if name == "" {
		return fmt.Errorf("recurring submission name is required")
	}
	if schedule == nil || factory == nil {
		return fmt.Errorf("schedule and job factory are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.recurring[name]; dup {
		return fmt.Errorf("recurring submission %s already registered", name)
	}

	s.recurring[name] = &recurringEntry{
		name:     name,
		schedule: schedule,
		factory:  factory,
		next:     schedule.Next(s.now()),
	}
	return nil
}

// CancelRecurring deregisters a recurring submission. An in-flight firing
// keeps running.
func (s *Scheduler) CancelRecurring(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recurring[name]; !ok {
		return false
	}
	delete(s.recurring, name)
	return true
}

// Cancel requests cancellation of a job. A queued job goes terminal
// immediately; a running job is canceled cooperatively. Returns false for
// unknown or already terminal jobs.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()

	for i, it := range s.queue {
		if it.job.ID != jobID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		terminal := it.job.MarkCanceled()
		if e, ok := s.recurring[it.entry]; ok {
			e.inFlight = false
		}
		s.mu.Unlock()

		// a queued job never reaches the machine, so its terminal
		// notification is emitted here; receivers may call back into the
		// scheduler, so this happens outside the mutex
		if terminal {
			s.cfg.Machine.NotifyTerminal(it.job)
		}
		return true
	}

	if job, ok := s.active[jobID]; ok {
		job.Cancel()
		s.mu.Unlock()
		return true
	}

	if job, ok := s.byID[jobID]; ok && !job.Terminal() {
		job.Cancel()
		s.mu.Unlock()
		return true
	}

	s.mu.Unlock()
	return false
}

// Job looks up a submitted job by ID.
func (s *Scheduler) Job(jobID string) (*jobs.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	return j, ok
}

// Jobs snapshots every job the scheduler has seen, newest first.
func (s *Scheduler) Jobs() []jobs.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := make([]jobs.Snapshot, 0, len(s.byID))
	for _, j := range s.byID {
		snaps = append(snaps, j.Snapshot())
	}
	sort.Slice(snaps, func(i, k int) bool {
		return snaps[i].CreatedAt.After(snaps[k].CreatedAt)
	})
	return snaps
}

// Kick requests an immediate dispatch pass.
func (s *Scheduler) Kick() {
	s.loop.Kick()
}

// tick is one pass of the dispatch loop: fire due recurring entries into the
// queue, then dispatch due items oldest-first under both ceilings.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()

	s.fireRecurring(now)

	sort.Slice(s.queue, func(i, k int) bool {
		if !s.queue[i].due.Equal(s.queue[k].due) {
			return s.queue[i].due.Before(s.queue[k].due)
		}
		return s.queue[i].seq < s.queue[k].seq
	})

	var kept []*pendingItem
	globalFull := false
	for _, it := range s.queue {
		if it.job.Terminal() {
			// canceled while queued
			if e, ok := s.recurring[it.entry]; ok {
				e.inFlight = false
			}
			continue
		}
		if it.due.After(now) || globalFull {
			kept = append(kept, it)
			continue
		}
		if s.cfg.GroupLimit > 0 && it.job.Group != "" && s.perGroup[it.job.Group] >= s.cfg.GroupLimit {
			kept = append(kept, it)
			continue
		}
		if !s.sem.TryAcquire(1) {
			globalFull = true
			kept = append(kept, it)
			continue
		}
		s.dispatchLocked(it)
	}
	s.queue = kept

	s.mu.Unlock()
}

// fireRecurring pushes due recurring firings into the queue. Callers hold the
// mutex.
func (s *Scheduler) fireRecurring(now time.Time) {
	for name, e := range s.recurring {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}

		due := e.next
		e.next = e.schedule.Next(now)
		if !e.schedule.Recurring() {
			e.next = time.Time{}
		}

		if e.inFlight {
			log.WithField("schedule", name).Info("Previous firing still running, skipping this one")
			continue
		}

		job, err := e.factory()
		if err != nil {
			log.WithField("schedule", name).WithError(err).Error("Could not mint recurring job")
			continue
		}

		s.seq++
		s.queue = append(s.queue, &pendingItem{job: job, due: due, seq: s.seq, entry: name})
		s.byID[job.ID] = job
		e.inFlight = true
	}
}

// dispatchLocked hands one item to a worker goroutine. Callers hold the mutex
// and have already acquired a semaphore slot.
func (s *Scheduler) dispatchLocked(it *pendingItem) {
	job := it.job
	s.active[job.ID] = job
	if job.Group != "" {
		s.perGroup[job.Group]++
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		if _, err := s.cfg.Machine.Run(s.ctx, job); err != nil {
			log.WithFields(log.Fields{
				"job":  job.ID,
				"host": job.Hostname,
			}).WithError(err).Error("Job could not run")
		}

		s.mu.Lock()
		delete(s.active, job.ID)
		if job.Group != "" {
			s.perGroup[job.Group]--
		}
		if e, ok := s.recurring[it.entry]; ok {
			e.inFlight = false
		}
		s.mu.Unlock()

		// capacity freed, pull the next queued item without waiting a tick
		s.loop.Kick()
	}()
}

// Active returns the number of jobs currently running.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// QueueDepth returns the number of jobs awaiting dispatch.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
