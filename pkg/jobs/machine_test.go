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
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/hostlock"
	"github.com/firmware-maestro/maestro/pkg/hostregistry"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

type fakeSession struct {
	mu        sync.Mutex
	inventory redfish.Inventory

	uploadErr error
	submitErr error
	rebootErr error

	pollStates []redfish.TaskStatus
	pollIdx    int

	uploads int
	submits int
	reboots int
}

func (s *fakeSession) Inventory(ctx context.Context) (*redfish.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.inventory
	return &inv, nil
}

func (s *fakeSession) UploadImage(ctx context.Context, a *artifact.Artifact) (redfish.ImageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return redfish.ImageHandle(a.Path), nil
}

func (s *fakeSession) SubmitUpdate(ctx context.Context, handle redfish.ImageHandle) (redfish.TaskID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "task-1", nil
}

func (s *fakeSession) PollTask(ctx context.Context, id redfish.TaskID) (redfish.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pollStates) == 0 {
		return redfish.TaskStatus{State: redfish.TaskSucceeded}, nil
	}
	st := s.pollStates[s.pollIdx]
	if s.pollIdx < len(s.pollStates)-1 {
		s.pollIdx++
	}
	return st, nil
}

func (s *fakeSession) Reboot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reboots++
	return s.rebootErr
}

func (s *fakeSession) Close() {}

type fakeClient struct {
	session  *fakeSession
	connects int32
}

func (c *fakeClient) Connect(ctx context.Context, h *host.Host, cred *credential.Credential) (redfish.Session, error) {
	atomic.AddInt32(&c.connects, 1)
	return c.session, nil
}

type fakeCoordinator struct {
	mu         sync.Mutex
	enterErr   error
	enterGate  chan struct{} // when set, EnterMaintenance blocks until closed
	enters     int
	exits      int
	concurrent int32
	maxSeen    int32
}

func (c *fakeCoordinator) EnterMaintenance(ctx context.Context, hostname string) error {
	cur := atomic.AddInt32(&c.concurrent, 1)
	for {
		max := atomic.LoadInt32(&c.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&c.maxSeen, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&c.concurrent, -1)

	c.mu.Lock()
	c.enters++
	gate := c.enterGate
	err := c.enterErr
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *fakeCoordinator) ExitMaintenance(ctx context.Context, hostname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits++
	return nil
}

func (c *fakeCoordinator) SyncGroupAttribute(ctx context.Context, h *host.Host) (string, error) {
	return h.PolicyTag, nil
}

func (c *fakeCoordinator) DiscoverHosts(ctx context.Context) ([]vsphere.DiscoveredHost, error) {
	return nil, nil
}

type captureNotifier struct {
	mu sync.Mutex
	ns []Notification
}

func (n *captureNotifier) Notify(notif Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ns = append(n.ns, notif)
}

type harness struct {
	machine  *Machine
	registry *hostregistry.MemRegistry
	session  *fakeSession
	client   *fakeClient
	coord    *fakeCoordinator
	locks    *hostlock.Manager
	notifier *captureNotifier
	artifact *artifact.Artifact
}

func newHarness(t *testing.T, clustered bool) *harness {
	t.Helper()
	ctx := context.Background()

	art, err := artifact.New("bios-2.0", "PowerEdge", "2.0", strings.Repeat("ab", 32), "http://images/bios-2.0.bin")
	assert.NoError(t, err)

	h, err := host.New("esx-01", "10.0.0.10")
	assert.NoError(t, err)
	if clustered {
		h.VCenter = "vc-01"
		h.Cluster = "prod"
	}

	registry := hostregistry.NewMemRegistry()
	assert.NoError(t, registry.Upsert(ctx, h))

	creds := credentials.NewMemManager()
	assert.NoError(t, creds.Put(ctx, "esx-01", credentials.HostCredentials{
		Controller: credential.New("root", "calvin"),
	}))

	session := &fakeSession{
		inventory: redfish.Inventory{FirmwareVersion: "2.0", Model: "R750", HealthOK: true},
		pollStates: []redfish.TaskStatus{
			{State: redfish.TaskRunning, Progress: 20},
			{State: redfish.TaskSucceeded},
		},
	}
	client := &fakeClient{session: session}
	coord := &fakeCoordinator{}
	locks := hostlock.NewManager(time.Hour)
	notifier := &captureNotifier{}

	machine, err := NewMachine(&MachineConfig{
		Limits: Limits{MaxAttempts: 3, MaxVerifyChecks: 3, RetryDelay: time.Millisecond, LockRetryDelay: time.Millisecond},
		Poll: redfish.Config{
			PollInitialInterval: time.Millisecond,
			PollMaxInterval:     2 * time.Millisecond,
			PollStallCeiling:    10 * time.Millisecond,
		},
		VerifySettle:   time.Millisecond,
		VerifyInterval: time.Millisecond,
		Client:         client,
		Coordinator:    coord,
		Credentials:    creds,
		Locks:          locks,
		Hosts:          registry,
		Notifier:       notifier,
	})
	assert.NoError(t, err)

	return &harness{
		machine:  machine,
		registry: registry,
		session:  session,
		client:   client,
		coord:    coord,
		locks:    locks,
		notifier: notifier,
		artifact: art,
	}
}

func (h *harness) newJob(t *testing.T) *Job {
	t.Helper()
	job, err := NewJob("esx-01", h.artifact)
	assert.NoError(t, err)
	return job
}

func TestMachineSuccessfulUpdate(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, StateSucceeded, final.Name())
	assert.Equal(t, 1, job.Attempts())

	// maintenance bracketed the update
	assert.Equal(t, 1, h.coord.enters)
	assert.Equal(t, 1, h.coord.exits)
	assert.Equal(t, 1, h.session.uploads)
	assert.Equal(t, 1, h.session.submits)
	assert.Equal(t, 1, h.session.reboots)

	// the verified version landed in the registry and the lock is free
	stored, err := h.registry.Get(context.Background(), "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, "2.0", stored.FirmwareVersion)
	assert.Equal(t, host.MaintenanceNone, stored.Maintenance)
	_, held := h.locks.Holder("esx-01")
	assert.False(t, held)

	// exactly one terminal notification
	assert.Len(t, h.notifier.ns, 1)
	assert.Equal(t, StateSucceeded, h.notifier.ns[0].State)
}

func TestMachineChecksumFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, true)
	h.session.uploadErr = redfish.ErrChecksumMismatch
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, Failed{Reason: ReasonChecksum}, final)

	// one upload attempt, no update submission, maintenance exited
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, 1, h.session.uploads)
	assert.Equal(t, 0, h.session.submits)
	assert.Equal(t, 1, h.coord.exits)
}

func TestMachineStuckTaskExhaustsRetries(t *testing.T) {
	h := newHarness(t, true)
	h.session.pollStates = []redfish.TaskStatus{
		{State: redfish.TaskRunning, Progress: 10}, // progress never advances past here
	}
	h.machine.cfg.Poll.PollStallCeiling = 3 * time.Millisecond
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, Failed{Reason: ReasonExhausted}, final)
	assert.Equal(t, 3, job.Attempts())

	// every retry cycle released and re-entered maintenance
	assert.Equal(t, 3, h.coord.enters)
	assert.Equal(t, 3, h.coord.exits)
}

func TestMachineTaskRejectionFails(t *testing.T) {
	h := newHarness(t, true)
	h.session.pollStates = []redfish.TaskStatus{
		{State: redfish.TaskFailed, Reason: "image does not apply to this platform"},
	}
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, Failed{Reason: ReasonUpdateRejected}, final)
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, 1, h.coord.exits)
}

func TestMachineEvacuationFailureLeavesHostAlone(t *testing.T) {
	h := newHarness(t, true)
	h.coord.enterErr = vsphere.ErrEvacuationFailed
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, Failed{Reason: ReasonEvacuation}, final)

	// the update never started and no maintenance exit was needed
	assert.Equal(t, 0, h.session.uploads)
	assert.Equal(t, 0, h.coord.exits)

	stored, err := h.registry.Get(context.Background(), "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, host.MaintenanceNone, stored.Maintenance)
}

func TestMachineTwoJobsSameHostNeverOverlap(t *testing.T) {
	h := newHarness(t, true)
	jobA := h.newJob(t)
	jobB := h.newJob(t)

	var wg sync.WaitGroup
	finals := make([]State, 2)
	for i, job := range []*Job{jobA, jobB} {
		wg.Add(1)
		go func(i int, job *Job) {
			defer wg.Done()
			final, err := h.machine.Run(context.Background(), job)
			assert.NoError(t, err)
			finals[i] = final
		}(i, job)
	}
	wg.Wait()

	assert.Equal(t, StateSucceeded, finals[0].Name())
	assert.Equal(t, StateSucceeded, finals[1].Name())
	// the host lock serialized maintenance entries
	assert.Equal(t, int32(1), h.coord.maxSeen)
	assert.Equal(t, 2, h.coord.enters)
	assert.Equal(t, 2, h.coord.exits)
}

func TestMachineCancelInsideMaintenanceExitsFirst(t *testing.T) {
	h := newHarness(t, true)
	gate := make(chan struct{})
	h.coord.enterGate = gate
	job := h.newJob(t)

	done := make(chan State, 1)
	go func() {
		final, err := h.machine.Run(context.Background(), job)
		assert.NoError(t, err)
		done <- final
	}()

	// wait for the job to block inside EnterMaintenance, then cancel
	assert.Eventually(t, func() bool {
		h.coord.mu.Lock()
		defer h.coord.mu.Unlock()
		return h.coord.enters == 1
	}, time.Second, time.Millisecond)

	job.Cancel()
	close(gate)

	final := <-done
	assert.Equal(t, Failed{Reason: ReasonCanceled}, final)
	assert.Equal(t, 1, h.coord.exits)

	_, held := h.locks.Holder("esx-01")
	assert.False(t, held)
}

func TestMachineLostLeaseFailsWithoutMaintenanceExit(t *testing.T) {
	h := newHarness(t, true)

	// a very short hold so the lease expires while the job is blocked
	short := hostlock.NewManager(10 * time.Millisecond)
	h.machine.cfg.Locks = short
	h.locks = short

	gate := make(chan struct{})
	h.coord.enterGate = gate
	job := h.newJob(t)

	done := make(chan State, 1)
	go func() {
		final, err := h.machine.Run(context.Background(), job)
		assert.NoError(t, err)
		done <- final
	}()

	assert.Eventually(t, func() bool {
		h.coord.mu.Lock()
		defer h.coord.mu.Unlock()
		return h.coord.enters == 1
	}, time.Second, time.Millisecond)

	// after maxHold another holder reclaims the expired lease
	assert.Eventually(t, func() bool {
		_, err := short.Acquire("esx-01", "job-other")
		return err == nil
	}, time.Second, time.Millisecond)
	close(gate)

	final := <-done
	assert.Equal(t, Failed{Reason: ReasonLockExpired}, final)
	// the new holder owns the host, so the loser must not touch maintenance
	assert.Equal(t, 0, h.coord.exits)
}

func TestMachineUnknownHostFailsTerminal(t *testing.T) {
	h := newHarness(t, true)
	job, err := NewJob("esx-99", h.artifact)
	assert.NoError(t, err)

	final, err := h.machine.Run(context.Background(), job)
	assert.Error(t, err)
	assert.Equal(t, Failed{Reason: ReasonUnreachable}, final)

	// the job must not be left Pending: terminal state plus one notification
	snap := job.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ReasonUnreachable, snap.Reason)
	assert.Len(t, h.notifier.ns, 1)
	assert.Equal(t, StateFailed, h.notifier.ns[0].State)
	assert.Equal(t, ReasonUnreachable, h.notifier.ns[0].Reason)
}

func TestMachineMissingCredentialsFailsTerminal(t *testing.T) {
	h := newHarness(t, true)

	other, err := host.New("esx-02", "10.0.0.11")
	assert.NoError(t, err)
	assert.NoError(t, h.registry.Upsert(context.Background(), other))

	job, err := NewJob("esx-02", h.artifact)
	assert.NoError(t, err)

	final, err := h.machine.Run(context.Background(), job)
	assert.Error(t, err)
	assert.Equal(t, Failed{Reason: ReasonUnreachable}, final)

	snap := job.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, ReasonUnreachable, snap.Reason)
	assert.Len(t, h.notifier.ns, 1)
	assert.Equal(t, job.ID, h.notifier.ns[0].JobID)
}

func TestMachineDryRunTouchesNothing(t *testing.T) {
	h := newHarness(t, true)
	job := h.newJob(t)
	job.DryRun = true

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, StateSucceeded, final.Name())

	assert.Equal(t, int32(0), atomic.LoadInt32(&h.client.connects))
	assert.Equal(t, 0, h.coord.enters)
	assert.Equal(t, 0, h.session.uploads)
	assert.Equal(t, 0, h.session.reboots)
}

func TestMachineStandaloneHostSkipsMaintenance(t *testing.T) {
	h := newHarness(t, false)
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, StateSucceeded, final.Name())

	assert.Equal(t, 0, h.coord.enters)
	assert.Equal(t, 0, h.coord.exits)
	assert.Equal(t, 1, h.session.uploads)
}

func TestMachineVerifyRetriesUntilVersionAppears(t *testing.T) {
	h := newHarness(t, true)
	// controller reports the old version until the second check
	h.session.inventory.FirmwareVersion = "1.0"
	job := h.newJob(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.session.mu.Lock()
		h.session.inventory.FirmwareVersion = "2.0"
		h.session.mu.Unlock()
	}()

	h.machine.cfg.VerifyInterval = 10 * time.Millisecond
	h.machine.cfg.Limits.MaxVerifyChecks = 10

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, StateSucceeded, final.Name())
}

func TestMachineVerifyMismatchExhaustsChecks(t *testing.T) {
	h := newHarness(t, true)
	h.session.inventory.FirmwareVersion = "1.0" // never reaches 2.0
	job := h.newJob(t)

	final, err := h.machine.Run(context.Background(), job)
	assert.NoError(t, err)
	assert.Equal(t, Failed{Reason: ReasonVerification}, final)
	assert.Equal(t, 1, h.coord.exits)
}
