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
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/hostlock"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

// HostStore is the slice of the host registry the state machine writes back
// to: maintenance transitions, verified firmware versions, and status text.
type HostStore interface {
	Get(ctx context.Context, hostname string) (*host.Host, error)
	SetMaintenance(ctx context.Context, hostname string, state host.MaintenanceState) error
	SetFirmwareVersion(ctx context.Context, hostname, version string) error
	SetMessage(ctx context.Context, hostname, message string) error
}

// MachineConfig wires the state machine's collaborators.
type MachineConfig struct {
	Limits Limits
	Poll   redfish.Config

	// VerifySettle is waited after a reboot before the first version check;
	// VerifyInterval spaces subsequent checks.
	VerifySettle   time.Duration
	VerifyInterval time.Duration

	Client      redfish.Client
	Coordinator vsphere.Coordinator
	Credentials credentials.Manager
	Locks       *hostlock.Manager
	Hosts       HostStore
	Notifier    Notifier
}

// Validate checks required collaborators and fills defaults.
func (c *MachineConfig) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Poll.Validate(); err != nil {
		return err
	}
	if c.Client == nil {
		return fmt.Errorf("protocol client is required")
	}
	if c.Coordinator == nil {
		return fmt.Errorf("maintenance coordinator is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credential manager is required")
	}
	if c.Locks == nil {
		return fmt.Errorf("lock manager is required")
	}
	if c.Hosts == nil {
		return fmt.Errorf("host store is required")
	}
	if c.Notifier == nil {
		c.Notifier = NopNotifier{}
	}
	if c.VerifySettle <= 0 {
		c.VerifySettle = 30 * time.Second
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = 15 * time.Second
	}
	return nil
}

// Machine drives jobs from Pending to a terminal state. All decisions go
// through the pure Transition function; the machine only performs the side
// effects each state calls for and feeds back the observed outcome.
type Machine struct {
	cfg *MachineConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMachine creates a job executor.
func NewMachine(cfg *MachineConfig) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Machine{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run carries the per-execution mutable context of one job.
type run struct {
	job  *Job
	h    *host.Host
	cred *credentials.HostCredentials

	token    hostlock.Token
	holding  bool
	inMaint  bool
	session  redfish.Session
	attempts int

	// set when the pending Retrying state came from a transient failure, so
	// the re-entry into AcquiringLock consumes another attempt
	countRetry bool
}

// Run executes the job until it reaches a terminal state and returns that
// state. The error return is reserved for broken wiring (missing host,
// missing credentials); protocol failures surface as Failed states.
func (m *Machine) Run(ctx context.Context, job *Job) (State, error) {
	logger := log.WithFields(log.Fields{
		"job":      job.ID,
		"host":     job.Hostname,
		"artifact": job.Artifact.ID,
		"dry_run":  job.DryRun,
	})

	h, err := m.cfg.Hosts.Get(ctx, job.Hostname)
	if err != nil {
		return m.failStartup(ctx, job, fmt.Errorf("could not resolve host %s: %w", job.Hostname, err), logger)
	}

	r := &run{job: job, h: h, attempts: 1}
	job.markStarted(r.attempts)

	if !job.DryRun {
		cred, err := m.cfg.Credentials.Get(ctx, job.Hostname)
		if err != nil {
			return m.failStartup(ctx, job, fmt.Errorf("could not resolve credentials for %s: %w", job.Hostname, err), logger)
		}
		r.cred = cred
	}

	defer m.cleanup(r)

	state := job.State()
	for !state.Terminal() {
		if ev, interrupted := m.interruption(ctx, r, state); interrupted {
			state = m.advance(r, state, ev, logger)
			continue
		}

		ev := m.step(ctx, r, state, logger)
		state = m.advance(r, state, ev, logger)
	}

	m.finish(ctx, r, state, logger)
	return state, nil
}

// failStartup moves a job whose collaborators could not be resolved to
// Failed(unreachable). The job still gets its terminal notification; only the
// error return tells the dispatcher the run never started.
func (m *Machine) failStartup(ctx context.Context, job *Job, err error, logger *log.Entry) (State, error) {
	logger.WithError(err).Error("Job could not start")

	st := Failed{Reason: ReasonUnreachable}
	job.setState(st)
	m.finish(ctx, &run{job: job}, st, logger)
	return st, err
}

// NotifyTerminal emits the terminal notification for a job finished outside
// the machine, such as a queued job canceled before dispatch.
func (m *Machine) NotifyTerminal(job *Job) {
	snap := job.Snapshot()
	m.cfg.Notifier.Notify(Notification{
		JobID:     snap.ID,
		Hostname:  snap.Hostname,
		State:     snap.State,
		Reason:    snap.Reason,
		Attempts:  snap.Attempts,
		DryRun:    snap.DryRun,
		Timestamp: m.now(),
	})
}

// interruption checks cancellation and lease validity before each step.
func (m *Machine) interruption(ctx context.Context, r *run, state State) (Event, bool) {
	if r.job.CancelRequested() || ctx.Err() != nil {
		return Canceled{}, true
	}

	// once locked, every further step requires the lease to still be ours
	if r.holding {
		holder, ok := m.cfg.Locks.Holder(r.job.Hostname)
		if !ok || holder != r.job.ID {
			r.holding = false
			return LockLost{}, true
		}
	}

	return nil, false
}

// advance applies the transition and performs the state-entry bookkeeping
// that must happen exactly once per transition.
func (m *Machine) advance(r *run, state State, ev Event, logger *log.Entry) State {
	next := Transition(state, ev, r.attempts, m.cfg.Limits, m.now())
	if next == state {
		return next
	}

	logger.WithFields(log.Fields{
		"from":    state.Name(),
		"to":      next.Name(),
		"attempt": r.attempts,
	}).Debug("Job transition")

	switch next.(type) {
	case Retrying:
		_, transient := ev.(TransientFailure)
		r.countRetry = transient
		m.releaseForRetry(r, logger)
	case AcquiringLock:
		if _, wasRetry := state.(Retrying); wasRetry && r.countRetry {
			r.attempts++
			r.countRetry = false
			r.job.setAttempts(r.attempts)
		}
	}

	r.job.setState(next)
	return next
}

// step performs the side effect the current state calls for and reports the
// outcome as an event.
func (m *Machine) step(ctx context.Context, r *run, state State, logger *log.Entry) Event {
	switch st := state.(type) {
	case Pending:
		return LockAcquired{} // any event leaves Pending

	case AcquiringLock:
		token, err := m.cfg.Locks.Acquire(r.job.Hostname, r.job.ID)
		if err != nil {
			if errors.Is(err, hostlock.ErrHeld) {
				return LockBusy{}
			}
			return TransientFailure{}
		}
		r.token = token
		r.holding = true
		return LockAcquired{}

	case EnteringMaintenance:
		return m.enterMaintenance(ctx, r, logger)

	case Uploading:
		if r.job.DryRun {
			logger.Info("Dry run: would upload firmware image")
			return ImageUploaded{Handle: "dry-run"}
		}
		s, err := m.ensureSession(ctx, r)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		handle, err := s.UploadImage(ctx, r.job.Artifact)
		if err != nil {
			if Classify(err) == ValidationFailure {
				logger.WithError(err).Error("Firmware image rejected")
				return ChecksumRejected{}
			}
			return m.errorEvent(err, logger)
		}
		return ImageUploaded{Handle: handle}

	case Updating:
		if r.job.DryRun {
			logger.Info("Dry run: would submit firmware update")
			return UpdateSubmitted{Task: "dry-run"}
		}
		s, err := m.ensureSession(ctx, r)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		task, err := s.SubmitUpdate(ctx, st.Handle)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		logger.WithField("task", task).Info("Update task submitted")
		return UpdateSubmitted{Task: task}

	case Polling:
		if r.job.DryRun {
			return TaskSucceeded{}
		}
		s, err := m.ensureSession(ctx, r)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		status, err := redfish.WaitForTask(ctx, s, st.Task, m.cfg.Poll)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		switch status.State {
		case redfish.TaskSucceeded:
			return TaskSucceeded{}
		case redfish.TaskFailed:
			if status.Reason == redfish.StuckTaskReason {
				logger.Warn("Update task made no progress, treating as transient")
				return TransientFailure{}
			}
			logger.WithField("reason", status.Reason).Error("Update task rejected by controller")
			return TaskRejected{}
		}
		return TransientFailure{}

	case Rebooting:
		if r.job.DryRun {
			logger.Info("Dry run: would reboot host")
			return RebootAccepted{}
		}
		s, err := m.ensureSession(ctx, r)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		err = s.Reboot(ctx)
		// the controller may drop the session during reboot; reconnect lazily
		m.closeSession(r)
		if err != nil {
			return m.errorEvent(err, logger)
		}
		return RebootAccepted{}

	case VerifyingVersion:
		return m.verifyVersion(ctx, r, st, logger)

	case ExitingMaintenance:
		// survives job cancellation and shutdown: the host must not be left
		// evacuated because the job was told to stop
		m.exitMaintenance(context.WithoutCancel(ctx), r, logger)
		return MaintenanceExited{}

	case Retrying:
		wait := time.Until(st.ResumeAt)
		if err := m.sleep(ctx, wait); err != nil {
			return Canceled{}
		}
		return LockAcquired{} // any event leaves Retrying
	}

	return TransientFailure{}
}

func (m *Machine) enterMaintenance(ctx context.Context, r *run, logger *log.Entry) Event {
	if !r.h.InCluster() {
		logger.Debug("Host has no cluster membership, skipping maintenance mode")
		return MaintenanceEntered{}
	}
	if r.job.DryRun {
		logger.Info("Dry run: would enter maintenance mode")
		return MaintenanceEntered{}
	}

	if err := m.cfg.Hosts.SetMaintenance(ctx, r.job.Hostname, host.MaintenanceEntering); err != nil {
		logger.WithError(err).Warn("Could not record maintenance transition")
	}

	if err := m.cfg.Coordinator.EnterMaintenance(ctx, r.job.Hostname); err != nil {
		_ = m.cfg.Hosts.SetMaintenance(ctx, r.job.Hostname, host.MaintenanceNone)
		if errors.Is(err, vsphere.ErrEvacuationFailed) {
			logger.WithError(err).Error("Host evacuation failed, maintenance rolled back")
			return EvacuationFailed{}
		}
		return m.errorEvent(err, logger)
	}

	r.inMaint = true
	if err := m.cfg.Hosts.SetMaintenance(ctx, r.job.Hostname, host.MaintenanceIn); err != nil {
		logger.WithError(err).Warn("Could not record maintenance state")
	}
	logger.Info("Host entered maintenance mode")
	return MaintenanceEntered{}
}

func (m *Machine) verifyVersion(ctx context.Context, r *run, st VerifyingVersion, logger *log.Entry) Event {
	if r.job.DryRun {
		logger.Info("Dry run: would verify firmware version")
		return VersionVerified{}
	}

	settle := m.cfg.VerifySettle
	if st.Checks > 0 {
		settle = m.cfg.VerifyInterval
	}
	if err := m.sleep(ctx, settle); err != nil {
		return Canceled{}
	}

	s, err := m.ensureSession(ctx, r)
	if err != nil {
		// the controller itself may still be restarting; count as a failed check
		logger.WithError(err).Debug("Controller not back yet, will re-check")
		return VersionMismatch{}
	}

	inv, err := s.Inventory(ctx)
	if err != nil {
		m.closeSession(r)
		logger.WithError(err).Debug("Inventory not readable yet, will re-check")
		return VersionMismatch{}
	}

	if inv.FirmwareVersion != r.job.Artifact.Version {
		logger.WithFields(log.Fields{
			"want": r.job.Artifact.Version,
			"have": inv.FirmwareVersion,
		}).Debug("Firmware version not yet applied")
		return VersionMismatch{}
	}

	if err := m.cfg.Hosts.SetFirmwareVersion(ctx, r.job.Hostname, inv.FirmwareVersion); err != nil {
		logger.WithError(err).Warn("Could not record verified firmware version")
	}
	logger.WithField("version", inv.FirmwareVersion).Info("Firmware version verified")
	return VersionVerified{}
}

// exitMaintenance is best effort with its own bounded retry: the job outcome
// is already decided, but the host should not be left evacuated.
func (m *Machine) exitMaintenance(ctx context.Context, r *run, logger *log.Entry) {
	if !r.inMaint {
		return
	}

	if err := m.cfg.Hosts.SetMaintenance(ctx, r.job.Hostname, host.MaintenanceExiting); err != nil {
		logger.WithError(err).Warn("Could not record maintenance transition")
	}

	var err error
	for i := 0; i < 3; i++ {
		if err = m.cfg.Coordinator.ExitMaintenance(ctx, r.job.Hostname); err == nil {
			break
		}
		logger.WithError(err).Warn("Exit maintenance failed, retrying")
		if serr := m.sleep(ctx, 10*time.Second); serr != nil {
			break
		}
	}

	if err != nil {
		logger.WithError(err).Error("Host left in maintenance mode, operator attention required")
		_ = m.cfg.Hosts.SetMessage(ctx, r.job.Hostname, "stuck in maintenance mode: "+err.Error())
		return
	}

	r.inMaint = false
	if err := m.cfg.Hosts.SetMaintenance(ctx, r.job.Hostname, host.MaintenanceNone); err != nil {
		logger.WithError(err).Warn("Could not record maintenance state")
	}
	logger.Info("Host exited maintenance mode")
}

// releaseForRetry tears the run back down to unlocked before a retry cycle.
func (m *Machine) releaseForRetry(r *run, logger *log.Entry) {
	m.closeSession(r)

	if r.inMaint {
		// a background ctx so teardown survives job cancellation
		m.exitMaintenance(context.Background(), r, logger)
	}

	if r.holding {
		m.cfg.Locks.Release(r.token)
		r.holding = false
	}
}

// finish records the terminal outcome and emits the single notification.
func (m *Machine) finish(ctx context.Context, r *run, state State, logger *log.Entry) {
	if f, ok := state.(Failed); ok {
		msg := "update failed: " + string(f.Reason)
		if err := m.cfg.Hosts.SetMessage(ctx, r.job.Hostname, msg); err != nil {
			logger.WithError(err).Warn("Could not record host message")
		}
	} else {
		if err := m.cfg.Hosts.SetMessage(ctx, r.job.Hostname, "update succeeded"); err != nil {
			logger.WithError(err).Warn("Could not record host message")
		}
	}

	snap := r.job.Snapshot()
	m.cfg.Notifier.Notify(Notification{
		JobID:     snap.ID,
		Hostname:  snap.Hostname,
		State:     snap.State,
		Reason:    snap.Reason,
		Attempts:  snap.Attempts,
		DryRun:    snap.DryRun,
		Timestamp: m.now(),
	})
}

func (m *Machine) cleanup(r *run) {
	m.closeSession(r)
	if r.holding {
		m.cfg.Locks.Release(r.token)
		r.holding = false
	}
}

func (m *Machine) ensureSession(ctx context.Context, r *run) (redfish.Session, error) {
	if r.session != nil {
		return r.session, nil
	}

	s, err := m.cfg.Client.Connect(ctx, r.h, r.cred.Controller)
	if err != nil {
		return nil, err
	}
	r.session = s
	return s, nil
}

func (m *Machine) closeSession(r *run) {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}
}

// errorEvent maps a classified error onto the event the transition function
// branches on.
func (m *Machine) errorEvent(err error, logger *log.Entry) Event {
	switch Classify(err) {
	case AuthenticationFailure:
		logger.WithError(err).Error("Controller authentication failed")
		return AuthRejected{}
	case ValidationFailure:
		logger.WithError(err).Error("Controller rejected the request")
		return ChecksumRejected{}
	case EvacuationFailure:
		return EvacuationFailed{}
	default:
		logger.WithError(err).Warn("Transient failure")
		return TransientFailure{}
	}
}
