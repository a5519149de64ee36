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
	"time"

	"github.com/firmware-maestro/maestro/pkg/redfish"
)

// StateName identifies a lifecycle state independent of its payload.
type StateName string

const (
	StatePending             StateName = "Pending"
	StateAcquiringLock       StateName = "AcquiringLock"
	StateEnteringMaintenance StateName = "EnteringMaintenance"
	StateUploading           StateName = "Uploading"
	StateUpdating            StateName = "Updating"
	StatePolling             StateName = "Polling"
	StateRebooting           StateName = "Rebooting"
	StateVerifyingVersion    StateName = "VerifyingVersion"
	StateExitingMaintenance  StateName = "ExitingMaintenance"
	StateRetrying            StateName = "Retrying"
	StateSucceeded           StateName = "Succeeded"
	StateFailed              StateName = "Failed"
)

// State is a tagged variant carrying only the data relevant to it.
type State interface {
	Name() StateName
	Terminal() bool
}

type Pending struct{}
type AcquiringLock struct{}
type EnteringMaintenance struct{}
type Uploading struct{}

// Updating carries the staged image handle to submit.
type Updating struct {
	Handle redfish.ImageHandle
}

// Polling carries the in-flight task identifier.
type Polling struct {
	Task redfish.TaskID
}

type Rebooting struct{}

// VerifyingVersion counts version re-checks already made.
type VerifyingVersion struct {
	Checks int
}

// ExitingMaintenance carries the terminal outcome to enter once the host has
// left maintenance mode, so late failures still free the host first.
type ExitingMaintenance struct {
	Outcome State
}

// Retrying carries the resume time after which the machine re-enters
// AcquiringLock.
type Retrying struct {
	ResumeAt time.Time
}

type Succeeded struct{}

// Failed carries the stable failure reason.
type Failed struct {
	Reason FailureReason
}

func (Pending) Name() StateName             { return StatePending }
func (AcquiringLock) Name() StateName       { return StateAcquiringLock }
func (EnteringMaintenance) Name() StateName { return StateEnteringMaintenance }
func (Uploading) Name() StateName           { return StateUploading }
func (Updating) Name() StateName            { return StateUpdating }
func (Polling) Name() StateName             { return StatePolling }
func (Rebooting) Name() StateName           { return StateRebooting }
func (VerifyingVersion) Name() StateName    { return StateVerifyingVersion }
func (ExitingMaintenance) Name() StateName  { return StateExitingMaintenance }
func (Retrying) Name() StateName            { return StateRetrying }
func (Succeeded) Name() StateName           { return StateSucceeded }
func (Failed) Name() StateName              { return StateFailed }

func (Pending) Terminal() bool             { return false }
func (AcquiringLock) Terminal() bool       { return false }
func (EnteringMaintenance) Terminal() bool { return false }
func (Uploading) Terminal() bool           { return false }
func (Updating) Terminal() bool            { return false }
func (Polling) Terminal() bool             { return false }
func (Rebooting) Terminal() bool           { return false }
func (VerifyingVersion) Terminal() bool    { return false }
func (ExitingMaintenance) Terminal() bool  { return false }
func (Retrying) Terminal() bool            { return false }
func (Succeeded) Terminal() bool           { return true }
func (Failed) Terminal() bool              { return true }

// inMaintenance reports whether a state implies the host has entered
// maintenance mode, so a fatal outcome must route through ExitingMaintenance.
func inMaintenance(s State) bool {
	switch s.(type) {
	case Uploading, Updating, Polling, Rebooting, VerifyingVersion:
		return true
	}
	return false
}

// Event is an observation fed to the transition function: the outcome of one
// side-effecting interaction with the protocol client or the coordinator.
type Event interface{ isEvent() }

type LockAcquired struct{}
type LockBusy struct{}
type MaintenanceEntered struct{}
type EvacuationFailed struct{}

type ImageUploaded struct {
	Handle redfish.ImageHandle
}

type ChecksumRejected struct{}

type UpdateSubmitted struct {
	Task redfish.TaskID
}

type TaskSucceeded struct{}
type TaskRejected struct{}
type RebootAccepted struct{}
type VersionVerified struct{}
type VersionMismatch struct{}
type MaintenanceExited struct{}
type TransientFailure struct{}
type AuthRejected struct{}
type Canceled struct{}

// LockLost means the job's lease was reclaimed mid-run. Another worker may
// already own the host, so the job fails immediately without touching
// maintenance mode.
type LockLost struct{}

func (LockAcquired) isEvent()       {}
func (LockBusy) isEvent()           {}
func (MaintenanceEntered) isEvent() {}
func (EvacuationFailed) isEvent()   {}
func (ImageUploaded) isEvent()      {}
func (ChecksumRejected) isEvent()   {}
func (UpdateSubmitted) isEvent()    {}
func (TaskSucceeded) isEvent()      {}
func (TaskRejected) isEvent()       {}
func (RebootAccepted) isEvent()     {}
func (VersionVerified) isEvent()    {}
func (VersionMismatch) isEvent()    {}
func (MaintenanceExited) isEvent()  {}
func (TransientFailure) isEvent()   {}
func (AuthRejected) isEvent()       {}
func (Canceled) isEvent()           {}
func (LockLost) isEvent()           {}

// Limits bounds retries and re-checks for the transition function.
type Limits struct {
	MaxAttempts     int
	MaxVerifyChecks int
	RetryDelay      time.Duration // backoff before re-entering AcquiringLock
	LockRetryDelay  time.Duration // short delay when the host lock is held
}

// Validate fills defaults.
func (l *Limits) Validate() error {
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = 3
	}
	if l.MaxVerifyChecks <= 0 {
		l.MaxVerifyChecks = 5
	}
	if l.RetryDelay <= 0 {
		l.RetryDelay = 30 * time.Second
	}
	if l.LockRetryDelay <= 0 {
		l.LockRetryDelay = 5 * time.Second
	}
	return nil
}

// failVia routes a fatal outcome through ExitingMaintenance when the host is
// inside maintenance mode, so it is never left evacuated but stranded.
func failVia(s State, reason FailureReason) State {
	if inMaintenance(s) {
		return ExitingMaintenance{Outcome: Failed{Reason: reason}}
	}
	return Failed{Reason: reason}
}

// Transition is the pure (state, event) -> state function of the job
// lifecycle. attempts is the number of protocol attempts consumed so far,
// including the current one; now anchors retry delays.
func Transition(s State, ev Event, attempts int, limits Limits, now time.Time) State {
	if s.Terminal() {
		return s
	}

	switch ev.(type) {
	case TransientFailure:
		if attempts >= limits.MaxAttempts {
			return failVia(s, ReasonExhausted)
		}
		return Retrying{ResumeAt: now.Add(limits.RetryDelay)}
	case AuthRejected:
		return failVia(s, ReasonUnreachable)
	case Canceled:
		return failVia(s, ReasonCanceled)
	case LockLost:
		return Failed{Reason: ReasonLockExpired}
	}

	switch st := s.(type) {
	case Pending:
		return AcquiringLock{}

	case AcquiringLock:
		switch ev.(type) {
		case LockAcquired:
			return EnteringMaintenance{}
		case LockBusy:
			return Retrying{ResumeAt: now.Add(limits.LockRetryDelay)}
		}

	case EnteringMaintenance:
		switch ev.(type) {
		case MaintenanceEntered:
			return Uploading{}
		case EvacuationFailed:
			// not retried automatically: pinned workloads need an operator
			return Failed{Reason: ReasonEvacuation}
		}

	case Uploading:
		switch e := ev.(type) {
		case ImageUploaded:
			return Updating{Handle: e.Handle}
		case ChecksumRejected:
			return failVia(s, ReasonChecksum)
		}

	case Updating:
		if e, ok := ev.(UpdateSubmitted); ok {
			return Polling{Task: e.Task}
		}

	case Polling:
		switch ev.(type) {
		case TaskSucceeded:
			return Rebooting{}
		case TaskRejected:
			return failVia(s, ReasonUpdateRejected)
		}

	case Rebooting:
		if _, ok := ev.(RebootAccepted); ok {
			return VerifyingVersion{}
		}

	case VerifyingVersion:
		switch ev.(type) {
		case VersionVerified:
			return ExitingMaintenance{Outcome: Succeeded{}}
		case VersionMismatch:
			if st.Checks+1 >= limits.MaxVerifyChecks {
				return failVia(s, ReasonVerification)
			}
			return VerifyingVersion{Checks: st.Checks + 1}
		}

	case ExitingMaintenance:
		if _, ok := ev.(MaintenanceExited); ok {
			return st.Outcome
		}

	case Retrying:
		return AcquiringLock{}
	}

	return s
}
