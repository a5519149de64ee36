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
	"errors"

	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

// FailureReason is the stable enumerated cause surfaced for a failed job.
// Raw transport error strings never leak past the state machine.
type FailureReason string

const (
	ReasonNone           FailureReason = ""
	ReasonEvacuation     FailureReason = "evacuation"
	ReasonChecksum       FailureReason = "checksum"
	ReasonUnreachable    FailureReason = "unreachable"
	ReasonUpdateRejected FailureReason = "update_rejected"
	ReasonVerification   FailureReason = "verification"
	ReasonExhausted      FailureReason = "exhausted"
	ReasonLockExpired    FailureReason = "lock_expired"
	ReasonCanceled       FailureReason = "canceled"
)

// ErrorClass is the handling taxonomy for protocol and coordinator errors.
type ErrorClass int

const (
	// TransientNetwork errors are retried with backoff up to the attempt ceiling.
	TransientNetwork ErrorClass = iota
	// AuthenticationFailure is fatal after the session's single re-auth.
	AuthenticationFailure
	// ValidationFailure (bad checksum, rejected update) requires operator attention.
	ValidationFailure
	// ResourceConflict (lock held, ceiling reached) requeues without an error event.
	ResourceConflict
	// EvacuationFailure leaves the host in its pre-maintenance state.
	EvacuationFailure
)

// Classify maps protocol client and maintenance coordinator errors onto the
// taxonomy the state machine branches on.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, redfish.ErrChecksumMismatch):
		return ValidationFailure
	case errors.Is(err, redfish.ErrUnauthorized):
		return AuthenticationFailure
	case errors.Is(err, vsphere.ErrEvacuationFailed):
		return EvacuationFailure
	case redfish.IsTransient(err):
		return TransientNetwork
	case errors.Is(err, redfish.ErrBusy),
		errors.Is(err, redfish.ErrInsufficientStorage),
		errors.Is(err, redfish.ErrUnreachable),
		errors.Is(err, redfish.ErrTLS):
		return TransientNetwork
	default:
		return TransientNetwork
	}
}
