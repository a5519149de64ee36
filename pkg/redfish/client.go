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
// Package redfish is the protocol client for a host's management controller
// firmware API: session login, inventory query, firmware image upload, update
// task submission, task polling, and reboot. The gofish-backed implementation
// talks to real controllers; the interfaces exist so the job state machine is
// testable with fakes.
package redfish

import (
	"context"
	"time"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// TaskID identifies an in-flight update task on the controller (the task
// monitor URI on Redfish implementations).
type TaskID string

// ImageHandle references an uploaded (or controller-fetchable) firmware image.
type ImageHandle string

// TaskState is the coarse progress state of an update task.
type TaskState string

const (
	TaskRunning   TaskState = "Running"
	TaskSucceeded TaskState = "Succeeded"
	TaskFailed    TaskState = "Failed"
)

// TaskStatus is one observation of an update task.
type TaskStatus struct {
	State    TaskState
	Progress int    // percent complete, 0-100, only meaningful while Running
	Reason   string // populated when State == TaskFailed
}

// Inventory is the subset of controller inventory the orchestrator tracks.
type Inventory struct {
	FirmwareVersion string
	Model           string
	DeviceClass     string
	HealthOK        bool
}

// Session is an authenticated connection to one controller. The lease is
// renewable: one transparent re-authentication happens on mid-call expiry,
// a second expiry surfaces as ErrUnreachable.
type Session interface {
	Inventory(ctx context.Context) (*Inventory, error)
	UploadImage(ctx context.Context, a *artifact.Artifact) (ImageHandle, error)
	SubmitUpdate(ctx context.Context, handle ImageHandle) (TaskID, error)
	PollTask(ctx context.Context, id TaskID) (TaskStatus, error)
	Reboot(ctx context.Context) error
	Close()
}

// Client opens sessions against management controllers.
type Client interface {
	Connect(ctx context.Context, h *host.Host, cred *credential.Credential) (Session, error)
}

// Config tunes timeouts, retry bounds, and poll pacing for the gofish client.
type Config struct {
	Insecure        bool          // accept self-signed controller certificates
	ConnectTimeout  time.Duration // per-connect deadline
	RequestAttempts uint          // bounded retries for transient failures
	RetryBaseDelay  time.Duration // initial backoff delay, doubled per attempt

	PollInitialInterval time.Duration // first poll spacing
	PollMaxInterval     time.Duration // cap while progress stalls
	PollStallCeiling    time.Duration // no-progress ceiling before Failed(timeout)
}

// Validate fills defaults and rejects nonsense values.
func (c *Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RequestAttempts == 0 {
		c.RequestAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.PollInitialInterval <= 0 {
		c.PollInitialInterval = 5 * time.Second
	}
	if c.PollMaxInterval < c.PollInitialInterval {
		c.PollMaxInterval = 12 * c.PollInitialInterval
	}
	if c.PollStallCeiling <= 0 {
		c.PollStallCeiling = 30 * time.Minute
	}
	return nil
}
