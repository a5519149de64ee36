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
// Package vsphere is the maintenance coordinator: it drives a host in and out
// of the virtualization plane's maintenance mode, verifies workload
// evacuation, discovers cluster members, and keeps the per-host grouping
// attribute in sync with the host registry.
package vsphere

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

var (
	// ErrEvacuationFailed means the host could not be fully evacuated before
	// the timeout; the maintenance request was rolled back.
	ErrEvacuationFailed = errors.New("host evacuation failed")
	// ErrHostNotFound means the virtualization plane knows no host by that name.
	ErrHostNotFound = errors.New("host not found in virtualization plane")
)

// DiscoveredHost is one cluster member as seen by the virtualization plane.
type DiscoveredHost struct {
	Name          string
	Cluster       string
	ControllerIP  string
	PolicyTag     string
	InMaintenance bool
}

// Coordinator is the virtualization-plane contract used by the job state
// machine and the reconciliation pass.
type Coordinator interface {
	// EnterMaintenance blocks until the host is fully evacuated or the
	// configured timeout elapses. On timeout the request is rolled back and
	// ErrEvacuationFailed returned, never leaving the host half-evacuated.
	EnterMaintenance(ctx context.Context, hostname string) error
	// ExitMaintenance returns the host to workload-hosting state.
	ExitMaintenance(ctx context.Context, hostname string) error
	// SyncGroupAttribute reconciles the host's policy tag against the external
	// attribute and returns the resolved tag.
	SyncGroupAttribute(ctx context.Context, h *host.Host) (string, error)
	// DiscoverHosts lists cluster members with their controller addresses.
	DiscoverHosts(ctx context.Context) ([]DiscoveredHost, error)
}

// Config holds vCenter connection settings.
type Config struct {
	URL               string // https://vcenter.example.com/sdk
	Credential        *credential.Credential
	Insecure          bool
	EvacuationTimeout time.Duration
	PolicyAttribute   string // custom attribute name mirrored into the registry
}

// Validate fills defaults and checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("vcenter URL is required")
	}
	if !c.Credential.Validate() {
		return errors.New("vcenter credentials are required")
	}
	if c.EvacuationTimeout <= 0 {
		c.EvacuationTimeout = 10 * time.Minute
	}
	if c.PolicyAttribute == "" {
		c.PolicyAttribute = "HOST_POLICY"
	}
	return nil
}

// NopCoordinator is used when no virtualization plane is configured: hosts
// are treated as standalone, maintenance transitions succeed without side
// effects, and discovery finds nothing.
type NopCoordinator struct{}

func (NopCoordinator) EnterMaintenance(ctx context.Context, hostname string) error { return nil }
func (NopCoordinator) ExitMaintenance(ctx context.Context, hostname string) error  { return nil }

func (NopCoordinator) SyncGroupAttribute(ctx context.Context, h *host.Host) (string, error) {
	return h.PolicyTag, nil
}

func (NopCoordinator) DiscoverHosts(ctx context.Context) ([]DiscoveredHost, error) {
	return nil, nil
}

// resolveTag decides the winning side of a policy tag conflict. The more
// recently modified side wins; when the external side's modification time is
// unknown, the external system is authoritative.
func resolveTag(local string, localMod time.Time, external string, externalMod time.Time) (tag string, writeExternal, writeLocal bool) {
	if local == external {
		return local, false, false
	}

	if externalMod.IsZero() {
		return external, false, true
	}

	if localMod.After(externalMod) {
		return local, true, false
	}

	return external, false, true
}
