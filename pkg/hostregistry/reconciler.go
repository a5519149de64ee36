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
package hostregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/common/runner"
	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

// Seed is one statically configured host applied on startup, for hosts the
// virtualization plane does not know about.
type Seed struct {
	Hostname     string
	ControllerIP string
}

// ReconcilerConfig wires the periodic reconciliation pass.
type ReconcilerConfig struct {
	// Interval is the pass cadence.
	Interval time.Duration
	// StaleThreshold is the number of consecutive failed controller probes
	// before a host is marked stale.
	StaleThreshold int
	// VCenterName labels discovered hosts with their origin.
	VCenterName string
	// Seeds are upserted once at Start.
	Seeds []Seed

	Registry    Registry
	Coordinator vsphere.Coordinator
	Client      redfish.Client
	Credentials credentials.Manager
}

// Validate checks required collaborators and fills defaults.
func (c *ReconcilerConfig) Validate() error {
	if c.Registry == nil {
		return errors.New("registry is required")
	}
	if c.Client == nil {
		return errors.New("protocol client is required")
	}
	if c.Credentials == nil {
		return errors.New("credential manager is required")
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 3
	}
	return nil
}

// Reconciler keeps the registry in step with the outside world: it discovers
// cluster members, reconciles policy tags, probes controller reachability,
// and marks hosts stale after repeated probe failures. A nil Coordinator
// skips discovery and tag sync.
type Reconciler struct {
	cfg  *ReconcilerConfig
	loop *runner.Runner
}

// NewReconciler creates a reconciler; Start begins the loop.
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{cfg: cfg}, nil
}

// Start seeds static hosts, runs one synchronous pass, and starts the loop.
func (r *Reconciler) Start(ctx context.Context) error {
	for _, seed := range r.cfg.Seeds {
		h, err := host.New(seed.Hostname, seed.ControllerIP)
		if err != nil {
			return fmt.Errorf("invalid seed host: %w", err)
		}
		if _, err := r.cfg.Registry.Get(ctx, h.Hostname); err == nil {
			continue // already known, keep its state
		}
		if err := r.cfg.Registry.Upsert(ctx, h); err != nil {
			return fmt.Errorf("could not seed host %s: %w", h.Hostname, err)
		}
	}

	r.reconcile(ctx)
	r.loop = runner.New("host-reconciler", r.cfg.Interval, r.reconcile)
	return nil
}

// Stop halts the loop.
func (r *Reconciler) Stop() {
	if r.loop != nil {
		r.loop.Stop()
	}
}

// Trigger requests an immediate extra pass.
func (r *Reconciler) Trigger() {
	if r.loop != nil {
		r.loop.Kick()
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	if r.cfg.Coordinator != nil {
		r.discover(ctx)
	}
	r.probe(ctx)
}

// discover merges the virtualization plane's view into the registry and
// reconciles policy tags.
func (r *Reconciler) discover(ctx context.Context) {
	found, err := r.cfg.Coordinator.DiscoverHosts(ctx)
	if err != nil {
		log.WithError(err).Warn("Host discovery failed")
		return
	}

	for _, d := range found {
		logger := log.WithField("host", d.Name)

		h, err := r.cfg.Registry.Get(ctx, d.Name)
		if errors.Is(err, ErrHostNotFound) {
			if d.ControllerIP == "" {
				logger.Debug("Discovered host has no controller address, skipping")
				continue
			}
			h, err = host.New(d.Name, d.ControllerIP)
			if err != nil {
				logger.WithError(err).Warn("Discovered host is invalid")
				continue
			}
		} else if err != nil {
			logger.WithError(err).Warn("Could not read host from registry")
			continue
		}

		h.VCenter = r.cfg.VCenterName
		h.Cluster = d.Cluster

		// do not fight a running update over the maintenance state
		switch h.Maintenance {
		case host.MaintenanceNone:
			if d.InMaintenance {
				h.Maintenance = host.MaintenanceIn
			}
		case host.MaintenanceIn:
			if !d.InMaintenance {
				h.Maintenance = host.MaintenanceNone
			}
		}

		if _, err := r.cfg.Coordinator.SyncGroupAttribute(ctx, h); err != nil {
			logger.WithError(err).Warn("Policy tag sync failed")
		}

		if err := r.cfg.Registry.Upsert(ctx, h); err != nil {
			logger.WithError(err).Warn("Could not persist discovered host")
		}
	}
}

// probe checks every registered host's management controller and refreshes
// firmware and model facts.
func (r *Reconciler) probe(ctx context.Context) {
	hosts, err := r.cfg.Registry.List(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not list hosts for probing")
		return
	}

	for _, h := range hosts {
		logger := log.WithField("host", h.Hostname)

		creds, err := r.cfg.Credentials.Get(ctx, h.Hostname)
		if err != nil {
			logger.Debug("No controller credentials, skipping probe")
			continue
		}

		inv, err := r.inventory(ctx, h, creds)
		if err != nil {
			logger.WithError(err).Debug("Controller probe failed")
			h.MarkUnreachable(r.cfg.StaleThreshold)
		} else {
			h.MarkSeen(time.Now())
			h.FirmwareVersion = inv.FirmwareVersion
			h.Model = inv.Model
			if inv.DeviceClass != "" {
				h.DeviceClass = inv.DeviceClass
			}
			if !inv.HealthOK {
				h.LastMessage = "controller reports degraded health"
			}
		}

		if err := r.cfg.Registry.Upsert(ctx, h); err != nil {
			logger.WithError(err).Warn("Could not persist probe result")
		}
	}
}

func (r *Reconciler) inventory(ctx context.Context, h *host.Host, creds *credentials.HostCredentials) (*redfish.Inventory, error) {
	s, err := r.cfg.Client.Connect(ctx, h, creds.Controller)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return s.Inventory(ctx)
}
