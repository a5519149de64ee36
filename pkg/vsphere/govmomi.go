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
package vsphere

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// controller vmkernel NICs are named with this prefix by convention, mapping
// each ESXi host to its out-of-band controller address
const controllerNicPrefix = "idrac"

var hostSystemProps = []string{"name", "summary", "config.network.vnic", "customValue", "parent"}

// govmomiCoordinator implements Coordinator against a live vCenter.
type govmomiCoordinator struct {
	client *govmomi.Client
	cfg    Config

	mu       sync.Mutex
	lastSeen map[string]externalTag // per-host observation of the external attribute
}

type externalTag struct {
	value      string
	observedAt time.Time
}

// NewCoordinator connects to vCenter and returns a Coordinator.
func NewCoordinator(ctx context.Context, cfg Config) (Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vcenter URL %q: %w", cfg.URL, err)
	}
	u.User = url.UserPassword(cfg.Credential.User, cfg.Credential.Password.Value)

	client, err := govmomi.NewClient(ctx, u, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vcenter %s: %w", u.Host, err)
	}

	return &govmomiCoordinator{
		client:   client,
		cfg:      cfg,
		lastSeen: make(map[string]externalTag),
	}, nil
}

// findHost resolves a HostSystem by name through a container view.
func (c *govmomiCoordinator) findHost(ctx context.Context, hostname string) (*mo.HostSystem, error) {
	m := view.NewManager(c.client.Client)

	v, err := m.CreateContainerView(ctx, c.client.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, err
	}
	defer v.Destroy(ctx)

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, hostSystemProps, &hosts); err != nil {
		return nil, err
	}

	for i := range hosts {
		if hosts[i].Name == hostname {
			return &hosts[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
}

// EnterMaintenance puts the host into maintenance mode and waits for full
// evacuation. A timeout rolls the request back so the host never stays
// half-evacuated.
func (c *govmomiCoordinator) EnterMaintenance(ctx context.Context, hostname string) error {
	moHost, err := c.findHost(ctx, hostname)
	if err != nil {
		return err
	}

	if moHost.Summary.Runtime.InMaintenanceMode {
		return nil
	}

	hs := object.NewHostSystem(c.client.Client, moHost.Self)

	task, err := hs.EnterMaintenanceMode(ctx, int32(c.cfg.EvacuationTimeout.Seconds()), true, &types.HostMaintenanceSpec{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEvacuationFailed, err)
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.EvacuationTimeout)
	defer cancel()

	if err := task.Wait(wctx); err != nil {
		log.Warnf("evacuation of %s did not complete (%v), rolling back maintenance request", hostname, err)
		c.rollbackMaintenance(ctx, hs, hostname)
		return fmt.Errorf("%w: %v", ErrEvacuationFailed, err)
	}

	evacuated, err := c.inMaintenance(ctx, hs)
	if err != nil {
		return err
	}
	if !evacuated {
		c.rollbackMaintenance(ctx, hs, hostname)
		return fmt.Errorf("%w: %s reports workloads still present", ErrEvacuationFailed, hostname)
	}

	return nil
}

// rollbackMaintenance cancels a maintenance request that did not complete.
// Best effort: the host is either back in its pre-maintenance state or an
// operator-visible error is logged.
func (c *govmomiCoordinator) rollbackMaintenance(ctx context.Context, hs *object.HostSystem, hostname string) {
	task, err := hs.ExitMaintenanceMode(ctx, int32(c.cfg.EvacuationTimeout.Seconds()))
	if err != nil {
		log.Errorf("failed to roll back maintenance request on %s: %v", hostname, err)
		return
	}

	if err := task.Wait(ctx); err != nil {
		log.Errorf("failed to roll back maintenance request on %s: %v", hostname, err)
	}
}

// ExitMaintenance returns the host to workload-hosting state.
func (c *govmomiCoordinator) ExitMaintenance(ctx context.Context, hostname string) error {
	moHost, err := c.findHost(ctx, hostname)
	if err != nil {
		return err
	}

	if !moHost.Summary.Runtime.InMaintenanceMode {
		return nil
	}

	hs := object.NewHostSystem(c.client.Client, moHost.Self)

	task, err := hs.ExitMaintenanceMode(ctx, int32(c.cfg.EvacuationTimeout.Seconds()))
	if err != nil {
		return err
	}

	return task.Wait(ctx)
}

func (c *govmomiCoordinator) inMaintenance(ctx context.Context, hs *object.HostSystem) (bool, error) {
	var moHost mo.HostSystem
	pc := property.DefaultCollector(c.client.Client)
	if err := pc.RetrieveOne(ctx, hs.Reference(), []string{"summary.runtime.inMaintenanceMode"}, &moHost); err != nil {
		return false, err
	}

	return moHost.Summary.Runtime.InMaintenanceMode, nil
}

// SyncGroupAttribute reconciles the registry's policy tag with the external
// custom attribute. The more recently modified side wins; vCenter does not
// expose per-field modification times, so an external change is timestamped
// when this coordinator first observes it, and an external value seen for the
// first time is authoritative.
func (c *govmomiCoordinator) SyncGroupAttribute(ctx context.Context, h *host.Host) (string, error) {
	moHost, err := c.findHost(ctx, h.Hostname)
	if err != nil {
		return "", err
	}

	cfm, err := object.GetCustomFieldsManager(c.client.Client)
	if err != nil {
		return "", err
	}

	key, err := cfm.FindKey(ctx, c.cfg.PolicyAttribute)
	if err != nil {
		// attribute does not exist yet; create it for HostSystem objects
		def, aerr := cfm.Add(ctx, c.cfg.PolicyAttribute, "HostSystem", nil, nil)
		if aerr != nil {
			return "", fmt.Errorf("failed to create %s attribute: %w", c.cfg.PolicyAttribute, aerr)
		}
		key = def.Key
	}

	external := customValue(moHost, key)
	externalMod := c.observeExternal(h.Hostname, external)

	resolved, writeExternal, writeLocal := resolveTag(h.PolicyTag, h.PolicyTagModifiedAt, external, externalMod)

	if writeExternal {
		if err := cfm.Set(ctx, moHost.Self, key, resolved); err != nil {
			return "", fmt.Errorf("failed to write %s on %s: %w", c.cfg.PolicyAttribute, h.Hostname, err)
		}
		c.recordExternal(h.Hostname, resolved)
	}

	if writeLocal {
		h.SetPolicyTag(resolved, time.Now())
	}

	return resolved, nil
}

// observeExternal tracks when the external attribute value was last seen to
// change, approximating a modification time. Returns zero time on first
// observation, which makes the external side authoritative.
func (c *govmomiCoordinator) observeExternal(hostname, value string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.lastSeen[hostname]
	if !ok {
		c.lastSeen[hostname] = externalTag{value: value, observedAt: time.Now()}
		return time.Time{}
	}

	if prev.value != value {
		now := time.Now()
		c.lastSeen[hostname] = externalTag{value: value, observedAt: now}
		return now
	}

	return prev.observedAt
}

func (c *govmomiCoordinator) recordExternal(hostname, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen[hostname] = externalTag{value: value, observedAt: time.Now()}
}

// DiscoverHosts lists cluster members, mapping each to its out-of-band
// controller address via the controller-named vmkernel NIC.
func (c *govmomiCoordinator) DiscoverHosts(ctx context.Context) ([]DiscoveredHost, error) {
	m := view.NewManager(c.client.Client)

	v, err := m.CreateContainerView(ctx, c.client.ServiceContent.RootFolder, []string{"HostSystem"}, true)
	if err != nil {
		return nil, err
	}
	defer v.Destroy(ctx)

	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, hostSystemProps, &hosts); err != nil {
		return nil, err
	}

	cfm, err := object.GetCustomFieldsManager(c.client.Client)
	if err != nil {
		return nil, err
	}
	policyKey, err := cfm.FindKey(ctx, c.cfg.PolicyAttribute)
	if err != nil {
		policyKey = -1 // attribute not defined, discovered hosts carry no tag
	}

	pc := property.DefaultCollector(c.client.Client)

	out := make([]DiscoveredHost, 0, len(hosts))
	for i := range hosts {
		moHost := &hosts[i]

		d := DiscoveredHost{
			Name:          moHost.Name,
			InMaintenance: moHost.Summary.Runtime.InMaintenanceMode,
		}

		if moHost.Config != nil && moHost.Config.Network != nil {
			for _, vnic := range moHost.Config.Network.Vnic {
				if strings.HasPrefix(vnic.Device, controllerNicPrefix) && vnic.Spec.Ip != nil {
					d.ControllerIP = vnic.Spec.Ip.IpAddress
					break
				}
			}
		}

		if policyKey >= 0 {
			d.PolicyTag = customValue(moHost, policyKey)
		}

		if moHost.Parent != nil {
			var parent mo.ManagedEntity
			if err := pc.RetrieveOne(ctx, *moHost.Parent, []string{"name"}, &parent); err == nil {
				d.Cluster = parent.Name
			}
		}

		out = append(out, d)
	}

	return out, nil
}

func customValue(moHost *mo.HostSystem, key int32) string {
	for _, cv := range moHost.CustomValue {
		if sv, ok := cv.(*types.CustomFieldStringValue); ok && sv.Key == key {
			return sv.Value
		}
	}
	return ""
}
