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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/credentials"
	"github.com/firmware-maestro/maestro/pkg/objects/artifact"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
	"github.com/firmware-maestro/maestro/pkg/redfish"
	"github.com/firmware-maestro/maestro/pkg/vsphere"
)

type staticCoordinator struct {
	vsphere.NopCoordinator
	hosts []vsphere.DiscoveredHost
}

func (c *staticCoordinator) DiscoverHosts(ctx context.Context) ([]vsphere.DiscoveredHost, error) {
	return c.hosts, nil
}

type probeSession struct {
	inv *redfish.Inventory
	err error
}

func (s *probeSession) Inventory(ctx context.Context) (*redfish.Inventory, error) {
	return s.inv, s.err
}
func (s *probeSession) UploadImage(ctx context.Context, a *artifact.Artifact) (redfish.ImageHandle, error) {
	return "", nil
}
func (s *probeSession) SubmitUpdate(ctx context.Context, handle redfish.ImageHandle) (redfish.TaskID, error) {
	return "", nil
}
func (s *probeSession) PollTask(ctx context.Context, id redfish.TaskID) (redfish.TaskStatus, error) {
	return redfish.TaskStatus{}, nil
}
func (s *probeSession) Reboot(ctx context.Context) error { return nil }
func (s *probeSession) Close()                           {}

// probeClient serves canned inventory per hostname; hosts with a connectErr
// entry fail to connect.
type probeClient struct {
	inventories map[string]*redfish.Inventory
	connectErr  map[string]error
}

func (c *probeClient) Connect(ctx context.Context, h *host.Host, cred *credential.Credential) (redfish.Session, error) {
	if err := c.connectErr[h.Hostname]; err != nil {
		return nil, err
	}
	return &probeSession{inv: c.inventories[h.Hostname]}, nil
}

func newReconcilerEnv(t *testing.T) (*MemRegistry, *credentials.MemManager, *probeClient) {
	t.Helper()
	return NewMemRegistry(), credentials.NewMemManager(), &probeClient{
		inventories: map[string]*redfish.Inventory{},
		connectErr:  map[string]error{},
	}
}

func putCreds(t *testing.T, m *credentials.MemManager, hostname string) {
	t.Helper()
	err := m.Put(context.Background(), hostname, credentials.HostCredentials{
		Controller: credential.New("root", "calvin"),
	})
	assert.NoError(t, err)
}

func TestReconcilerSeedsHosts(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	// pre-existing host keeps its state when it is also listed as a seed
	existing := newHost(t, "esx-01", "10.0.0.10")
	existing.FirmwareVersion = "1.9"
	assert.NoError(t, reg.Upsert(ctx, existing))

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		Seeds:       []Seed{{Hostname: "esx-01", ControllerIP: "10.0.0.10"}, {Hostname: "esx-02", ControllerIP: "10.0.0.11"}},
		Registry:    reg,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h1, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, "1.9", h1.FirmwareVersion)

	h2, err := reg.Get(ctx, "esx-02")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.11", h2.ControllerIP.String())
}

func TestReconcilerRejectsInvalidSeed(t *testing.T) {
	reg, creds, client := newReconcilerEnv(t)

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		Seeds:       []Seed{{Hostname: "esx-01", ControllerIP: "not-an-ip"}},
		Registry:    reg,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.Error(t, r.Start(context.Background()))
}

func TestReconcilerDiscoversClusterMembers(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	coord := &staticCoordinator{hosts: []vsphere.DiscoveredHost{
		{Name: "esx-01", Cluster: "prod", ControllerIP: "10.0.0.10"},
		{Name: "esx-02", Cluster: "prod", ControllerIP: "10.0.0.11", InMaintenance: true},
		{Name: "esx-03", Cluster: "prod"}, // no controller address, skipped
	}}

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		VCenterName: "vc-01",
		Registry:    reg,
		Coordinator: coord,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h1, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, "vc-01", h1.VCenter)
	assert.Equal(t, "prod", h1.Cluster)
	assert.Equal(t, host.MaintenanceNone, h1.Maintenance)

	h2, err := reg.Get(ctx, "esx-02")
	assert.NoError(t, err)
	assert.Equal(t, host.MaintenanceIn, h2.Maintenance)

	_, err = reg.Get(ctx, "esx-03")
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestReconcilerDoesNotFightRunningUpdate(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	entering := newHost(t, "esx-01", "10.0.0.10")
	entering.Maintenance = host.MaintenanceEntering
	assert.NoError(t, reg.Upsert(ctx, entering))

	coord := &staticCoordinator{hosts: []vsphere.DiscoveredHost{
		{Name: "esx-01", Cluster: "prod", ControllerIP: "10.0.0.10", InMaintenance: true},
	}}

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		VCenterName: "vc-01",
		Registry:    reg,
		Coordinator: coord,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, host.MaintenanceEntering, h.Maintenance)
}

func TestReconcilerProbeRefreshesFacts(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	assert.NoError(t, reg.Upsert(ctx, newHost(t, "esx-01", "10.0.0.10")))
	putCreds(t, creds, "esx-01")
	client.inventories["esx-01"] = &redfish.Inventory{
		FirmwareVersion: "2.0",
		Model:           "PowerEdge R750",
		DeviceClass:     "Server BIOS",
		HealthOK:        true,
	}

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		Registry:    reg,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, "2.0", h.FirmwareVersion)
	assert.Equal(t, "PowerEdge R750", h.Model)
	assert.Equal(t, "Server BIOS", h.DeviceClass)
	assert.Equal(t, host.ReachabilityReachable, h.Reachability)
	assert.False(t, h.Stale)
}

func TestReconcilerMarksStaleAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	assert.NoError(t, reg.Upsert(ctx, newHost(t, "esx-01", "10.0.0.10")))
	putCreds(t, creds, "esx-01")
	client.connectErr["esx-01"] = errors.New("dial tcp: connection refused")

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:       time.Hour,
		StaleThreshold: 2,
		Registry:       reg,
		Client:         client,
		Credentials:    creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, host.ReachabilityUnreachable, h.Reachability)
	assert.False(t, h.Stale, "one failure is below the threshold")

	// second failed pass crosses the threshold
	r.reconcile(ctx)
	h, err = reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.True(t, h.Stale)

	// recovery clears the stale marking
	delete(client.connectErr, "esx-01")
	client.inventories["esx-01"] = &redfish.Inventory{FirmwareVersion: "2.0", HealthOK: true}
	r.reconcile(ctx)
	h, err = reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.False(t, h.Stale)
}

func TestReconcilerSkipsHostsWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	reg, creds, client := newReconcilerEnv(t)

	assert.NoError(t, reg.Upsert(ctx, newHost(t, "esx-01", "10.0.0.10")))

	r, err := NewReconciler(&ReconcilerConfig{
		Interval:    time.Hour,
		Registry:    reg,
		Client:      client,
		Credentials: creds,
	})
	assert.NoError(t, err)
	assert.NoError(t, r.Start(ctx))
	defer r.Stop()

	h, err := reg.Get(ctx, "esx-01")
	assert.NoError(t, err)
	assert.Equal(t, host.ReachabilityUnknown, h.Reachability)
}

func TestReconcilerConfigValidate(t *testing.T) {
	reg, creds, client := newReconcilerEnv(t)

	testCases := map[string]struct {
		cfg     ReconcilerConfig
		wantErr bool
	}{
		"missing registry":    {cfg: ReconcilerConfig{Client: client, Credentials: creds}, wantErr: true},
		"missing client":      {cfg: ReconcilerConfig{Registry: reg, Credentials: creds}, wantErr: true},
		"missing credentials": {cfg: ReconcilerConfig{Registry: reg, Client: client}, wantErr: true},
		"defaults fill in":    {cfg: ReconcilerConfig{Registry: reg, Client: client, Credentials: creds}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 5*time.Minute, tc.cfg.Interval)
			assert.Equal(t, 3, tc.cfg.StaleThreshold)
		})
	}
}
