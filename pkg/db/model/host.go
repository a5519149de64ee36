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
package model

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// Host is the persisted form of a managed host. Hostname is the identity key.
type Host struct {
	bun.BaseModel `bun:"table:hosts,alias:h"`

	Hostname            string    `bun:"hostname,pk,notnull"`
	ControllerIP        IPAddr    `bun:"controller_ip,notnull,type:inet"`
	VCenter             string    `bun:"vcenter"`
	Cluster             string    `bun:"cluster"`
	Model               string    `bun:"model"`
	DeviceClass         string    `bun:"device_class"`
	PolicyTag           string    `bun:"policy_tag"`
	PolicyTagModifiedAt time.Time `bun:"policy_tag_modified_at,nullzero"`
	FirmwareVersion     string    `bun:"firmware_version"`
	Reachability        string    `bun:"reachability,notnull"`
	Maintenance         string    `bun:"maintenance,notnull"`
	Stale               bool      `bun:"stale,notnull,default:false"`
	UnreachableCount    int       `bun:"unreachable_count,notnull,default:0"`
	LastSeen            time.Time `bun:"last_seen,nullzero"`
	LastMessage         string    `bun:"last_message"`
	CreatedAt           time.Time `bun:"created_at,notnull,default:now()"`
	UpdatedAt           time.Time `bun:"updated_at,notnull,default:now()"`
}

// FromHost converts a domain host into its persisted form.
func FromHost(h *host.Host) *Host {
	return &Host{
		Hostname:            h.Hostname,
		ControllerIP:        IPAddr(h.ControllerIP),
		VCenter:             h.VCenter,
		Cluster:             h.Cluster,
		Model:               h.Model,
		DeviceClass:         h.DeviceClass,
		PolicyTag:           h.PolicyTag,
		PolicyTagModifiedAt: h.PolicyTagModifiedAt,
		FirmwareVersion:     h.FirmwareVersion,
		Reachability:        string(h.Reachability),
		Maintenance:         string(h.Maintenance),
		Stale:               h.Stale,
		UnreachableCount:    h.UnreachableCount,
		LastSeen:            h.LastSeen,
		LastMessage:         h.LastMessage,
	}
}

// ToHost converts the persisted row back into the domain object.
func (m *Host) ToHost() *host.Host {
	return &host.Host{
		Hostname:            m.Hostname,
		ControllerIP:        m.ControllerIP.IP(),
		VCenter:             m.VCenter,
		Cluster:             m.Cluster,
		Model:               m.Model,
		DeviceClass:         m.DeviceClass,
		PolicyTag:           m.PolicyTag,
		PolicyTagModifiedAt: m.PolicyTagModifiedAt,
		FirmwareVersion:     m.FirmwareVersion,
		Reachability:        host.Reachability(m.Reachability),
		Maintenance:         host.MaintenanceState(m.Maintenance),
		Stale:               m.Stale,
		UnreachableCount:    m.UnreachableCount,
		LastSeen:            m.LastSeen,
		LastMessage:         m.LastMessage,
	}
}

// UpsertHost inserts or replaces a host row keyed by hostname.
func UpsertHost(ctx context.Context, idb bun.IDB, m *Host) error {
	now := time.Now()
	m.UpdatedAt = now
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	_, err := idb.NewInsert().
		Model(m).
		On("CONFLICT (hostname) DO UPDATE").
		Set("controller_ip = EXCLUDED.controller_ip, vcenter = EXCLUDED.vcenter, cluster = EXCLUDED.cluster, model = EXCLUDED.model, device_class = EXCLUDED.device_class, policy_tag = EXCLUDED.policy_tag, policy_tag_modified_at = EXCLUDED.policy_tag_modified_at, firmware_version = EXCLUDED.firmware_version, reachability = EXCLUDED.reachability, maintenance = EXCLUDED.maintenance, stale = EXCLUDED.stale, unreachable_count = EXCLUDED.unreachable_count, last_seen = EXCLUDED.last_seen, last_message = EXCLUDED.last_message, updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// GetHost fetches a host row by hostname.
func GetHost(ctx context.Context, idb bun.IDB, hostname string) (*Host, error) {
	var m Host
	err := idb.NewSelect().
		Model(&m).
		Where("hostname = ?", hostname).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListHosts returns all host rows ordered by hostname.
func ListHosts(ctx context.Context, idb bun.IDB) ([]Host, error) {
	var hosts []Host
	err := idb.NewSelect().Model(&hosts).Order("hostname ASC").Scan(ctx)
	return hosts, err
}

// ListHostsByPolicyTag returns host rows carrying the given policy tag.
func ListHostsByPolicyTag(ctx context.Context, idb bun.IDB, tag string) ([]Host, error) {
	var hosts []Host
	err := idb.NewSelect().
		Model(&hosts).
		Where("policy_tag = ?", tag).
		Order("hostname ASC").
		Scan(ctx)
	return hosts, err
}

// DeleteHost removes a host row by hostname.
func DeleteHost(ctx context.Context, idb bun.IDB, hostname string) error {
	_, err := idb.NewDelete().
		Model((*Host)(nil)).
		Where("hostname = ?", hostname).
		Exec(ctx)
	return err
}
