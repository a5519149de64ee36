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
// Package host defines the Host domain object: the identity of a managed
// server (hostname plus out-of-band controller address), its virtualization
// cluster membership, grouping/policy tag, and last-known firmware,
// reachability, and maintenance state.
package host

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Reachability is the last observed probe result for a host's management
// controller.
type Reachability string

const (
	ReachabilityUnknown     Reachability = "Unknown"
	ReachabilityReachable   Reachability = "Reachable"
	ReachabilityUnreachable Reachability = "Unreachable"
)

// MaintenanceState tracks the host's position in the virtualization plane's
// maintenance mode lifecycle. Transitions happen only through the maintenance
// coordinator path.
type MaintenanceState string

const (
	MaintenanceNone     MaintenanceState = "None"
	MaintenanceEntering MaintenanceState = "Entering"
	MaintenanceIn       MaintenanceState = "InMaintenance"
	MaintenanceExiting  MaintenanceState = "Exiting"
)

// Host specifies a managed server: its hostname, management controller IP,
// cluster membership, policy tag, and last-known state. Hostname is the
// identity key throughout the orchestrator.
type Host struct {
	Hostname     string `json:"hostname"`
	ControllerIP net.IP `json:"controller_ip"`
	VCenter      string `json:"vcenter,omitempty"`
	Cluster      string `json:"cluster,omitempty"`
	Model        string `json:"model,omitempty"`
	DeviceClass  string `json:"device_class,omitempty"`

	// PolicyTag mirrors the virtualization plane's custom attribute. The
	// modification time drives last-writer-wins reconciliation.
	PolicyTag           string    `json:"policy_tag,omitempty"`
	PolicyTagModifiedAt time.Time `json:"policy_tag_modified_at,omitempty"`

	FirmwareVersion string           `json:"firmware_version,omitempty"`
	Reachability    Reachability     `json:"reachability"`
	Maintenance     MaintenanceState `json:"maintenance"`
	Stale           bool             `json:"stale"`

	LastSeen    time.Time `json:"last_seen,omitempty"`
	LastMessage string    `json:"last_message,omitempty"`

	// UnreachableCount is the consecutive failed reachability probe streak;
	// it drives Stale marking and survives registry round-trips.
	UnreachableCount int `json:"-"`
}

// New creates a Host from a hostname and management controller IP string.
func New(hostname, controllerIP string) (*Host, error) {
	if strings.TrimSpace(hostname) == "" {
		return nil, fmt.Errorf("hostname is required")
	}

	ip := net.ParseIP(controllerIP)
	if ip == nil {
		return nil, fmt.Errorf("could not parse valid controller IP from: %s", controllerIP)
	}

	return &Host{
		Hostname:     hostname,
		ControllerIP: ip,
		Reachability: ReachabilityUnknown,
		Maintenance:  MaintenanceNone,
	}, nil
}

func (h *Host) String() string {
	return fmt.Sprintf("%s (controller %s)", h.Hostname, h.ControllerIP)
}

// MarkSeen records a successful observation of the host, resetting the
// unreachable streak and any stale marking.
func (h *Host) MarkSeen(now time.Time) {
	h.LastSeen = now
	h.Reachability = ReachabilityReachable
	h.Stale = false
	h.UnreachableCount = 0
}

// MarkUnreachable records a failed probe. After threshold consecutive
// failures the host is marked stale; it is never removed automatically.
func (h *Host) MarkUnreachable(threshold int) {
	h.Reachability = ReachabilityUnreachable
	h.UnreachableCount++
	if threshold > 0 && h.UnreachableCount >= threshold {
		h.Stale = true
	}
}

// SetPolicyTag sets the policy tag and its modification time.
func (h *Host) SetPolicyTag(tag string, modifiedAt time.Time) {
	h.PolicyTag = tag
	h.PolicyTagModifiedAt = modifiedAt
}

// InCluster reports whether the host is a member of the virtualization plane
// (and therefore requires maintenance mode coordination during updates).
func (h *Host) InCluster() bool {
	return h.VCenter != ""
}

// Clone returns a deep copy of the host.
func (h *Host) Clone() *Host {
	c := *h
	if h.ControllerIP != nil {
		c.ControllerIP = append(net.IP(nil), h.ControllerIP...)
	}
	return &c
}
