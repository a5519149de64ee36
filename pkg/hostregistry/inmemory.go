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
	"fmt"
	"sort"
	"sync"

	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// MemRegistry is a map-backed registry. All reads and writes copy, so callers
// never share a Host pointer with the store.
type MemRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*host.Host
}

// NewMemRegistry creates an empty in-memory registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		hosts: make(map[string]*host.Host),
	}
}

func (r *MemRegistry) Start(ctx context.Context) error { return nil }
func (r *MemRegistry) Stop(ctx context.Context) error  { return nil }

func (r *MemRegistry) Upsert(ctx context.Context, h *host.Host) error {
	if h == nil || h.Hostname == "" {
		return fmt.Errorf("host with a hostname is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.hosts[h.Hostname] = h.Clone()
	return nil
}

func (r *MemRegistry) Get(ctx context.Context, hostname string) (*host.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hosts[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	return h.Clone(), nil
}

func (r *MemRegistry) List(ctx context.Context) ([]*host.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*host.Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Hostname < out[k].Hostname })
	return out, nil
}

func (r *MemRegistry) ListByPolicyTag(ctx context.Context, tag string) ([]*host.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*host.Host
	for _, h := range r.hosts {
		if h.PolicyTag == tag {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Hostname < out[k].Hostname })
	return out, nil
}

func (r *MemRegistry) Delete(ctx context.Context, hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hosts[hostname]; !ok {
		return fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	delete(r.hosts, hostname)
	return nil
}

func (r *MemRegistry) SetMaintenance(ctx context.Context, hostname string, state host.MaintenanceState) error {
	return r.mutate(hostname, func(h *host.Host) {
		h.Maintenance = state
	})
}

func (r *MemRegistry) SetFirmwareVersion(ctx context.Context, hostname, version string) error {
	return r.mutate(hostname, func(h *host.Host) {
		h.FirmwareVersion = version
	})
}

func (r *MemRegistry) SetMessage(ctx context.Context, hostname, message string) error {
	return r.mutate(hostname, func(h *host.Host) {
		h.LastMessage = message
	})
}

func (r *MemRegistry) mutate(hostname string, fn func(h *host.Host)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hosts[hostname]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	fn(h)
	return nil
}
