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
package credentials

import (
	"context"
	"fmt"
	"sync"
)

// MemManager keeps credentials in process memory. Intended for tests and
// single-node deployments without a Vault.
type MemManager struct {
	mu    sync.RWMutex
	creds map[string]HostCredentials
}

// NewMemManager creates an empty in-memory credential manager.
func NewMemManager() *MemManager {
	return &MemManager{creds: make(map[string]HostCredentials)}
}

func (m *MemManager) Start(ctx context.Context) error { return nil }
func (m *MemManager) Stop(ctx context.Context) error  { return nil }

// Put stores credentials for a host, replacing any previous entry.
func (m *MemManager) Put(ctx context.Context, hostname string, creds HostCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[hostname] = creds
	return nil
}

// Get resolves credentials for a host.
func (m *MemManager) Get(ctx context.Context, hostname string) (*HostCredentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds, ok := m.creds[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}

	out := creds
	return &out, nil
}
