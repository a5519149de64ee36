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
// Package hostlock provides per-host exclusive lease locks. A lease carries a
// monotonically increasing generation so a stale lease left by a crashed
// worker can be forcibly reclaimed after its maximum hold duration without a
// release by the old holder appearing valid afterwards.
package hostlock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrHeld is returned by Acquire when another holder currently owns the lease.
var ErrHeld = errors.New("host lock is held")

// Token proves ownership of a lease. Release with a token from an older
// generation is a no-op, so a reclaimed lease cannot be stolen back.
type Token struct {
	Host       string
	Holder     string
	Generation uint64
	AcquiredAt time.Time
}

type lease struct {
	holder     string
	generation uint64
	acquiredAt time.Time
}

// Manager hands out at most one live lease per host.
type Manager struct {
	mu      sync.Mutex
	leases  map[string]*lease
	gens    map[string]uint64
	maxHold time.Duration
	now     func() time.Time

	// Reclaimed, when set, is invoked (outside the lock) with the previous
	// holder whenever a stale lease is forcibly reclaimed.
	Reclaimed func(host, holder string)
}

// NewManager creates a lock manager. maxHold bounds how long a lease may be
// held before it is treated as abandoned; zero disables reclaim.
func NewManager(maxHold time.Duration) *Manager {
	return &Manager{
		leases:  make(map[string]*lease),
		gens:    make(map[string]uint64),
		maxHold: maxHold,
		now:     time.Now,
	}
}

// Acquire takes the host's lease for the given holder. Returns ErrHeld if a
// live lease exists. A lease past maxHold is reclaimed: the generation is
// bumped and the new holder gets a fresh token.
func (m *Manager) Acquire(host, holder string) (Token, error) {
	var reclaimedFrom string

	m.mu.Lock()
	if l, ok := m.leases[host]; ok {
		if m.maxHold <= 0 || m.now().Sub(l.acquiredAt) < m.maxHold {
			m.mu.Unlock()
			return Token{}, fmt.Errorf("%w by %s", ErrHeld, l.holder)
		}
		reclaimedFrom = l.holder
	}

	m.gens[host]++
	l := &lease{
		holder:     holder,
		generation: m.gens[host],
		acquiredAt: m.now(),
	}
	m.leases[host] = l

	token := Token{
		Host:       host,
		Holder:     holder,
		Generation: l.generation,
		AcquiredAt: l.acquiredAt,
	}
	reclaimedCb := m.Reclaimed
	m.mu.Unlock()

	if reclaimedFrom != "" && reclaimedCb != nil {
		reclaimedCb(host, reclaimedFrom)
	}

	return token, nil
}

// Release frees the lease if the token is still the current generation.
// Stale tokens are ignored.
func (m *Manager) Release(token Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[token.Host]
	if !ok || l.generation != token.Generation {
		return
	}

	delete(m.leases, token.Host)
}

// Holder returns the current lease holder for a host, if any.
func (m *Manager) Holder(host string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[host]
	if !ok {
		return "", false
	}

	return l.holder, true
}
