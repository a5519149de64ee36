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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

func TestResolveTag(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := map[string]struct {
		local        string
		localMod     time.Time
		external     string
		externalMod  time.Time
		wantTag      string
		wantWriteExt bool
		wantWriteLoc bool
	}{
		"equal tags are a no-op": {
			local:       "prod",
			localMod:    base,
			external:    "prod",
			externalMod: base.Add(time.Hour),
			wantTag:     "prod",
		},
		"unknown external mtime means external wins": {
			local:        "prod",
			localMod:     base,
			external:     "canary",
			wantTag:      "canary",
			wantWriteLoc: true,
		},
		"newer local wins and pushes out": {
			local:        "canary",
			localMod:     base.Add(time.Hour),
			external:     "prod",
			externalMod:  base,
			wantTag:      "canary",
			wantWriteExt: true,
		},
		"newer external wins and pulls in": {
			local:        "prod",
			localMod:     base,
			external:     "canary",
			externalMod:  base.Add(time.Hour),
			wantTag:      "canary",
			wantWriteLoc: true,
		},
		"tie goes to external": {
			local:        "prod",
			localMod:     base,
			external:     "canary",
			externalMod:  base,
			wantTag:      "canary",
			wantWriteLoc: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			tag, writeExt, writeLoc := resolveTag(tc.local, tc.localMod, tc.external, tc.externalMod)
			assert.Equal(t, tc.wantTag, tag)
			assert.Equal(t, tc.wantWriteExt, writeExt)
			assert.Equal(t, tc.wantWriteLoc, writeLoc)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"valid config gets defaults": {
			cfg: Config{
				URL:        "https://vcenter.example.com/sdk",
				Credential: credential.New("admin", "secret"),
			},
		},
		"missing URL is rejected": {
			cfg: Config{
				Credential: credential.New("admin", "secret"),
			},
			wantErr: true,
		},
		"missing credentials are rejected": {
			cfg: Config{
				URL: "https://vcenter.example.com/sdk",
			},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 10*time.Minute, tc.cfg.EvacuationTimeout)
			assert.Equal(t, "HOST_POLICY", tc.cfg.PolicyAttribute)
		})
	}
}

func TestNopCoordinator(t *testing.T) {
	ctx := context.Background()
	var c NopCoordinator

	assert.NoError(t, c.EnterMaintenance(ctx, "esx-01"))
	assert.NoError(t, c.ExitMaintenance(ctx, "esx-01"))

	h := &host.Host{Hostname: "esx-01", PolicyTag: "prod"}
	tag, err := c.SyncGroupAttribute(ctx, h)
	assert.NoError(t, err)
	assert.Equal(t, "prod", tag)

	discovered, err := c.DiscoverHosts(ctx)
	assert.NoError(t, err)
	assert.Empty(t, discovered)
}
