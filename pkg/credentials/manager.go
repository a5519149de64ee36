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
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
)

// ErrNotFound means no credentials are stored for the host.
var ErrNotFound = errors.New("no credentials stored for host")

// HostCredentials bundles the two credentials a host update needs: the
// management controller login and the virtualization plane login.
type HostCredentials struct {
	Controller *credential.Credential
	VSphere    *credential.Credential
}

// Manager resolves credentials by host identity.
type Manager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Put(ctx context.Context, hostname string, creds HostCredentials) error
	Get(ctx context.Context, hostname string) (*HostCredentials, error)
}

// New creates a new credential Manager based on the given configuration.
func New(ctx context.Context, c *Config) (Manager, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.DataStoreType {
	case DatastoreTypeVault:
		log.Printf("Initializing Vault credential manager")
		return c.VaultConfig.NewManager()
	case DatastoreTypeInMemory:
		log.Printf("Initializing in-memory credential manager")
		return NewMemManager(), nil
	}

	return nil, fmt.Errorf("unsupported credential datastore type %s", c.DataStoreType)
}
