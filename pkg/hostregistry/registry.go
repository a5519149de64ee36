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
// Package hostregistry is the authoritative inventory of managed hosts,
// keyed by hostname. It ships an in-memory backend for tests and small
// deployments and a Postgres backend for durability.
package hostregistry

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/firmware-maestro/maestro/pkg/db"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// ErrHostNotFound means the registry holds no host by that name.
var ErrHostNotFound = errors.New("host not found in registry")

// BackendType selects the registry storage backend.
type BackendType string

const (
	BackendTypeInMemory BackendType = "in-memory"
	BackendTypePostgres BackendType = "postgres"
)

// Registry stores and mutates managed hosts. Hosts are never removed
// automatically; operators delete them explicitly.
type Registry interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Upsert(ctx context.Context, h *host.Host) error
	Get(ctx context.Context, hostname string) (*host.Host, error)
	List(ctx context.Context) ([]*host.Host, error)
	ListByPolicyTag(ctx context.Context, tag string) ([]*host.Host, error)
	Delete(ctx context.Context, hostname string) error

	SetMaintenance(ctx context.Context, hostname string, state host.MaintenanceState) error
	SetFirmwareVersion(ctx context.Context, hostname, version string) error
	SetMessage(ctx context.Context, hostname, message string) error
}

// Config selects and configures the registry backend.
type Config struct {
	BackendType BackendType
	Postgres    *db.Config
}

// Validate checks backend selection and backend-specific settings.
func (c *Config) Validate() error {
	switch c.BackendType {
	case BackendTypeInMemory:
		return nil
	case BackendTypePostgres:
		if c.Postgres == nil {
			return errors.New("postgres configuration is required")
		}
		return c.Postgres.Validate()
	case "":
		return errors.New("registry backend type is required")
	default:
		return fmt.Errorf("unsupported registry backend type %s", c.BackendType)
	}
}

// New creates a host registry for the configured backend.
func New(ctx context.Context, c *Config) (Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.BackendType {
	case BackendTypeInMemory:
		log.Printf("Initializing in-memory host registry")
		return NewMemRegistry(), nil
	case BackendTypePostgres:
		log.Printf("Initializing postgres host registry")
		return NewPostgresRegistry(ctx, *c.Postgres)
	}

	return nil, fmt.Errorf("unsupported registry backend type %s", c.BackendType)
}
