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

	"github.com/uptrace/bun"

	"github.com/firmware-maestro/maestro/pkg/db"
	"github.com/firmware-maestro/maestro/pkg/db/model"
	"github.com/firmware-maestro/maestro/pkg/db/postgres"
	"github.com/firmware-maestro/maestro/pkg/objects/host"
)

// PostgresRegistry persists hosts in Postgres through Bun.
type PostgresRegistry struct {
	pg *postgres.Postgres
}

// NewPostgresRegistry connects to the database; table creation happens in
// Start.
func NewPostgresRegistry(ctx context.Context, cfg db.Config) (*PostgresRegistry, error) {
	pg, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}
	return &PostgresRegistry{pg: pg}, nil
}

func (r *PostgresRegistry) Start(ctx context.Context) error {
	for _, m := range []interface{}{(*model.Host)(nil), (*model.JobRecord)(nil)} {
		_, err := r.pg.DB().NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("could not create table: %w", err)
		}
	}
	return nil
}

func (r *PostgresRegistry) Stop(ctx context.Context) error {
	return r.pg.Close(ctx)
}

// DB exposes the underlying connection so the job history store can share it.
func (r *PostgresRegistry) DB() *postgres.Postgres {
	return r.pg
}

func (r *PostgresRegistry) Upsert(ctx context.Context, h *host.Host) error {
	if h == nil || h.Hostname == "" {
		return fmt.Errorf("host with a hostname is required")
	}
	return model.UpsertHost(ctx, r.pg.DB(), model.FromHost(h))
}

func (r *PostgresRegistry) Get(ctx context.Context, hostname string) (*host.Host, error) {
	m, err := model.GetHost(ctx, r.pg.DB(), hostname)
	if err != nil {
		if r.pg.ErrorChecker().IsErrNoRows(err) {
			return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
		}
		return nil, err
	}
	return m.ToHost(), nil
}

func (r *PostgresRegistry) List(ctx context.Context) ([]*host.Host, error) {
	rows, err := model.ListHosts(ctx, r.pg.DB())
	if err != nil {
		return nil, err
	}
	return toHosts(rows), nil
}

func (r *PostgresRegistry) ListByPolicyTag(ctx context.Context, tag string) ([]*host.Host, error) {
	rows, err := model.ListHostsByPolicyTag(ctx, r.pg.DB(), tag)
	if err != nil {
		return nil, err
	}
	return toHosts(rows), nil
}

func (r *PostgresRegistry) Delete(ctx context.Context, hostname string) error {
	return model.DeleteHost(ctx, r.pg.DB(), hostname)
}

func (r *PostgresRegistry) SetMaintenance(ctx context.Context, hostname string, state host.MaintenanceState) error {
	return r.mutate(ctx, hostname, func(h *host.Host) {
		h.Maintenance = state
	})
}

func (r *PostgresRegistry) SetFirmwareVersion(ctx context.Context, hostname, version string) error {
	return r.mutate(ctx, hostname, func(h *host.Host) {
		h.FirmwareVersion = version
	})
}

func (r *PostgresRegistry) SetMessage(ctx context.Context, hostname, message string) error {
	return r.mutate(ctx, hostname, func(h *host.Host) {
		h.LastMessage = message
	})
}

// mutate runs a read-modify-write of one host inside a transaction.
func (r *PostgresRegistry) mutate(ctx context.Context, hostname string, fn func(h *host.Host)) error {
	return r.pg.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		m, err := model.GetHost(ctx, tx, hostname)
		if err != nil {
			if r.pg.ErrorChecker().IsErrNoRows(err) {
				return fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
			}
			return err
		}

		h := m.ToHost()
		fn(h)
		return model.UpsertHost(ctx, tx, model.FromHost(h))
	})
}

func toHosts(rows []model.Host) []*host.Host {
	out := make([]*host.Host, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToHost())
	}
	return out
}
