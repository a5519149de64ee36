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
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/firmware-maestro/maestro/pkg/db/model"
	"github.com/firmware-maestro/maestro/pkg/db/postgres"
	"github.com/firmware-maestro/maestro/pkg/jobs"
)

// ErrJobNotFound means no history record exists for the job ID.
var ErrJobNotFound = errors.New("job not found")

// HistoryStore persists terminal job records.
type HistoryStore interface {
	Record(ctx context.Context, snap jobs.Snapshot) error
	Job(ctx context.Context, id string) (*model.JobRecord, error)
	ForHost(ctx context.Context, hostname string) ([]model.JobRecord, error)
}

func recordFromSnapshot(snap jobs.Snapshot) *model.JobRecord {
	return &model.JobRecord{
		ID:          snap.ID,
		Hostname:    snap.Hostname,
		ArtifactID:  snap.ArtifactID,
		State:       string(snap.State),
		Reason:      string(snap.Reason),
		Attempts:    snap.Attempts,
		DryRun:      snap.DryRun,
		CreatedAt:   snap.CreatedAt,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	}
}

// MemHistory keeps job records in memory, newest retained up to a cap.
type MemHistory struct {
	mu      sync.RWMutex
	records map[string]*model.JobRecord
	order   []string
	cap     int
}

// NewMemHistory creates an in-memory history keeping at most cap records;
// zero means unbounded.
func NewMemHistory(cap int) *MemHistory {
	return &MemHistory{
		records: make(map[string]*model.JobRecord),
		cap:     cap,
	}
}

func (h *MemHistory) Record(ctx context.Context, snap jobs.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.records[snap.ID]; !ok {
		h.order = append(h.order, snap.ID)
	}
	h.records[snap.ID] = recordFromSnapshot(snap)

	if h.cap > 0 && len(h.order) > h.cap {
		evict := h.order[0]
		h.order = h.order[1:]
		delete(h.records, evict)
	}
	return nil
}

func (h *MemHistory) Job(ctx context.Context, id string) (*model.JobRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.records[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

func (h *MemHistory) ForHost(ctx context.Context, hostname string) ([]model.JobRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []model.JobRecord
	for _, rec := range h.records {
		if rec.Hostname == hostname {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// PostgresHistory persists job records through the shared database connection.
type PostgresHistory struct {
	pg *postgres.Postgres
}

// NewPostgresHistory wraps an existing connection; the registry's Start
// creates the table.
func NewPostgresHistory(pg *postgres.Postgres) *PostgresHistory {
	return &PostgresHistory{pg: pg}
}

func (h *PostgresHistory) Record(ctx context.Context, snap jobs.Snapshot) error {
	rec := recordFromSnapshot(snap)

	err := model.InsertJobRecord(ctx, h.pg.DB(), rec)
	if err != nil && h.pg.ErrorChecker().IsUniqueConstraintError(err) {
		return model.UpdateJobRecord(ctx, h.pg.DB(), rec)
	}
	return err
}

func (h *PostgresHistory) Job(ctx context.Context, id string) (*model.JobRecord, error) {
	rec, err := model.GetJobRecord(ctx, h.pg.DB(), id)
	if err != nil {
		if h.pg.ErrorChecker().IsErrNoRows(err) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (h *PostgresHistory) ForHost(ctx context.Context, hostname string) ([]model.JobRecord, error) {
	return model.ListJobRecordsForHost(ctx, h.pg.DB(), hostname)
}
