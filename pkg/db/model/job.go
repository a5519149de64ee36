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
)

// JobRecord is the persisted history of one update job run. Terminal states
// only carry a failure reason.
type JobRecord struct {
	bun.BaseModel `bun:"table:job_history,alias:j"`

	ID          string    `bun:"id,pk,notnull"`
	Hostname    string    `bun:"hostname,notnull"`
	ArtifactID  string    `bun:"artifact_id,notnull"`
	State       string    `bun:"state,notnull"`
	Reason      string    `bun:"reason"`
	Attempts    int       `bun:"attempts,notnull,default:0"`
	DryRun      bool      `bun:"dry_run,notnull,default:false"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:now()"`
	StartedAt   time.Time `bun:"started_at,nullzero"`
	CompletedAt time.Time `bun:"completed_at,nullzero"`
}

// InsertJobRecord persists a new job run.
func InsertJobRecord(ctx context.Context, idb bun.IDB, rec *JobRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := idb.NewInsert().Model(rec).Exec(ctx)
	return err
}

// UpdateJobRecord updates the mutable fields of a job run.
func UpdateJobRecord(ctx context.Context, idb bun.IDB, rec *JobRecord) error {
	_, err := idb.NewUpdate().
		Model(rec).
		Column("state", "reason", "attempts", "started_at", "completed_at").
		WherePK().
		Exec(ctx)
	return err
}

// GetJobRecord fetches one job run by ID.
func GetJobRecord(ctx context.Context, idb bun.IDB, id string) (*JobRecord, error) {
	var rec JobRecord
	err := idb.NewSelect().Model(&rec).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListJobRecordsForHost lists job runs for a host, newest first.
func ListJobRecordsForHost(ctx context.Context, idb bun.IDB, hostname string) ([]JobRecord, error) {
	var recs []JobRecord
	err := idb.NewSelect().
		Model(&recs).
		Where("hostname = ?", hostname).
		Order("created_at DESC").
		Scan(ctx)
	return recs, err
}
