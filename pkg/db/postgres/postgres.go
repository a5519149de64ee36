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
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/firmware-maestro/maestro/pkg/db"
)

// Postgres wraps a Bun DB connection and error checker for Postgres-specific behavior.
type Postgres struct {
	dbName       string
	db           *bun.DB
	errorChecker db.ErrorChecker
}

// New initializes a Postgres connection using a pgx pool and returns a helper.
func New(ctx context.Context, c db.Config) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, c.BuildDSN())
	if err != nil {
		return nil, err
	}

	return &Postgres{
		dbName:       c.DBName,
		db:           bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New()),
		errorChecker: &PostgresErrorChecker{},
	}, nil
}

// Close closes the underlying Bun DB.
func (p *Postgres) Close(ctx context.Context) error {
	return p.db.Close()
}

// BeginTx begins a new transaction with default options.
func (p *Postgres) BeginTx(ctx context.Context) (bun.Tx, error) {
	return p.db.BeginTx(ctx, &sql.TxOptions{})
}

// RunInTx executes a function within a transaction.
func (p *Postgres) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, tx bun.Tx) error,
) error {
	return p.db.RunInTx(ctx, &sql.TxOptions{}, fn)
}

// ErrorChecker returns a Postgres error classifier.
func (p *Postgres) ErrorChecker() db.ErrorChecker {
	return p.errorChecker
}

// DB exposes the underlying Bun DB.
func (p *Postgres) DB() *bun.DB {
	return p.db
}

// PostgresErrorChecker classifies common Postgres errors such as no rows and unique constraint violations.
type PostgresErrorChecker struct{}

func (checker *PostgresErrorChecker) IsErrNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (checker *PostgresErrorChecker) IsUniqueConstraintError(err error) bool {
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// 23505 is the Postgres unique_violation error code
			return pgErr.Code == "23505"
		}
	}

	return false
}
