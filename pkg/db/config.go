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
// Package db holds database connection configuration shared by the persistent
// registry and job history backends.
package db

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/firmware-maestro/maestro/pkg/common/credential"
)

// Config represents the configuration needed to connect to a database.
type Config struct {
	Host              string
	Port              int
	DBName            string
	Credential        credential.Credential
	CACertificatePath string
}

// Validate checks if the Config fields are set correctly.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be between (0, 65535]")
	}

	if c.DBName == "" {
		return errors.New("database name is required")
	}

	if !c.Credential.Validate() {
		return errors.New("valid credential is required")
	}

	return nil
}

// BuildDSN builds the Data Source Name (DSN) string for connecting to
// the database.
func (c *Config) BuildDSN() string {
	dsn := fmt.Sprintf(
		"postgres://%v:%v@%v:%v/%v?sslmode=",
		c.Credential.User,
		c.Credential.Password.Value,
		c.Host,
		c.Port,
		c.DBName,
	)

	if len(c.CACertificatePath) > 0 {
		// sslmode=prefer rather than verify-full to tolerate expired server certs
		dsn += fmt.Sprintf("prefer&sslrootcert=%v", c.CACertificatePath)
	} else {
		dsn += "disable"
	}

	return dsn
}

// BuildConfigFromEnv builds a Config from environment variables
// (DB_HOST, PGPORT, DB_NAME, DB_USER, DB_PASSWORD, DB_CA_CERT_PATH).
func BuildConfigFromEnv() (Config, error) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}

	portStr := os.Getenv("PGPORT")
	if portStr == "" {
		portStr = "5432"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PGPORT: %v", err)
	}

	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "maestro"
	}

	user := os.Getenv("DB_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	return Config{
		Host:              host,
		Port:              port,
		DBName:            dbName,
		Credential:        *credential.New(user, password),
		CACertificatePath: os.Getenv("DB_CA_CERT_PATH"),
	}, nil
}

// ErrorChecker classifies backend-specific database errors.
type ErrorChecker interface {
	IsErrNoRows(err error) bool
	IsUniqueConstraintError(err error) bool
}
