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
// Package credential provides a username/password pair whose password value is
// redacted from String() and log output.
package credential

import (
	"os"
	"strings"
)

// Password wraps a secret string so that accidental formatting does not leak it.
type Password struct {
	Value string `json:"-"`
}

func (p Password) String() string {
	return "********"
}

// IsSet reports whether a non-empty password value is present.
func (p Password) IsSet() bool {
	return strings.TrimSpace(p.Value) != ""
}

// Credential holds a username and a redacted password.
type Credential struct {
	User     string   `json:"user"`
	Password Password `json:"-"`
}

// New creates a Credential from plain username and password strings.
func New(user, password string) *Credential {
	return &Credential{
		User:     user,
		Password: Password{Value: password},
	}
}

// NewFromEnv creates a Credential by reading the named environment variables.
func NewFromEnv(userVar, passwordVar string) *Credential {
	return New(os.Getenv(userVar), os.Getenv(passwordVar))
}

func (c *Credential) String() string {
	return c.User + ":" + c.Password.String()
}

// Validate reports whether both fields are populated.
func (c *Credential) Validate() bool {
	return c != nil && strings.TrimSpace(c.User) != "" && c.Password.IsSet()
}

// Patch overwrites this credential's fields with the non-empty fields of the
// other credential. Returns true if anything changed.
func (c *Credential) Patch(to *Credential) bool {
	if c == nil || to == nil {
		return false
	}

	patched := false
	if to.User != "" && to.User != c.User {
		c.User = to.User
		patched = true
	}

	if to.Password.IsSet() && to.Password.Value != c.Password.Value {
		c.Password = to.Password
		patched = true
	}

	return patched
}
