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
	"database/sql/driver"
	"fmt"
	"net"
)

// IPAddr wraps net.IP to provide proper SQL driver support for PostgreSQL inet type.
type IPAddr net.IP

// Value implements driver.Valuer for IPAddr.
// Converts the IP address to a string format that PostgreSQL's inet type expects.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip == nil {
		return nil, nil
	}
	return net.IP(ip).String(), nil
}

// Scan implements sql.Scanner for IPAddr.
// Handles both string and []byte inputs from PostgreSQL.
func (ip *IPAddr) Scan(src interface{}) error {
	if src == nil {
		*ip = nil
		return nil
	}

	var ipStr string
	switch v := src.(type) {
	case string:
		ipStr = v
	case []byte:
		ipStr = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", src)
	}

	parsed := net.ParseIP(ipStr)
	if parsed == nil {
		return fmt.Errorf("failed to parse IP address %q", ipStr)
	}
	*ip = IPAddr(parsed)
	return nil
}

// IP returns the underlying net.IP.
func (ip IPAddr) IP() net.IP {
	return net.IP(ip)
}

// String returns the IP address as a string.
func (ip IPAddr) String() string {
	return net.IP(ip).String()
}
