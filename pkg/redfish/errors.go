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
package redfish

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
)

// Sentinel errors classifying protocol failures. Callers branch on these with
// errors.Is; raw transport errors stay wrapped underneath.
var (
	ErrUnauthorized        = errors.New("controller rejected credentials")
	ErrUnreachable         = errors.New("controller unreachable")
	ErrTLS                 = errors.New("controller TLS negotiation failed")
	ErrChecksumMismatch    = errors.New("artifact checksum mismatch")
	ErrInsufficientStorage = errors.New("controller has insufficient storage for image")
	ErrBusy                = errors.New("controller busy")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable (connection resets, 5xx responses).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether the error was classified as a transient network
// failure. Authentication and validation errors are never transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// classify maps a raw transport error onto the package's sentinel taxonomy.
// Network-level failures come back transient so the retry layer picks them up.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var recErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &recErr) {
		return errors.Join(ErrTLS, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(errors.Join(ErrUnreachable, err))
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"), strings.Contains(strings.ToLower(msg), "unauthorized"):
		return errors.Join(ErrUnauthorized, err)
	case strings.Contains(msg, "507"):
		return errors.Join(ErrInsufficientStorage, err)
	case strings.Contains(msg, "409"):
		return errors.Join(ErrBusy, err)
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return Transient(errors.Join(ErrUnreachable, err))
	case strings.Contains(strings.ToLower(msg), "connection refused"),
		strings.Contains(strings.ToLower(msg), "connection reset"),
		strings.Contains(strings.ToLower(msg), "no route to host"):
		return Transient(errors.Join(ErrUnreachable, err))
	}

	return errors.Join(ErrUnreachable, err)
}
